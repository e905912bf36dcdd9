// Package runner assembles report records from a mail folder: it lists the
// folder, fetches and decodes every message, keeps those from the target
// year and labels them with the classifier.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/spam-report/classifier"
	"github.com/dhcgn/spam-report/decoder"
	"github.com/dhcgn/spam-report/filter"
	"github.com/dhcgn/spam-report/mailbox"
	"github.com/dhcgn/spam-report/model"
	"github.com/dhcgn/spam-report/stats"
)

// Policy decides what a fetch failure does to the run.
type Policy string

const (
	// PolicyAbort stops the run at the first fetch failure.
	PolicyAbort Policy = "abort"
	// PolicySkip records the failure and carries on.
	PolicySkip Policy = "skip"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAbort, nil
	case PolicyAbort, PolicySkip:
		return p, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want abort or skip)", s)
	}
}

type Options struct {
	Folder string
	Year   int
	// Workers is the number of concurrent sessions; values below 1 mean 1.
	Workers int
	OnError Policy
	// FetchTimeout bounds a single fetch; zero disables it.
	FetchTimeout time.Duration
}

// Result holds the records in listing order plus the messages that failed
// under PolicySkip.
type Result struct {
	Records  []model.OutputRecord
	Outcomes []model.Outcome
	Failures []model.Failure
	Summary  stats.Summary
}

type Runner struct {
	opts    Options
	dial    mailbox.Dialer
	oracle  classifier.Oracle
	decoder *decoder.Decoder
	filter  *filter.Filter
	logger  *slog.Logger

	subsMu sync.Mutex
	subs   []chan stats.Event

	statsWG   sync.WaitGroup
	collector *stats.Collector

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
}

func New(opts Options, dial mailbox.Dialer, oracle classifier.Oracle, dec *decoder.Decoder, f *filter.Filter, logger *slog.Logger) (*Runner, error) {
	if dial == nil {
		return nil, fmt.Errorf("runner needs a mailbox dialer")
	}
	if oracle == nil {
		return nil, fmt.Errorf("runner needs a classifier")
	}
	if strings.TrimSpace(opts.Folder) == "" {
		return nil, fmt.Errorf("runner needs a folder")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.OnError == "" {
		opts.OnError = PolicyAbort
	}
	if dec == nil {
		dec = decoder.New(nil, logger)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Runner{
		opts:      opts,
		dial:      dial,
		oracle:    oracle,
		decoder:   dec,
		filter:    f,
		logger:    logger,
		collector: stats.NewCollector(),
	}
	r.SubscribeStats("runner-summary", func(ctx context.Context, events <-chan stats.Event) error {
		r.collector.Run(ctx, events)
		return nil
	})
	return r, nil
}

func (r *Runner) Options() Options {
	return r.opts
}

// SubscribeStats registers fn to receive every event of the run. fn runs in
// its own goroutine until the event stream is closed at the end of Run.
// Subscribers must be registered before Run.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		// Drain so a subscriber that returns early never blocks the run.
		defer func() {
			for range ch {
			}
		}()
		if err := fn(context.Background(), ch); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("stats subscriber failed", "subscriber", name, "err", err)
		}
	}()
}

func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		ch <- evt
	}
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		for _, ch := range r.subs {
			close(ch)
		}
		r.subsMu.Unlock()
	})
}

// Run scans the folder once. Session and listing errors are returned as is;
// fetch errors follow the configured Policy. Run closes the event stream and
// waits for subscribers before returning.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	since := time.Now()
	result, err := r.run(ctx)

	r.closeEvents()
	r.statsWG.Wait()

	if result == nil {
		result = &Result{}
	}
	result.Summary = r.collector.Snapshot()

	duration := time.Since(since)
	if err != nil {
		r.logger.Error("scan failed", "folder", r.opts.Folder, "duration", duration, "err", err)
		return result, err
	}
	r.logger.Info("scan completed", append([]any{"folder", r.opts.Folder, "year", r.opts.Year, "duration", duration}, result.Summary.LogAttrs()...)...)
	return result, nil
}

func (r *Runner) run(ctx context.Context) (*Result, error) {
	primary, err := mailbox.Open(ctx, r.dial, r.opts.Folder)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Err: err})
		return nil, err
	}

	ids, err := primary.Search(ctx)
	if err != nil {
		_ = primary.Close()
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Err: err})
		return nil, fmt.Errorf("list %s: %w", r.opts.Folder, err)
	}
	r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeListed, Total: len(ids)})
	r.logger.Info("folder listed", "folder", r.opts.Folder, "messages", len(ids))

	outcomes := make([]model.Outcome, len(ids))
	if len(ids) > 0 {
		r.process(ctx, primary, ids, outcomes)
	} else {
		_ = primary.Close()
	}

	result := collect(outcomes)
	if err := r.failure(); err != nil {
		return result, err
	}
	if len(result.Failures) > 0 {
		r.logger.Warn("some messages could not be fetched", "failed", len(result.Failures), "firstErr", result.Failures[0].Err)
	}
	return result, nil
}

// process fans ids out to the worker pool. Worker 0 reuses the primary
// session; the others open their own. Outcomes are written by index so the
// listing order survives.
func (r *Runner) process(ctx context.Context, primary mailbox.Store, ids []model.MessageID, outcomes []model.Outcome) {
	workers := min(r.opts.Workers, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range ids {
			select {
			case <-gctx.Done():
				return nil
			case jobs <- i:
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			var store mailbox.Store
			if w == 0 {
				store = primary
			}
			wk := &worker{runner: r, id: w, store: store}
			defer wk.close()
			return wk.loop(gctx, jobs, ids, outcomes)
		})
	}

	if err := g.Wait(); err != nil {
		r.fail(err)
	}
	if err := ctx.Err(); err != nil {
		r.fail(err)
	}
}

type worker struct {
	runner *Runner
	id     int
	store  mailbox.Store
}

func (w *worker) loop(ctx context.Context, jobs <-chan int, ids []model.MessageID, outcomes []model.Outcome) error {
	r := w.runner
	for {
		var (
			i  int
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil
		case i, ok = <-jobs:
			if !ok {
				return nil
			}
		}

		if w.store == nil {
			if err := w.open(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Err: err})
				return err
			}
		}

		outcome := w.handle(ctx, i, ids[i])
		outcomes[i] = outcome
		if outcome.Err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if r.opts.OnError == PolicyAbort {
			return fmt.Errorf("message %s: %w", outcome.ID, outcome.Err)
		}
	}
}

func (w *worker) handle(ctx context.Context, index int, id model.MessageID) model.Outcome {
	r := w.runner
	outcome := model.Outcome{Index: index, ID: id}

	raw, elapsed, err := w.fetch(ctx, id)
	if err != nil {
		outcome.Err = err
		if ctx.Err() == nil {
			r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, MessageID: string(id), Err: err})
			r.logger.Debug("fetch failed", "worker", w.id, "id", id, "err", err)
		}
		return outcome
	}
	r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeFetched, MessageID: string(id), Duration: elapsed})

	record, skip := r.Assemble(r.decoder.Decode(raw))
	if skip != model.SkipNone {
		outcome.Skip = skip
		r.EmitEvent(stats.Event{Stage: stats.StageDecode, Type: stats.EventTypeSkipped, MessageID: string(id), Detail: string(skip)})
		return outcome
	}
	outcome.Record = record
	r.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeClassified, MessageID: string(id), Detail: string(record.SpamStatus)})
	return outcome
}

// open gives the worker its own session. Failing to open one is fatal under
// every policy.
func (w *worker) open(ctx context.Context) error {
	store, err := mailbox.Open(ctx, w.runner.dial, w.runner.opts.Folder)
	if err != nil {
		return fmt.Errorf("worker %d session: %w", w.id, err)
	}
	w.store = store
	return nil
}

// fetch downloads one message. A timed-out fetch leaves the session
// unusable, so it is dropped and the worker reconnects before its next job.
func (w *worker) fetch(ctx context.Context, id model.MessageID) ([]byte, time.Duration, error) {
	r := w.runner

	fetchCtx := ctx
	if r.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := w.store.Fetch(fetchCtx, id)
	elapsed := time.Since(started)
	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			w.close()
			return nil, elapsed, fmt.Errorf("fetch timed out after %s: %w", r.opts.FetchTimeout, err)
		}
		return nil, elapsed, err
	}
	return raw, elapsed, nil
}

func (w *worker) close() {
	if w.store == nil {
		return
	}
	if err := w.store.Close(); err != nil {
		w.runner.logger.Debug("close session", "worker", w.id, "err", err)
	}
	w.store = nil
}

// Assemble turns a decoded message into a record, or reports why it was
// left out. Messages without a parseable Date, or from another year, never
// reach the classifier.
func (r *Runner) Assemble(msg model.ParsedMessage) (*model.OutputRecord, model.SkipReason) {
	year, ok := msg.Year()
	if !ok {
		return nil, model.SkipNoYear
	}
	if year != r.opts.Year {
		return nil, model.SkipYearMismatch
	}
	if !r.filter.Allows(msg) {
		return nil, model.SkipFiltered
	}
	return &model.OutputRecord{
		Subject:    msg.Subject,
		From:       msg.From,
		Date:       msg.Date,
		SpamStatus: r.oracle.Classify(msg.Body),
	}, model.SkipNone
}

func collect(outcomes []model.Outcome) *Result {
	result := &Result{
		Records:  make([]model.OutputRecord, 0, len(outcomes)),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.Record != nil:
			result.Records = append(result.Records, *o.Record)
		case o.Err != nil:
			result.Failures = append(result.Failures, model.Failure{ID: o.ID, Err: o.Err})
		}
	}
	return result
}

func (r *Runner) failure() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}
