package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/spam-report/model"
)

type Stage string

const (
	StageStore    Stage = "store"
	StageDecode   Stage = "decode"
	StageClassify Stage = "classify"
)

type EventType string

const (
	EventTypeListed     EventType = "listed"
	EventTypeFetched    EventType = "fetched"
	EventTypeSkipped    EventType = "skipped"
	EventTypeClassified EventType = "classified"
	EventTypeError      EventType = "error"
)

// Event reports progress on a single message, or on the whole folder for
// EventTypeListed. Detail carries the skip reason or the assigned label.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Total     int
	Err       error
	Detail    string
	Duration  time.Duration
}

type Summary struct {
	Listed     int
	Fetched    int
	Skipped    int
	Classified int
	Spam       int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"listed", s.Listed,
		"fetched", s.Fetched,
		"skipped", s.Skipped,
		"classified", s.Classified,
		"spam", s.Spam,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeListed:
		c.summary.Listed += evt.Total
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeClassified:
		c.summary.Classified++
		if evt.Detail == string(model.Spam) {
			c.summary.Spam++
		}
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

// EventStream delivers every emitted event to each subscriber.
type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
