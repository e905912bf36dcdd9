package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dhcgn/spam-report/classifier"
	"github.com/dhcgn/spam-report/config"
	"github.com/dhcgn/spam-report/decoder"
	"github.com/dhcgn/spam-report/filter"
	"github.com/dhcgn/spam-report/imap"
	"github.com/dhcgn/spam-report/mailbox"
	"github.com/dhcgn/spam-report/mbox"
	"github.com/dhcgn/spam-report/progress"
	"github.com/dhcgn/spam-report/report"
	"github.com/dhcgn/spam-report/runner"
	"github.com/dhcgn/spam-report/stats"
)

// runScan classifies one year of the configured folder and writes the
// report to every output. The classifier is loaded before the store is
// touched so a bad artifact never costs a connection.
func runScan(ctx context.Context, cfg config.Config, logger *slog.Logger, stdout, stderr io.Writer) (err error) {
	metrics := stats.NewMetrics()
	if cfg.MetricsFile != "" {
		defer func() {
			metrics.SetRunResult(err)
			if werr := metrics.WriteToTextfile(cfg.MetricsFile); werr != nil {
				logger.Warn("metrics not written", "path", cfg.MetricsFile, "err", werr)
			}
		}()
	}

	oracle, err := classifier.Load(ctx, classifierOptions(cfg), logger)
	if err != nil {
		return err
	}

	f, err := filter.New(filterOptions(cfg))
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}

	policy, err := runner.ParsePolicy(cfg.OnError)
	if err != nil {
		return err
	}

	runnerOpts := runner.Options{
		Folder:       cfg.Folder,
		Year:         cfg.Year,
		Workers:      cfg.Workers,
		OnError:      policy,
		FetchTimeout: cfg.FetchTimeout,
	}
	r, err := runner.New(runnerOpts, newDialer(cfg, logger), oracle, decoder.New(cfg.DateLayouts, logger), f, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)
	r.SubscribeStats("metrics", metrics.Subscriber)
	bar := progress.New(cfg.Progress, stderr)
	r.SubscribeStats("progress", bar.Subscriber)

	result, err := r.Run(ctx)
	bar.Stop(result.Summary)
	if err != nil {
		return err
	}

	for _, failure := range result.Failures {
		logger.Warn("message left out of the report", "id", failure.ID, "err", failure.Err)
	}

	table := report.ToTable(result.Records)
	if err := report.WriteAll(ctx, cfg.Outputs, table, stdout); err != nil {
		return err
	}
	logger.Info("report written", "rows", len(table.Rows), "outputs", len(cfg.Outputs), "failed", len(result.Failures))
	return nil
}

func newDialer(cfg config.Config, logger *slog.Logger) mailbox.Dialer {
	if cfg.Store == config.StoreMbox {
		return mbox.NewDialer(mbox.Options{Dir: cfg.MboxDir}, logger)
	}

	opts := imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		StartTLS:           cfg.StartTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.IMAPDebug {
		opts.DebugWriter = newWireLog(logger)
	}
	return imap.NewDialer(opts, logger)
}

func classifierOptions(cfg config.Config) classifier.Options {
	return classifier.Options{
		Backend:       cfg.Classifier,
		VectorizerURI: cfg.Vectorizer,
		ModelURI:      cfg.Model,
		AWSRegion:     cfg.AWSRegion,
	}
}

func filterOptions(cfg config.Config) filter.Options {
	return filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	}
}
