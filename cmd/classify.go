package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/spam-report/classifier"
	"github.com/dhcgn/spam-report/config"
	"github.com/dhcgn/spam-report/decoder"
	"github.com/dhcgn/spam-report/filter"
	"github.com/dhcgn/spam-report/model"
	"github.com/dhcgn/spam-report/report"
)

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <file.eml>...",
		Short: "Decode and classify local message files",
		Long: "Decode and classify local RFC 5322 files with the configured classifier and write the report.\n" +
			"Files are only filtered by year when --year is given.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, config.ModeClassify)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			return runClassify(cmd.Context(), cfg, args, logger, cmd.OutOrStdout())
		},
	}
}

func runClassify(ctx context.Context, cfg config.Config, paths []string, logger *slog.Logger, stdout io.Writer) error {
	oracle, err := classifier.Load(ctx, classifierOptions(cfg), logger)
	if err != nil {
		return err
	}
	f, err := filter.New(filterOptions(cfg))
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}
	dec := decoder.New(cfg.DateLayouts, logger)

	records := make([]model.OutputRecord, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		msg := dec.Decode(raw)
		if cfg.YearSet {
			if year, ok := msg.Year(); !ok || year != cfg.Year {
				logger.Debug("file outside the requested year", "path", path, "date", msg.Date)
				continue
			}
		}
		if !f.Allows(msg) {
			logger.Debug("file filtered", "path", path)
			continue
		}

		label := oracle.Classify(msg.Body)
		logger.Debug("file classified", "path", path, "label", label, "bodySource", msg.BodySource)
		records = append(records, model.OutputRecord{
			Subject:    msg.Subject,
			From:       msg.From,
			Date:       msg.Date,
			SpamStatus: label,
		})
	}

	return report.WriteAll(ctx, cfg.Outputs, report.ToTable(records), stdout)
}
