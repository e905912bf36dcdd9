// Package report turns output records into a table and writes it to the
// terminal, CSV or JSON files, or a SQL database.
package report

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dhcgn/spam-report/model"
)

const (
	ColumnSubject    = "Subject"
	ColumnFrom       = "From"
	ColumnDate       = "Date"
	ColumnSpamStatus = "SpamStatus"
)

// Columns is the fixed column order of every report.
var Columns = []string{ColumnSubject, ColumnFrom, ColumnDate, ColumnSpamStatus}

// Table is a rectangular view of the records. Every row has len(Columns)
// cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ToTable maps records to rows in the order given. No records yields a
// table with the columns and no rows.
func ToTable(records []model.OutputRecord) Table {
	t := Table{
		Columns: append([]string(nil), Columns...),
		Rows:    make([][]string, 0, len(records)),
	}
	for _, r := range records {
		t.Rows = append(t.Rows, []string{r.Subject, r.From, r.Date, string(r.SpamStatus)})
	}
	return t
}

// Writer persists a table.
type Writer interface {
	Write(ctx context.Context, t Table) error
	Close() error
}

// Open returns the writer for dest:
//
//	"-" or "stdout"            table on stdout
//	*.csv                      CSV file with a header row
//	*.json                     JSON array of objects keyed by column
//	sqlite://path              SQLite database
//	postgres://, postgresql:// PostgreSQL database
func Open(ctx context.Context, dest string, stdout io.Writer) (Writer, error) {
	dest = strings.TrimSpace(dest)
	lower := strings.ToLower(dest)
	switch {
	case dest == "-" || lower == "stdout":
		return &terminalWriter{out: stdout}, nil
	case strings.HasPrefix(lower, "sqlite://"):
		w, err := openSQL(ctx, driverSQLite, dest[len("sqlite://"):])
		if err != nil {
			return nil, err
		}
		return w, nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		w, err := openSQL(ctx, driverPostgres, dest)
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	switch strings.ToLower(filepath.Ext(dest)) {
	case ".csv":
		return &csvWriter{path: dest}, nil
	case ".json":
		return &jsonWriter{path: dest}, nil
	default:
		return nil, fmt.Errorf("unsupported output %q (want -, *.csv, *.json, sqlite:// or postgres://)", dest)
	}
}

// WriteAll writes t to every destination, stopping at the first failure.
func WriteAll(ctx context.Context, dests []string, t Table, stdout io.Writer) error {
	for _, dest := range dests {
		w, err := Open(ctx, dest, stdout)
		if err != nil {
			return fmt.Errorf("open output %s: %w", redact(dest), err)
		}
		err = w.Write(ctx, t)
		closeErr := w.Close()
		if err != nil {
			return fmt.Errorf("write output %s: %w", redact(dest), err)
		}
		if closeErr != nil {
			return fmt.Errorf("close output %s: %w", redact(dest), closeErr)
		}
	}
	return nil
}
