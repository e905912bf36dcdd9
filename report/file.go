package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

type terminalWriter struct {
	out io.Writer
}

func (w *terminalWriter) Write(_ context.Context, t Table) error {
	data := make([][]string, 0, len(t.Rows)+1)
	data = append(data, t.Columns)
	data = append(data, t.Rows...)

	out := w.out
	if out == nil {
		out = os.Stdout
	}
	return pterm.DefaultTable.
		WithHasHeader().
		WithData(data).
		WithWriter(out).
		Render()
}

func (w *terminalWriter) Close() error { return nil }

type csvWriter struct {
	path string
}

func (w *csvWriter) Write(_ context.Context, t Table) error {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func (w *csvWriter) Close() error { return nil }

type jsonWriter struct {
	path string
}

// jsonRow keeps the column order in the encoded objects.
type jsonRow struct {
	Subject    string `json:"Subject"`
	From       string `json:"From"`
	Date       string `json:"Date"`
	SpamStatus string `json:"SpamStatus"`
}

func (w *jsonWriter) Write(_ context.Context, t Table) error {
	rows := make([]jsonRow, 0, len(t.Rows))
	for _, r := range t.Rows {
		rows = append(rows, jsonRow{Subject: r[0], From: r[1], Date: r[2], SpamStatus: r[3]})
	}

	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return file.Close()
}

func (w *jsonWriter) Close() error { return nil }
