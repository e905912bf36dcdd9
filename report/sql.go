package report

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"
)

const schema = `
CREATE TABLE IF NOT EXISTS spam_report (
	run_id      TEXT      NOT NULL,
	position    INTEGER   NOT NULL,
	subject     TEXT      NOT NULL,
	sender      TEXT      NOT NULL,
	date        TEXT      NOT NULL,
	spam_status TEXT      NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, position)
)`

const insertRow = `
	INSERT INTO spam_report (
		run_id, position, subject, sender, date, spam_status, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

const selectRun = `
	SELECT run_id, position, subject, sender, date, spam_status, created_at
	FROM spam_report WHERE run_id = ? ORDER BY position`

// ReportRow is one stored row of a run.
type ReportRow struct {
	RunID      string    `db:"run_id"`
	Position   int       `db:"position"`
	Subject    string    `db:"subject"`
	Sender     string    `db:"sender"`
	Date       string    `db:"date"`
	SpamStatus string    `db:"spam_status"`
	CreatedAt  time.Time `db:"created_at"`
}

// SQLWriter appends each written table to the spam_report table under a
// fresh run id.
type SQLWriter struct {
	db    *sqlx.DB
	runID string
	now   func() time.Time
}

func openSQL(ctx context.Context, driver, dsn string) (*SQLWriter, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty database location")
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}
	if driver == driverSQLite {
		// A :memory: database lives and dies with its connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s db: %w", driver, err)
	}
	w, err := NewSQLWriter(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// NewSQLWriter creates the report table on db if needed.
func NewSQLWriter(ctx context.Context, db *sqlx.DB) (*SQLWriter, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating spam_report table: %w", err)
	}
	return &SQLWriter{
		db:    db,
		runID: uuid.New().String(),
		now:   time.Now,
	}, nil
}

func (w *SQLWriter) RunID() string {
	return w.runID
}

// Write inserts every row in one transaction.
func (w *SQLWriter) Write(ctx context.Context, t Table) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(insertRow))
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	created := w.now().UTC()
	for i, row := range t.Rows {
		_, err := stmt.ExecContext(ctx, w.runID, i, row[0], row[1], row[2], row[3], created)
		if err != nil {
			return fmt.Errorf("inserting row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Rows returns the stored rows of runID in position order.
func (w *SQLWriter) Rows(ctx context.Context, runID string) ([]ReportRow, error) {
	var rows []ReportRow
	if err := w.db.SelectContext(ctx, &rows, w.db.Rebind(selectRun), runID); err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return rows, nil
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}

// redact hides the password of a database URL in messages.
func redact(dest string) string {
	u, err := url.Parse(dest)
	if err != nil || u.User == nil {
		return dest
	}
	return u.Redacted()
}
