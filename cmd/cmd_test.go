package cmd

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/99designs/keyring"

	"github.com/dhcgn/spam-report/classifier"
	"github.com/dhcgn/spam-report/config"
	"github.com/dhcgn/spam-report/credential"
	"github.com/dhcgn/spam-report/mailbox"
)

//go:embed testdata/Spam.mbox
var spamFolder []byte

func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	rootCmd, err := NewRootCommand()
	if err != nil {
		t.Fatalf("NewRootCommand() error = %v", err)
	}
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	if stdin != nil {
		rootCmd.SetIn(stdin)
	}
	rootCmd.SetArgs(args)
	err = rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mboxDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Spam.mbox"), spamFolder, 0o600); err != nil {
		t.Fatalf("write mbox: %v", err)
	}
	return dir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestScan_Mbox(t *testing.T) {
	dir := mboxDir(t)
	out := t.TempDir()
	csvPath := filepath.Join(out, "report.csv")
	metricsPath := filepath.Join(out, "spam_report.prom")

	stdout, err := execute(t, nil,
		"--store", "mbox",
		"--mbox-dir", dir,
		"--year", "2024",
		"--classifier", "rules",
		"--workers", "2",
		"--output", csvPath,
		"--output", "-",
		"--metrics-file", metricsPath,
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("scan error = %v", err)
	}

	want := [][]string{
		{"Subject", "From", "Date", "SpamStatus"},
		{"You won", "Prize Team <prize@example.com>", "Mon, 01 Jan 2024 08:00:00 +0000", "Spam"},
		{"Lunch", "Bob <bob@example.com>", "Tue, 02 Jan 2024 09:30:00 +0100", "Not Spam"},
	}
	if got := readCSV(t, csvPath); !reflect.DeepEqual(got, want) {
		t.Errorf("csv = %q, want %q", got, want)
	}
	if !strings.Contains(stdout, "You won") || !strings.Contains(stdout, "SpamStatus") {
		t.Errorf("stdout table missing rows:\n%s", stdout)
	}

	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, line := range []string{
		"spam_report_messages_listed 4",
		`spam_report_classified_total{label="Spam"} 1`,
		"spam_report_last_run_success 1",
	} {
		if !strings.Contains(string(metrics), line) {
			t.Errorf("metrics missing %q:\n%s", line, metrics)
		}
	}
}

func TestScan_OtherYear(t *testing.T) {
	csvPath := filepath.Join(t.TempDir(), "report.csv")
	_, err := execute(t, nil,
		"--store", "mbox", "--mbox-dir", mboxDir(t), "--year", "2022",
		"--classifier", "rules", "--output", csvPath, "--log-level", "error",
	)
	if err != nil {
		t.Fatalf("scan error = %v", err)
	}
	if got := readCSV(t, csvPath); len(got) != 1 {
		t.Errorf("csv = %q, want header only", got)
	}
}

func TestScan_Errors(t *testing.T) {
	dir := mboxDir(t)
	tests := []struct {
		name     string
		args     []string
		wantCode int
	}{
		{
			name:     "folder not found",
			args:     []string{"--store", "mbox", "--mbox-dir", dir, "--folder", "Junk", "--classifier", "rules"},
			wantCode: ExitFolderNotFound,
		},
		{
			name:     "store unreachable",
			args:     []string{"--store", "mbox", "--mbox-dir", filepath.Join(dir, "missing"), "--classifier", "rules"},
			wantCode: ExitConnectivity,
		},
		{
			name: "model checked before the store",
			args: []string{"--store", "mbox", "--mbox-dir", filepath.Join(dir, "missing"),
				"--vectorizer", filepath.Join(dir, "v.json"), "--model", filepath.Join(dir, "m.json")},
			wantCode: ExitModelLoad,
		},
		{
			name:     "invalid config",
			args:     []string{"--store", "mbox", "--mbox-dir", dir, "--workers", "0"},
			wantCode: ExitFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, nil, append(tt.args, "--log-level", "error")...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ExitCode(err); got != tt.wantCode {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, tt.wantCode)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	files := []string{filepath.Join("testdata", "prize.eml"), filepath.Join("testdata", "lunch.eml")}

	tests := []struct {
		name     string
		args     []string
		wantSubj []string
	}{
		{"all files", nil, []string{"You won", "Lunch"}},
		{"year given", []string{"--year", "2024"}, []string{"You won"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jsonPath := filepath.Join(t.TempDir(), "out.json")
			args := append([]string{"classify", "--classifier", "rules", "--output", jsonPath, "--log-level", "error"}, tt.args...)
			if _, err := execute(t, nil, append(args, files...)...); err != nil {
				t.Fatalf("classify error = %v", err)
			}

			data, err := os.ReadFile(jsonPath)
			if err != nil {
				t.Fatalf("read json: %v", err)
			}
			var rows []map[string]string
			if err := json.Unmarshal(data, &rows); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			var subjects []string
			for _, row := range rows {
				subjects = append(subjects, row["Subject"])
			}
			if !reflect.DeepEqual(subjects, tt.wantSubj) {
				t.Errorf("subjects = %q, want %q", subjects, tt.wantSubj)
			}
			if rows[0]["SpamStatus"] != "Spam" {
				t.Errorf("prize.eml = %q, want Spam", rows[0]["SpamStatus"])
			}
		})
	}
}

func TestClassify_MissingFile(t *testing.T) {
	_, err := execute(t, nil, "classify", "--classifier", "rules", "--log-level", "error", filepath.Join(t.TempDir(), "nope.eml"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCredentials(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	previous := openKeyring
	openKeyring = func() (*credential.Store, error) { return credential.New(ring), nil }
	t.Cleanup(func() { openKeyring = previous })

	stdout, err := execute(t, strings.NewReader("app-password\r\n"), "credentials", "set", "--imap-user", "me@gmail.com")
	if err != nil {
		t.Fatalf("credentials set error = %v", err)
	}
	if !strings.Contains(stdout, "stored password") {
		t.Errorf("stdout = %q", stdout)
	}
	item, err := ring.Get(credential.Key("me@gmail.com", "imap.gmail.com"))
	if err != nil {
		t.Fatalf("keyring Get() error = %v", err)
	}
	if string(item.Data) != "app-password" {
		t.Errorf("stored %q, want app-password", item.Data)
	}

	if _, err := execute(t, nil, "credentials", "delete", "--imap-user", "me@gmail.com"); err != nil {
		t.Fatalf("credentials delete error = %v", err)
	}
	if _, err := ring.Get(credential.Key("me@gmail.com", "imap.gmail.com")); !errors.Is(err, keyring.ErrKeyNotFound) {
		t.Errorf("keyring Get() after delete error = %v", err)
	}

	if _, err := execute(t, strings.NewReader("\n"), "credentials", "set", "--imap-user", "me@gmail.com"); err == nil {
		t.Error("empty password expected error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("boom"), ExitFailure},
		{fmt.Errorf("login: %w", mailbox.ErrAuthentication), ExitAuthentication},
		{fmt.Errorf("dial: %w", mailbox.ErrConnectivity), ExitConnectivity},
		{fmt.Errorf("select: %w", mailbox.ErrFolderNotFound), ExitFolderNotFound},
		{fmt.Errorf("load: %w", classifier.ErrModelLoad), ExitModelLoad},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMaskLogin(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"T1 LOGIN me@gmail.com hunter2", "T1 LOGIN ***"},
		{"T1 login me hunter2", "T1 login ***"},
		{"T2 SELECT INBOX", "T2 SELECT INBOX"},
	}
	for _, tt := range tests {
		if got := maskLogin(tt.line); got != tt.want {
			t.Errorf("maskLogin(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestWireLog_MasksLoginLiteral(t *testing.T) {
	var buf bytes.Buffer
	w := newWireLog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	for _, chunk := range []string{
		"T1 LOGIN {14}\r\n",
		"+ Ready for literal\r\n",
		"pässw0rd-lit\r\n",
		"T1 OK LOGIN completed\r\n",
		"T2 SELECT Spam\r\n",
		"T3 LOGIN {8+}\r\nhunter22\r\n",
		"T3 OK\r\n",
	} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	logged := buf.String()
	for _, secret := range []string{"pässw0rd-lit", "hunter22", "Ready for literal"} {
		if strings.Contains(logged, secret) {
			t.Errorf("log leaks %q:\n%s", secret, logged)
		}
	}
	for _, kept := range []string{"T1 OK LOGIN completed", "T2 SELECT Spam", "T3 OK"} {
		if !strings.Contains(logged, kept) {
			t.Errorf("log missing %q:\n%s", kept, logged)
		}
	}
}

func TestSetupLogger_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var console bytes.Buffer
	logger, cleanup, err := setupLogger(config.Config{LogLevel: "debug", LogDir: dir}, &console)
	if err != nil {
		t.Fatalf("setupLogger() error = %v", err)
	}
	logger.Debug("hello", "n", 1)
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "spam-report-*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v, %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "msg=hello") || !strings.Contains(console.String(), "msg=hello") {
		t.Errorf("file = %q, console = %q", data, console.String())
	}
}
