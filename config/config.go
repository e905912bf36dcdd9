// Package config turns command-line flags, an optional YAML file, SPAM_REPORT_
// environment variables and an optional .env file into a validated Config.
//
// Precedence, highest first: explicit flag, environment, config file, flag
// default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/spam-report/credential"
)

const envPrefix = "SPAM_REPORT"

const (
	StoreIMAP = "imap"
	StoreMbox = "mbox"

	PasswordFromEnv     = "env"
	PasswordFromKeyring = "keyring"
)

// Mode selects which settings a command needs validated.
type Mode int

const (
	// ModeScan validates everything needed to read a folder and write reports.
	ModeScan Mode = iota
	// ModeClassify validates only the classifier and decoding settings.
	ModeClassify
	// ModeCredentials validates the account identity, not the password.
	ModeCredentials
)

// Config captures all options of a run.
type Config struct {
	Store              string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	IMAPDebug          bool
	MboxDir            string
	Folder             string
	Year               int
	// YearSet reports whether the year was given explicitly rather than
	// defaulted to the current one.
	YearSet        bool
	Classifier     string
	Vectorizer     string
	Model          string
	AWSRegion      string
	Outputs        []string
	Workers        int
	OnError        string
	FetchTimeout   time.Duration
	DateLayouts    []string
	IncludeHeader  []string
	IncludeBody    []string
	ExcludeHeader  []string
	ExcludeBody    []string
	PasswordSource string
	PasswordEnv    string
	LogLevel       string
	LogDir         string
	MetricsFile    string
	Progress       bool
}

// KeyringLookup returns the stored password of user at host.
type KeyringLookup func(user, host string) (string, error)

// SystemKeyring reads passwords from the operating system keyring.
func SystemKeyring(user, host string) (string, error) {
	store, err := credential.Open()
	if err != nil {
		return "", err
	}
	return store.Get(credential.Key(user, host))
}

// RegisterFlags attaches all CLI flags to the provided command. They are
// persistent so subcommands share them.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file; keys are flag names")
	flags.String("env-file", "", "Optional .env file loaded before reading the environment")

	flags.String("store", StoreIMAP, "Message store: imap or mbox")
	flags.String("imap-host", "imap.gmail.com", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.Bool("use-tls", true, "Use implicit TLS for the IMAP connection")
	flags.Bool("starttls", false, "Upgrade a plain IMAP connection with STARTTLS (disables --use-tls)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.Bool("imap-debug", false, "Write the raw IMAP exchange to the log at debug level")
	flags.String("mbox-dir", "", "Directory of <folder>.mbox files used with --store mbox")
	flags.String("folder", "[Gmail]/Spam", "Folder to scan")
	flags.Int("year", time.Now().Year(), "Only report messages dated in this year")

	flags.String("classifier", "artifact", "Classifier backend: artifact or rules")
	flags.String("vectorizer", "spam_vectorizer.json", "Vectorizer artifact path or s3:// URI (JSON or YAML)")
	flags.String("model", "spam_model.json", "Model artifact path or s3:// URI (JSON or YAML)")
	flags.String("aws-region", "", "AWS region for s3:// artifacts (defaults to the SDK chain)")

	flags.StringArray("output", []string{"-"}, "Report destination: -, *.csv, *.json, sqlite://path or postgres://dsn (repeatable)")
	flags.Int("workers", 1, "Number of concurrent mailbox sessions")
	flags.String("on-error", "abort", "Fetch failure policy: abort or skip")
	flags.Duration("fetch-timeout", 0, "Per-message fetch timeout (0 disables)")
	flags.StringArray("date-layout", nil, "Go time layout for the Date header (repeatable, replaces the defaults)")
	flags.StringArray("include-header", nil, "Regex allow-list applied to Subject/From/Date (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to Subject/From/Date (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	flags.String("password-source", PasswordFromEnv, "Where the IMAP password comes from: env or keyring")
	flags.String("password-env", "IMAP_PASS", "Environment variable holding the IMAP password")

	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Optional directory for a copy of the log")
	flags.String("metrics-file", "", "Optional Prometheus textfile written after the run")
	flags.Bool("progress", false, "Show a progress bar on stderr")

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config validated for mode.
func LoadConfig(cmd *cobra.Command, mode Mode) (Config, error) {
	return LoadConfigWith(viper.New(), cmd.Flags(), mode, SystemKeyring)
}

// LoadConfigWith is LoadConfig on an explicit viper instance, flag set and
// keyring.
func LoadConfigWith(v *viper.Viper, flags *pflag.FlagSet, mode Mode, lookup KeyringLookup) (Config, error) {
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}

	if envFile := v.GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	cfg := Config{
		Store:              strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           strings.TrimSpace(v.GetString("imap-user")),
		UseTLS:             v.GetBool("use-tls"),
		StartTLS:           v.GetBool("starttls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPDebug:          v.GetBool("imap-debug"),
		MboxDir:            strings.TrimSpace(v.GetString("mbox-dir")),
		Folder:             v.GetString("folder"),
		Year:               v.GetInt("year"),
		YearSet:            isSet(v, flags, "year"),
		Classifier:         strings.ToLower(strings.TrimSpace(v.GetString("classifier"))),
		Vectorizer:         strings.TrimSpace(v.GetString("vectorizer")),
		Model:              strings.TrimSpace(v.GetString("model")),
		AWSRegion:          strings.TrimSpace(v.GetString("aws-region")),
		Outputs:            stringList(v, flags, "output"),
		Workers:            v.GetInt("workers"),
		OnError:            strings.ToLower(strings.TrimSpace(v.GetString("on-error"))),
		FetchTimeout:       v.GetDuration("fetch-timeout"),
		DateLayouts:        stringList(v, flags, "date-layout"),
		IncludeHeader:      stringList(v, flags, "include-header"),
		IncludeBody:        stringList(v, flags, "include-body"),
		ExcludeHeader:      stringList(v, flags, "exclude-header"),
		ExcludeBody:        stringList(v, flags, "exclude-body"),
		PasswordSource:     strings.ToLower(strings.TrimSpace(v.GetString("password-source"))),
		PasswordEnv:        strings.TrimSpace(v.GetString("password-env")),
		LogLevel:           strings.ToLower(strings.TrimSpace(v.GetString("log-level"))),
		LogDir:             strings.TrimSpace(v.GetString("log-dir")),
		MetricsFile:        strings.TrimSpace(v.GetString("metrics-file")),
		Progress:           v.GetBool("progress"),
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.StartTLS {
		cfg.UseTLS = false
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{"-"}
	}

	if mode == ModeScan && cfg.Store == StoreIMAP {
		pass, err := resolvePassword(cfg, lookup)
		if err != nil {
			return Config{}, err
		}
		cfg.IMAPPass = pass
	}

	if err := validateConfig(cfg, mode); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolvePassword(cfg Config, lookup KeyringLookup) (string, error) {
	switch cfg.PasswordSource {
	case PasswordFromEnv:
		if cfg.PasswordEnv == "" {
			return "", fmt.Errorf("--password-env is empty")
		}
		pass := os.Getenv(cfg.PasswordEnv)
		if pass == "" {
			return "", fmt.Errorf("IMAP password must be provided via the %s env var or --password-source keyring", cfg.PasswordEnv)
		}
		return pass, nil
	case PasswordFromKeyring:
		if lookup == nil {
			return "", fmt.Errorf("no keyring available")
		}
		pass, err := lookup(cfg.IMAPUser, cfg.IMAPHost)
		if errors.Is(err, credential.ErrNotFound) {
			return "", fmt.Errorf("no password stored for %s at %s; run `spam-report credentials set`: %w", cfg.IMAPUser, cfg.IMAPHost, err)
		}
		if err != nil {
			return "", err
		}
		return pass, nil
	default:
		return "", fmt.Errorf("invalid --password-source: %s", cfg.PasswordSource)
	}
}

func validateConfig(cfg Config, mode Mode) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	if mode == ModeCredentials {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		return nil
	}

	switch cfg.Classifier {
	case "artifact":
		if cfg.Vectorizer == "" || cfg.Model == "" {
			return fmt.Errorf("--vectorizer and --model are required for the artifact classifier")
		}
	case "rules":
	default:
		return fmt.Errorf("invalid --classifier: %s", cfg.Classifier)
	}
	if cfg.Year < 1 || cfg.Year > 9999 {
		return fmt.Errorf("--year must be between 1 and 9999")
	}

	if mode == ModeClassify {
		return nil
	}

	switch cfg.Store {
	case StoreIMAP:
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password is empty")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	case StoreMbox:
		if cfg.MboxDir == "" {
			return fmt.Errorf("--mbox-dir is required with --store mbox")
		}
	default:
		return fmt.Errorf("invalid --store: %s", cfg.Store)
	}

	if strings.TrimSpace(cfg.Folder) == "" {
		return fmt.Errorf("--folder is required")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	switch cfg.OnError {
	case "abort", "skip":
	default:
		return fmt.Errorf("invalid --on-error: %s", cfg.OnError)
	}
	if cfg.FetchTimeout < 0 {
		return fmt.Errorf("--fetch-timeout must not be negative")
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	return nil
}

// stringList reads a repeatable flag. Explicit flag values are taken as is
// because viper splits flag arrays on commas, which would break regexes.
func stringList(v *viper.Viper, flags *pflag.FlagSet, name string) []string {
	if flags.Changed(name) {
		values, err := flags.GetStringArray(name)
		if err == nil {
			return values
		}
	}
	var out []string
	for _, s := range v.GetStringSlice(name) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// isSet reports whether name came from anywhere but its flag default.
func isSet(v *viper.Viper, flags *pflag.FlagSet, name string) bool {
	if flags.Changed(name) || v.InConfig(name) {
		return true
	}
	_, ok := os.LookupEnv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	return ok
}
