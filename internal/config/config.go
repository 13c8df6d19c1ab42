// Package config loads gbpsnap settings from flags, environment variables
// (GBPSNAP_*), an optional .env file and an optional YAML/JSON config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FranksOps/gbpsnap/internal/flows"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "GBPSNAP"

const (
	ModeConcurrent = "concurrent"
	ModeSequential = "sequential"
)

var (
	modes    = []string{ModeConcurrent, ModeSequential}
	backends = []string{"none", "csv", "json", "sqlite", "postgres"}
)

type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	Results   string `mapstructure:"results"`
	Errors    string `mapstructure:"errors"`
	Summary   string `mapstructure:"summary"`
	Report    string `mapstructure:"report"`
	Artifacts string `mapstructure:"artifacts"`
}

type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"`
	ExecPath       string `mapstructure:"exec_path"`
	RemoteURL      string `mapstructure:"remote_url"`
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	Width          int    `mapstructure:"width"`
	Height         int    `mapstructure:"height"`
}

type SearchConfig struct {
	Host     string `mapstructure:"host"`
	Language string `mapstructure:"language"`
	Country  string `mapstructure:"country"`
}

type PrefetchConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Robots      bool          `mapstructure:"robots"`
	Fingerprint string        `mapstructure:"fingerprint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Agent       string        `mapstructure:"agent"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full set of run settings.
type Config struct {
	Input          string             `mapstructure:"input"`
	Sitemap        string             `mapstructure:"sitemap"`
	Flow           string             `mapstructure:"flow"`
	Mode           string             `mapstructure:"mode"`
	Concurrency    int                `mapstructure:"concurrency"`
	MaxRetries     int                `mapstructure:"max_retries"`
	RetryDelay     time.Duration      `mapstructure:"retry_delay"`
	JobDelay       time.Duration      `mapstructure:"job_delay"`
	Jitter         float64            `mapstructure:"jitter"`
	StepTimeout    time.Duration      `mapstructure:"step_timeout"`
	AttemptTimeout time.Duration      `mapstructure:"attempt_timeout"`
	ProxiesFile    string             `mapstructure:"proxies_file"`
	UserAgentsFile string             `mapstructure:"user_agents_file"`
	MetricsPort    int                `mapstructure:"metrics_port"`
	Output         OutputConfig       `mapstructure:"output"`
	Browser        BrowserConfig      `mapstructure:"browser"`
	Search         SearchConfig       `mapstructure:"search"`
	Prefetch       PrefetchConfig     `mapstructure:"prefetch"`
	Storage        StorageConfig      `mapstructure:"storage"`
	Log            LogConfig          `mapstructure:"log"`
	Flows          []flows.Definition `mapstructure:"flows"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// Keys without a meaningful default are still registered so that
	// AutomaticEnv can populate them during Unmarshal.
	for _, key := range []string{
		"input", "sitemap", "proxies_file", "user_agents_file",
		"output.results", "output.errors", "output.summary", "output.report", "output.artifacts",
		"browser.exec_path", "browser.remote_url", "browser.user_agent",
		"search.host", "search.country", "storage.dsn",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("metrics_port", 0)
	v.SetDefault("flow", "panel")
	v.SetDefault("mode", ModeConcurrent)
	v.SetDefault("concurrency", 3)
	v.SetDefault("max_retries", 2)
	v.SetDefault("retry_delay", 5*time.Second)
	v.SetDefault("job_delay", 2*time.Second)
	v.SetDefault("jitter", 0.5)
	v.SetDefault("step_timeout", 15*time.Second)
	v.SetDefault("attempt_timeout", 2*time.Minute)
	v.SetDefault("output.dir", "output")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.width", 1366)
	v.SetDefault("browser.height", 900)
	v.SetDefault("search.language", "en")
	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.robots", false)
	v.SetDefault("prefetch.fingerprint", "chrome")
	v.SetDefault("prefetch.timeout", 15*time.Second)
	v.SetDefault("prefetch.agent", "gbpsnap")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"input":            "input",
	"sitemap":          "sitemap",
	"flow":             "flow",
	"mode":             "mode",
	"concurrency":      "concurrency",
	"max-retries":      "max_retries",
	"retry-delay":      "retry_delay",
	"job-delay":        "job_delay",
	"step-timeout":     "step_timeout",
	"attempt-timeout":  "attempt_timeout",
	"output-dir":       "output.dir",
	"headless":         "browser.headless",
	"chrome":           "browser.exec_path",
	"remote-browser":   "browser.remote_url",
	"proxies":          "proxies_file",
	"user-agents":      "user_agents_file",
	"prefetch":         "prefetch.enabled",
	"robots":           "prefetch.robots",
	"storage":          "storage.backend",
	"dsn":              "storage.dsn",
	"metrics-port":     "metrics_port",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"report-html":      "output.report",
	"search-host":      "search.host",
	"search-country":   "search.country",
	"browser-language": "browser.accept_language",
}

// RunFlags declares the flags of the run command. Defaults live in
// SetDefaults; flags only override when set.
func RunFlags(f *pflag.FlagSet) {
	f.StringP("input", "i", "", "input CSV file")
	f.String("sitemap", "", "load URL records from a sitemap instead of CSV")
	f.StringP("flow", "f", "", "flow for rows without a flow column")
	f.String("mode", "", "concurrent or sequential")
	f.IntP("concurrency", "c", 0, "maximum jobs in flight (concurrent mode)")
	f.Int("max-retries", 0, "retries after the first attempt")
	f.Duration("retry-delay", 0, "delay between attempts")
	f.Duration("job-delay", 0, "delay between jobs (sequential mode)")
	f.Duration("step-timeout", 0, "timeout per browser step")
	f.Duration("attempt-timeout", 0, "timeout per attempt")
	f.StringP("output-dir", "o", "", "directory for result files and artifacts")
	f.String("report-html", "", "also write an HTML report to this path")
	f.Bool("headless", true, "run Chrome headless")
	f.String("chrome", "", "Chrome executable path")
	f.String("remote-browser", "", "DevTools websocket URL of a running browser")
	f.String("browser-language", "", "Accept-Language sent by the browser")
	f.String("proxies", "", "file with one proxy URL per line")
	f.String("user-agents", "", "file with one User-Agent per line")
	f.Bool("prefetch", true, "probe URL records over HTTP before opening a tab")
	f.Bool("robots", false, "honour robots.txt during the prefetch probe")
	f.String("search-host", "", "Google host, e.g. www.google.co.uk")
	f.String("search-country", "", "Google gl country code")
}

// StorageFlags declares the flags shared by commands using the history store.
func StorageFlags(f *pflag.FlagSet) {
	f.String("storage", "", "history backend: none, csv, json, sqlite, postgres")
	f.String("dsn", "", "history backend file path or connection string")
}

// GlobalFlags declares flags common to every command.
func GlobalFlags(f *pflag.FlagSet) {
	f.String("config", "", "config file (yaml or json)")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text or json")
	f.Int("metrics-port", 0, "expose Prometheus metrics on this port")
}

// BindFlags binds every known flag present in f to its config key.
func BindFlags(v *viper.Viper, f *pflag.FlagSet) error {
	var err error
	f.VisitAll(func(fl *pflag.Flag) {
		key, ok := flagKeys[fl.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, fl)
	})
	if err != nil {
		return fmt.Errorf("config: bind flags: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configFile (if any) and the environment into a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.resolvePaths()
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.Output.Dir, name)
		}
	}
	def(&c.Output.Results, "results.csv")
	def(&c.Output.Errors, "errors.csv")
	def(&c.Output.Summary, "summary.json")
	def(&c.Output.Artifacts, "artifacts")
}

// Validate checks the settings needed by the run command.
func (c *Config) Validate() error {
	var errs []error
	if c.Input == "" && c.Sitemap == "" {
		errs = append(errs, errors.New("one of input or sitemap is required"))
	}
	if c.Input != "" && c.Sitemap != "" {
		errs = append(errs, errors.New("input and sitemap are mutually exclusive"))
	}
	if !slices.Contains(modes, c.Mode) {
		errs = append(errs, fmt.Errorf("mode %q: want one of %v", c.Mode, modes))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		errs = append(errs, fmt.Errorf("jitter must be within [0,1], got %v", c.Jitter))
	}
	if c.StepTimeout <= 0 {
		errs = append(errs, errors.New("step_timeout must be positive"))
	}
	if err := c.ValidateStorage(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValidateStorage checks the history backend settings.
func (c *Config) ValidateStorage() error {
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage backend %q: want one of %v", c.Storage.Backend, backends)
	}
	if c.Storage.Backend != "none" && c.Storage.DSN == "" {
		return fmt.Errorf("storage backend %q needs a dsn", c.Storage.Backend)
	}
	return nil
}

// Registry returns the built-in flows with any configured overrides.
func (c *Config) Registry() (*flows.Registry, error) {
	return flows.Defaults().With(c.Flows...)
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the slog logger described by lc.
func NewLogger(w io.Writer, lc LogConfig) (*slog.Logger, error) {
	level, err := ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch lc.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("config: log format %q: want text or json", lc.Format)
	}
}
