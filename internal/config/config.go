package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"hdxscraper/internal/admin"
)

// Config represents the complete run configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Run       RunConfig       `yaml:"run" envconfig:"RUN"`
	Matching  MatchingConfig  `yaml:"matching" envconfig:"MATCHING"`
	Sources   SourcesConfig   `yaml:"sources" envconfig:"SOURCES"`
	Fetch     FetchConfig     `yaml:"fetch" envconfig:"FETCH"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/hdxscraper.log"`
}

// RunConfig controls one scraper run
type RunConfig struct {
	// Today pins "today" for date filtering and source dates (YYYY-MM-DD).
	Today        string   `yaml:"today" envconfig:"TODAY"`
	Countries    []string `yaml:"countries" envconfig:"COUNTRIES"`
	Levels       []string `yaml:"levels" envconfig:"LEVELS" default:"national,subnational,regional,global"`
	FallbackFile string   `yaml:"fallback_file" envconfig:"FALLBACK_FILE"`
	PostgresDSN  string   `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	Concurrency  int      `yaml:"concurrency" envconfig:"CONCURRENCY" default:"1"`
	AdminUnits   string   `yaml:"admin_units" envconfig:"ADMIN_UNITS"`
}

// MatchingConfig configures fuzzy admin name matching
type MatchingConfig struct {
	Threshold  float64             `yaml:"threshold" envconfig:"THRESHOLD" default:"0.8"`
	DenyTokens []string            `yaml:"deny_tokens" envconfig:"DENY_TOKENS"`
	Rules      []admin.ReplaceRule `yaml:"rules" ignored:"true"`
	CacheSize  int                 `yaml:"cache_size" envconfig:"CACHE_SIZE" default:"1024"`
}

// SourcesConfig controls how source records are rendered
type SourcesConfig struct {
	DateFormat     string `yaml:"date_format" envconfig:"DATE_FORMAT" default:"Jan 2, 2006"`
	RangeSeparator string `yaml:"range_separator" envconfig:"RANGE_SEPARATOR" default:"-"`
	Overwrite      bool   `yaml:"overwrite" envconfig:"OVERWRITE" default:"false"`
}

// FetchConfig controls source downloads
type FetchConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"RPS" default:"5"`
	Burst             int           `yaml:"burst" envconfig:"BURST" default:"2"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"60s"`
	UserAgent         string        `yaml:"user_agent" envconfig:"USER_AGENT" default:"hdxscraper"`
	SheetsCredentials string        `yaml:"sheets_credentials" envconfig:"SHEETS_CREDENTIALS"`
	SheetsAPIKey      string        `yaml:"sheets_api_key" envconfig:"SHEETS_API_KEY"`
	// CatalogURL is the CKAN site dataset references resolve against.
	CatalogURL string   `yaml:"catalog_url" envconfig:"CATALOG_URL"`
	S3         S3Config `yaml:"s3" envconfig:"S3"`
}

// S3Config contains object storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Region    string `yaml:"region" envconfig:"REGION"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL" default:"true"`
}

// TelemetryConfig contains tracing and metrics configuration
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" default:"hdxscraper"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION" default:"dev"`
	TraceStdout    bool   `yaml:"trace_stdout" envconfig:"TRACE_STDOUT" default:"false"`
	Metrics        bool   `yaml:"metrics" envconfig:"METRICS" default:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// RequestsPerSecond limits the results API. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RPS" default:"20"`
	Burst             int     `yaml:"burst" envconfig:"BURST" default:"40"`
}

// Load loads configuration from environment variables and, when path is not
// empty, overlays the YAML file at path.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("HDX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// TodayTime parses Run.Today, falling back to now.
func (c *Config) TodayTime(now time.Time) (time.Time, error) {
	if strings.TrimSpace(c.Run.Today) == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(c.Run.Today))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run.today %q: %w", c.Run.Today, err)
	}
	return t, nil
}

// validate validates the configuration
func (c *Config) validate() error {
	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %s", c.Logging.Output)
	}

	if c.Matching.Threshold <= 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching threshold must be in (0, 1], got %v", c.Matching.Threshold)
	}

	if c.Run.Concurrency < 1 {
		c.Run.Concurrency = 1
	}

	for _, level := range c.Run.Levels {
		if strings.TrimSpace(level) == "" {
			return fmt.Errorf("empty level name in run.levels")
		}
	}

	if _, err := c.TodayTime(time.Now()); err != nil {
		return err
	}

	if c.Sources.DateFormat == "" {
		c.Sources.DateFormat = "Jan 2, 2006"
	}

	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/hdxscraper.log",
		},
		Run: RunConfig{
			Levels:      []string{"national", "subnational", "regional", "global"},
			Concurrency: 1,
		},
		Matching: MatchingConfig{
			Threshold: 0.8,
			CacheSize: 1024,
		},
		Sources: SourcesConfig{
			DateFormat:     "Jan 2, 2006",
			RangeSeparator: "-",
		},
		Fetch: FetchConfig{
			RequestsPerSecond: 5,
			Burst:             2,
			Timeout:           60 * time.Second,
			UserAgent:         "hdxscraper",
			S3:                S3Config{UseSSL: true},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "hdxscraper",
			ServiceVersion: "dev",
			Metrics:        true,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}
