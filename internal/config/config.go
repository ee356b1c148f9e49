package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Render     RenderConfig     `mapstructure:"render" yaml:"render"`
	Pagination PaginationConfig `mapstructure:"pagination" yaml:"pagination"`
	Crawl      CrawlConfig      `mapstructure:"crawl" yaml:"crawl"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Export     ExportConfig     `mapstructure:"export" yaml:"export"`
	Sites      []SiteConfig     `mapstructure:"sites" yaml:"sites"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser session pool.
type BrowserConfig struct {
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	UserAgents     []string      `mapstructure:"user_agents" yaml:"user_agents"`
}

// RenderConfig tunes navigation and readiness behavior for rendered fetches.
type RenderConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	DefaultWait       time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
}

// PaginationConfig tunes the click-driven pagination state machine.
type PaginationConfig struct {
	MaxPages       int           `mapstructure:"max_pages" yaml:"max_pages"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	MaxSeen        int           `mapstructure:"max_seen" yaml:"max_seen"`
}

// CrawlConfig controls the orchestration layer.
type CrawlConfig struct {
	WorkerConcurrency int     `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders the config as a pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// StorageConfig selects the optional persistent item sink.
type StorageConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ExportConfig controls the JSON export pipeline.
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	Indent    bool   `mapstructure:"indent" yaml:"indent"`
}

// SiteConfig describes one target listing. Locator strings use the
// "css:<expr>" / "xpath:<expr>" form (bare strings default to CSS, strings
// starting with "//" to XPath) and are parsed once at startup, not per call.
type SiteConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	StartURL     string `mapstructure:"start_url" yaml:"start_url"`
	BaseURL      string `mapstructure:"base_url" yaml:"base_url"`
	WaitSelector string `mapstructure:"wait_selector" yaml:"wait_selector"`

	// Extraction rules applied to the rendered markup.
	ItemSelector string `mapstructure:"item_selector" yaml:"item_selector"`
	ItemAttr     string `mapstructure:"item_attr" yaml:"item_attr"`
	NameSelector string `mapstructure:"name_selector" yaml:"name_selector"`
	NameAttr     string `mapstructure:"name_attr" yaml:"name_attr"`

	// Live-DOM locators used while paginating.
	LeadingItem   string   `mapstructure:"leading_item" yaml:"leading_item"`
	PageIndicator string   `mapstructure:"page_indicator" yaml:"page_indicator"`
	NextControls  []string `mapstructure:"next_controls" yaml:"next_controls"`

	Paginate bool `mapstructure:"paginate" yaml:"paginate"`
	MaxPages int  `mapstructure:"max_pages" yaml:"max_pages"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "modelgrab")
	v.SetDefault("logger.log_file", "modelgrab.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.pool_size", 4)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.acquire_timeout", "30s")
	v.SetDefault("browser.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	})

	// -- Render --
	v.SetDefault("render.navigation_timeout", "90s")
	v.SetDefault("render.default_wait", "3s")

	// -- Pagination --
	v.SetDefault("pagination.max_pages", 100)
	v.SetDefault("pagination.poll_interval", "1s")
	v.SetDefault("pagination.confirm_timeout", "15s")
	v.SetDefault("pagination.settle_delay", "2s")
	v.SetDefault("pagination.max_seen", 50000)

	// -- Crawl --
	v.SetDefault("crawl.worker_concurrency", 4)
	v.SetDefault("crawl.requests_per_second", 2.0)

	// -- Storage --
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "postgres")
	v.SetDefault("storage.postgres.password", "") // set via MODELGRAB_STORAGE_POSTGRES_PASSWORD
	v.SetDefault("storage.postgres.dbname", "modelgrab")
	v.SetDefault("storage.postgres.sslmode", "disable")

	// -- Export --
	v.SetDefault("export.output_dir", "~/modelgrab/output")
	v.SetDefault("export.indent", true)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; this cannot fail at runtime.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper builds and validates a configuration from a viper
// instance that already has file/env/flag values merged in.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("storage.postgres.password", "MODELGRAB_STORAGE_POSTGRES_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	dir, err := homedir.Expand(cfg.Export.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand export.output_dir: %w", err)
	}
	cfg.Export.OutputDir = filepath.Clean(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be a positive integer")
	}
	if c.Browser.AcquireTimeout <= 0 {
		return fmt.Errorf("browser.acquire_timeout must be a positive duration")
	}
	if c.Crawl.WorkerConcurrency <= 0 {
		return fmt.Errorf("crawl.worker_concurrency must be a positive integer")
	}
	if c.Pagination.MaxPages <= 0 {
		return fmt.Errorf("pagination.max_pages must be a positive integer")
	}
	if c.Pagination.PollInterval <= 0 || c.Pagination.ConfirmTimeout <= 0 {
		return fmt.Errorf("pagination poll_interval and confirm_timeout must be positive durations")
	}
	if c.Pagination.ConfirmTimeout < c.Pagination.PollInterval {
		return fmt.Errorf("pagination.confirm_timeout must not be shorter than poll_interval")
	}
	for i, site := range c.Sites {
		if site.Name == "" {
			return fmt.Errorf("sites[%d].name is required", i)
		}
		if site.StartURL == "" {
			return fmt.Errorf("sites[%d] (%s): start_url is required", i, site.Name)
		}
		if site.ItemSelector == "" {
			return fmt.Errorf("sites[%d] (%s): item_selector is required", i, site.Name)
		}
		if site.Paginate && len(site.NextControls) == 0 {
			return fmt.Errorf("sites[%d] (%s): paginate requires next_controls", i, site.Name)
		}
	}
	return nil
}
