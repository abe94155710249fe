package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppName names the config directory and the default remote schema
const AppName = "blockvault"

// Config holds all application configuration
type Config struct {
	DataDir  string         `mapstructure:"data_dir" validate:"required"`
	Identity IdentityConfig `mapstructure:"identity"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Sync     SyncConfig     `mapstructure:"sync"`
	History  HistoryConfig  `mapstructure:"history"`
	Trash    TrashConfig    `mapstructure:"trash"`
	Import   ImportConfig   `mapstructure:"import"`
}

// IdentityConfig names the local principal used for sharing
type IdentityConfig struct {
	DID string `mapstructure:"did" validate:"omitempty,did"`
}

// RemoteConfig holds the connection settings of the remote content store.
// With Enabled false the application runs local-only.
type RemoteConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port      int    `mapstructure:"port" validate:"min=1,max=65535"`
	User      string `mapstructure:"user" validate:"required_if=Enabled true"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database" validate:"required_if=Enabled true"`
	Schema    string `mapstructure:"schema"`
	SSLMode   string `mapstructure:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	TimeoutMs int    `mapstructure:"timeout_ms" validate:"gte=0"`
}

// SyncConfig holds save scheduling and retry settings
type SyncConfig struct {
	DebounceMs     int `mapstructure:"debounce_ms" validate:"gte=0"`
	MaxRetries     int `mapstructure:"max_retries" validate:"gte=1"`
	RetryBaseMs    int `mapstructure:"retry_base_ms" validate:"gte=1"`
	RetryMaxMs     int `mapstructure:"retry_max_ms" validate:"gtefield=RetryBaseMs"`
	ProbeIntervalS int `mapstructure:"probe_interval_s" validate:"gte=1"`
}

// HistoryConfig holds version history settings
type HistoryConfig struct {
	SnapshotIntervalS int `mapstructure:"snapshot_interval_s" validate:"gte=0"`
	MajorEditLines    int `mapstructure:"major_edit_lines" validate:"gte=1"`
}

// TrashConfig holds soft deletion settings
type TrashConfig struct {
	RetentionDays int `mapstructure:"retention_days" validate:"gte=0"`
}

// ImportConfig configures the markdown import directory watched by the daemon
type ImportConfig struct {
	Dir             string   `mapstructure:"dir" validate:"omitempty,dir"`
	IgnorePatterns  []string `mapstructure:"ignore_patterns"`
	IncludePatterns []string `mapstructure:"include_patterns"`
}

// ConnectionString returns the PostgreSQL connection string
func (r *RemoteConfig) ConnectionString() string {
	sslMode := r.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		r.User, r.Password, r.Host, r.Port, r.Database, sslMode,
	)
	if r.Schema != "" {
		connStr += "&search_path=" + r.Schema + ",public"
	}
	return connStr
}

// Timeout bounds every remote call
func (r *RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

func (s *SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

func (s *SyncConfig) RetryBase() time.Duration {
	return time.Duration(s.RetryBaseMs) * time.Millisecond
}

func (s *SyncConfig) RetryMax() time.Duration {
	return time.Duration(s.RetryMaxMs) * time.Millisecond
}

func (s *SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeIntervalS) * time.Second
}

// SnapshotInterval is the period of automatic version snapshots; zero
// disables them
func (h *HistoryConfig) SnapshotInterval() time.Duration {
	return time.Duration(h.SnapshotIntervalS) * time.Second
}

// Retention is how long deleted pages stay in the trash
func (t *TrashConfig) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir: filepath.Join(getConfigDir(), "data"),
		Remote: RemoteConfig{
			Port:      5432,
			Schema:    AppName,
			SSLMode:   "require",
			TimeoutMs: 10000,
		},
		Sync: SyncConfig{
			DebounceMs:     500,
			MaxRetries:     5,
			RetryBaseMs:    1000,
			RetryMaxMs:     60000,
			ProbeIntervalS: 30,
		},
		History: HistoryConfig{
			SnapshotIntervalS: 300,
			MajorEditLines:    20,
		},
		Trash: TrashConfig{
			RetentionDays: 30,
		},
		Import: ImportConfig{
			IgnorePatterns: []string{
				".obsidian/**",
				".trash/**",
				".git/**",
				"**/.DS_Store",
				"**/node_modules/**",
			},
			IncludePatterns: []string{"**/*.md"},
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.port", defaults.Remote.Port)
	v.SetDefault("remote.schema", defaults.Remote.Schema)
	v.SetDefault("remote.sslmode", defaults.Remote.SSLMode)
	v.SetDefault("remote.timeout_ms", defaults.Remote.TimeoutMs)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("sync.max_retries", defaults.Sync.MaxRetries)
	v.SetDefault("sync.retry_base_ms", defaults.Sync.RetryBaseMs)
	v.SetDefault("sync.retry_max_ms", defaults.Sync.RetryMaxMs)
	v.SetDefault("sync.probe_interval_s", defaults.Sync.ProbeIntervalS)
	v.SetDefault("history.snapshot_interval_s", defaults.History.SnapshotIntervalS)
	v.SetDefault("history.major_edit_lines", defaults.History.MajorEditLines)
	v.SetDefault("trash.retention_days", defaults.Trash.RetentionDays)
	v.SetDefault("import.ignore_patterns", defaults.Import.IgnorePatterns)
	v.SetDefault("import.include_patterns", defaults.Import.IncludePatterns)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	v.SetEnvPrefix("BLOCKVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Defaults and environment variables are enough to run local-only
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Remote.Password = os.ExpandEnv(cfg.Remote.Password)
	cfg.DataDir = expandPath(cfg.DataDir)
	if cfg.Import.Dir != "" {
		cfg.Import.Dir = expandPath(cfg.Import.Dir)
	}
	cfg.Remote.Schema = SanitizeIdentifier(cfg.Remote.Schema)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var didPattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9._:%-]+$`)

// Validate checks cfg against its struct tags
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.RegisterValidation("dir", func(fl validator.FieldLevel) bool {
		path := fl.Field().String()
		if path == "" {
			return false
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		return info.IsDir()
	}); err != nil {
		return fmt.Errorf("failed to register dir validation: %w", err)
	}
	if err := validate.RegisterValidation("did", func(fl validator.FieldLevel) bool {
		return didPattern.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register did validation: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", AppName)
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, AppName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", AppName)
	}
}

// ConfigDir returns the directory searched for config.yaml
func ConfigDir() string {
	return getConfigDir()
}

// GetStateDir returns the data directory, creating it if needed
func (c *Config) GetStateDir() (string, error) {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return c.DataDir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}

// SanitizeIdentifier converts a name into a valid PostgreSQL identifier:
// lowercase letters, digits and underscores, starting with a letter, at most
// 63 characters.
func SanitizeIdentifier(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	reg := regexp.MustCompile(`[^a-z0-9_]`)
	name = reg.ReplaceAllString(name, "")

	reg = regexp.MustCompile(`_+`)
	name = reg.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")

	if len(name) == 0 {
		name = AppName
	} else if unicode.IsDigit(rune(name[0])) {
		name = "bv_" + name
	}

	// PostgreSQL max identifier length
	if len(name) > 63 {
		name = name[:63]
		name = strings.TrimRight(name, "_")
	}
	return name
}

// Template is the config file written by init
const Template = `# blockvault configuration

# Where pages, the sync queue and version history are stored locally
data_dir: %s

identity:
  # DID used as the issuer of share links, e.g. did:key:z6Mk...
  did: ""

remote:
  # Replicate content to a PostgreSQL content store
  enabled: false
  host: localhost
  port: 5432
  user: blockvault
  # Environment variables are expanded, e.g. ${BLOCKVAULT_DB_PASSWORD}
  password: ${BLOCKVAULT_DB_PASSWORD}
  database: blockvault
  schema: blockvault
  sslmode: require
  timeout_ms: 10000

sync:
  debounce_ms: 500
  max_retries: 5
  retry_base_ms: 1000
  retry_max_ms: 60000
  probe_interval_s: 30

history:
  # Automatic snapshot period, 0 disables
  snapshot_interval_s: 300
  # Changed lines that make an edit major
  major_edit_lines: 20

trash:
  retention_days: 30

import:
  # Markdown directory imported by the daemon, empty disables
  dir: ""
  include_patterns:
    - "**/*.md"
  ignore_patterns:
    - ".obsidian/**"
    - ".trash/**"
    - ".git/**"
    - "**/.DS_Store"
`

// RenderTemplate returns Template with dataDir filled in
func RenderTemplate(dataDir string) string {
	return fmt.Sprintf(Template, dataDir)
}
