package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8080
	DefaultMaxUploadBytes = 16 << 20
	DefaultShutdown       = 10 * time.Second
)

// Config is loaded from an optional file, then FILEBOX_* environment
// variables. PORT overrides server.port.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Users    UsersConfig    `mapstructure:"users"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Features FeaturesConfig `mapstructure:"features"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// SessionSecret keys the session store. Empty means a random key per
	// process, so sessions do not survive restarts.
	SessionSecret string `mapstructure:"session_secret"`
}

type StorageConfig struct {
	// Root is the directory holding every user's sandbox.
	Root string `mapstructure:"root" validate:"required"`
	// StateDir holds staging files, sessions and the user store.
	// Default: <root>/.filebox
	StateDir string `mapstructure:"state_dir" validate:"required"`
	// AtomicWrites stages edits and renames them into place.
	AtomicWrites bool   `mapstructure:"atomic_writes"`
	SeedFile     string `mapstructure:"seed_file"`
	SeedText     string `mapstructure:"seed_text"`
}

type UsersConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=json badger sqlite"`
	Path       string `mapstructure:"path"`
	BcryptCost int    `mapstructure:"bcrypt_cost" validate:"min=4,max=31"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	Output     string `mapstructure:"output" validate:"required"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type FeaturesConfig struct {
	WebDAV     bool `mapstructure:"webdav"`
	Thumbnails bool `mapstructure:"thumbnails"`
}

var validate = validator.New()

// Option adjusts the viper instance after files and environment are wired.
type Option func(v *viper.Viper)

// WithValue forces key to val, above every other source. Used for
// command-line flags.
func WithValue(key string, val any) Option {
	return func(v *viper.Viper) { v.Set(key, val) }
}

// Load reads configuration from configPath (optional), the environment and
// defaults, then validates it.
func Load(configPath string, opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FILEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// hosting platforms hand out the port as a bare PORT variable
	_ = v.BindEnv("server.port", "FILEBOX_SERVER_PORT", "PORT")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("server.shutdown_timeout", DefaultShutdown)
	v.SetDefault("server.session_secret", "")
	v.SetDefault("storage.root", "shared")
	v.SetDefault("storage.state_dir", "")
	v.SetDefault("storage.atomic_writes", true)
	v.SetDefault("storage.seed_file", "")
	v.SetDefault("storage.seed_text", "")
	v.SetDefault("users.backend", "json")
	v.SetDefault("users.path", "")
	v.SetDefault("users.bcrypt_cost", 10)
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("features.webdav", true)
	v.SetDefault("features.thumbnails", true)
}

// ApplyDefaults fills derived values and makes paths absolute.
func ApplyDefaults(cfg *Config) error {
	cfg.Logging.Level = strings.ToUpper(strings.TrimSpace(cfg.Logging.Level))
	cfg.Users.Backend = strings.ToLower(strings.TrimSpace(cfg.Users.Backend))

	if strings.TrimSpace(cfg.Storage.Root) == "" {
		return fmt.Errorf("config: storage.root is required")
	}
	absRoot, err := filepath.Abs(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("abs root: %w", err)
	}
	cfg.Storage.Root = absRoot
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = filepath.Join(cfg.Storage.Root, ".filebox")
	}
	if cfg.Storage.StateDir, err = filepath.Abs(cfg.Storage.StateDir); err != nil {
		return fmt.Errorf("abs state dir: %w", err)
	}
	if cfg.Users.Path != "" {
		if cfg.Users.Path, err = filepath.Abs(cfg.Users.Path); err != nil {
			return fmt.Errorf("abs users path: %w", err)
		}
	}
	return nil
}

// Validate checks struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Addr returns host:port for the listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
