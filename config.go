package qaspace

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphi011/qaspace/internal/hook"
	"github.com/raphi011/qaspace/internal/storage"
	"github.com/spf13/viper"
)

// Config holds the settings of the reporter and the server. It is loaded
// from an optional yaml file and QASPACE_ prefixed environment variables,
// e.g. QASPACE_STORAGE_DRIVER overrides storage.driver.
type Config struct {
	AttachmentDir string `mapstructure:"attachment_dir"`
	ReportDir     string `mapstructure:"report_dir"`
	ReportFile    string `mapstructure:"report_file"`
	RunName       string `mapstructure:"run_name"`
	Environment   string `mapstructure:"environment"`

	Storage StorageConfig `mapstructure:"storage"`
	Elastic ElasticConfig `mapstructure:"elastic"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Server  ServerConfig  `mapstructure:"server"`
}

type StorageConfig struct {
	// Driver is either "sqlite" or "badger".
	Driver string `mapstructure:"driver"`
	// Path of the database, empty for an in-memory database.
	Path string `mapstructure:"path"`
}

type ElasticConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	APIKey    string   `mapstructure:"api_key"`
}

type SlackConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	Retention         time.Duration `mapstructure:"retention"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("attachment_dir", ".")
	v.SetDefault("report_dir", "")
	v.SetDefault("report_file", DefaultReportFile)
	v.SetDefault("run_name", "")
	v.SetDefault("environment", "")

	v.SetDefault("storage.driver", storage.DriverSqlite)
	v.SetDefault("storage.path", "qaspace.db")

	v.SetDefault("elastic.addresses", []string{})
	v.SetDefault("elastic.index", hook.DefaultElasticIndex)
	v.SetDefault("elastic.api_key", "")

	v.SetDefault("slack.token", "")
	v.SetDefault("slack.channel_id", "")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.retention", DefaultRetention)
	v.SetDefault("server.retention_schedule", DefaultRetentionSchedule)
}

// LoadConfig reads the configuration. path may be empty, in that case only
// defaults and environment variables are used.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("QASPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	return cfg, nil
}

// OpenStorage opens the storage backend configured in cfg.
func OpenStorage(cfg StorageConfig, log *slog.Logger) (Storage, error) {
	s, err := storage.New(cfg.Driver, cfg.Path, log)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Driver, err)
	}

	return s, nil
}

// NewResultProcessorFromConfig creates a ResultProcessor with the storage
// and the hooks enabled in cfg.
func NewResultProcessorFromConfig(cfg Config, log *slog.Logger) (*ResultProcessor, error) {
	s, err := OpenStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	opts := []ProcessorOption{
		WithStorage(s),
		WithReportDir(cfg.ReportDir),
		WithReportFile(cfg.ReportFile),
		WithRunName(cfg.RunName),
		WithEnvironment(cfg.Environment),
		WithProcessorLogger(log),
	}

	if len(cfg.Elastic.Addresses) > 0 {
		h, err := hook.NewElasticSearchHook(cfg.Elastic.Addresses, cfg.Elastic.APIKey, cfg.Elastic.Index, log)
		if err != nil {
			_ = s.Close()
			return nil, err
		}

		opts = append(opts, WithHook(h))
	}

	if cfg.Slack.Token != "" {
		opts = append(opts, WithHook(hook.NewSlackHook(cfg.Slack.ChannelID, cfg.Slack.Token, log)))
	}

	p, err := NewResultProcessor(opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return p, nil
}

// NewServerFromConfig opens the configured storage and creates a Server on top of it.
func NewServerFromConfig(cfg Config, log *slog.Logger) (*Server, error) {
	s, err := OpenStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	return NewServer(
		WithServerStorage(s),
		WithServerPort(cfg.Server.Port),
		WithRetention(cfg.Server.Retention, cfg.Server.RetentionSchedule),
		WithServerLogger(log),
	), nil
}
