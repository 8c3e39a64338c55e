package main

import (
	"errors"
	"fmt"

	"github.com/fluxorio/pongworker/pkg/config"
	"github.com/fluxorio/pongworker/pkg/journal"
	"github.com/fluxorio/pongworker/pkg/observability/otel"
	"github.com/fluxorio/pongworker/pkg/tcp"
	"github.com/fluxorio/pongworker/pkg/web/admin"
	"github.com/fluxorio/pongworker/pkg/worker"
	"github.com/fluxorio/pongworker/pkg/ws"
)

// EnvPrefix prefixes every environment override, e.g.
// PONGWORKER_WORKER_CHUNK_SIZE or PONGWORKER_ADMIN_ADDR.
const EnvPrefix = "PONGWORKER"

// AppConfig is the complete configuration of the binary.
type AppConfig struct {
	Worker  worker.Config       `yaml:"worker" json:"worker"`
	Log     LogConfig           `yaml:"log" json:"log"`
	TCP     tcp.TCPServerConfig `yaml:"tcp" json:"tcp"`
	WS      ws.Config           `yaml:"ws" json:"ws"`
	Admin   admin.Config        `yaml:"admin" json:"admin"`
	Tracing otel.Config         `yaml:"tracing" json:"tracing"`
	Journal journal.Config      `yaml:"journal" json:"journal"`
}

// LogConfig configures the process logger. Logs never go to stdout.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// File appends logs to a file instead of stderr.
	File string `yaml:"file" json:"file"`
}

// flagOverrides are the command-line settings that win over file and env.
// Empty values leave the loaded configuration untouched.
type flagOverrides struct {
	ConfigPath string
	Prefix     string
	prefixSet  bool
	Framing    string
	OnEOF      string
	LogLevel   string
}

func defaultConfig() AppConfig {
	return AppConfig{
		Worker:  worker.DefaultConfig(),
		Log:     LogConfig{Level: "info", Format: "text"},
		TCP:     *tcp.DefaultTCPServerConfig(":9000"),
		WS:      ws.DefaultConfig(":9001"),
		Tracing: otel.DefaultConfig(),
		Journal: journal.Config{Writer: journal.DefaultOptions()},
	}
}

// loadConfig layers defaults, the config file, PONGWORKER_* variables and
// flags, then validates the result.
func loadConfig(flags flagOverrides) (AppConfig, error) {
	cfg := defaultConfig()
	if err := config.LoadWithEnv(flags.ConfigPath, EnvPrefix, &cfg); err != nil {
		return cfg, err
	}

	// An explicitly empty --prefix is meaningful: echo without a prefix.
	if flags.prefixSet {
		cfg.Worker.Prefix = flags.Prefix
	}
	if flags.Framing != "" {
		cfg.Worker.Framing = flags.Framing
	}
	if flags.OnEOF != "" {
		cfg.Worker.OnEOF = flags.OnEOF
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}

	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg *AppConfig) error {
	if err := cfg.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	err := config.Validate(cfg,
		config.OneOfValidator("Log.Level", "", "debug", "info", "warn", "error"),
		config.OneOfValidator("Log.Format", "", "text", "json"),
		config.OneOfValidator("Tracing.Exporter", otel.ExporterStdout, otel.ExporterZipkin, otel.ExporterJaeger, otel.ExporterNone),
		config.RangeValidator("Tracing.SampleRate", 0, 1),
		config.RequiredFields("WS.Path"),
	)
	if err != nil {
		return err
	}
	if (cfg.Admin.Username == "") != (cfg.Admin.PasswordHash == "") {
		return errors.New("admin: username and password_hash must be set together")
	}
	return nil
}
