package journal

import (
	"context"
	"errors"

	"github.com/fluxorio/pongworker/pkg/core"
)

// Config selects the journal sinks. A sink is enabled by setting its
// location: File.Dir, SQL.DSN or NATS.URL. With several enabled, every
// entry goes to each of them.
type Config struct {
	Writer Options    `yaml:"writer" json:"writer"`
	File   FileConfig `yaml:"file" json:"file"`
	SQL    SQLConfig  `yaml:"sql" json:"sql"`
	NATS   NATSConfig `yaml:"nats" json:"nats"`
}

// Enabled reports whether any sink is configured.
func (c Config) Enabled() bool {
	return c.File.Dir != "" || c.SQL.DSN != "" || c.NATS.URL != ""
}

// Open builds the configured sinks and starts a Journal over them.
// recorder may be nil.
func Open(ctx context.Context, cfg Config, recorder QueryRecorder, logger core.Logger) (*Journal, error) {
	if !cfg.Enabled() {
		return nil, errors.New("journal: no sink configured")
	}

	var sinks MultiSink
	fail := func(err error) (*Journal, error) {
		return nil, errors.Join(err, sinks.Close())
	}

	if cfg.File.Dir != "" {
		s, err := OpenFileSink(cfg.File)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.SQL.DSN != "" {
		s, err := OpenSQLSink(ctx, cfg.SQL, recorder)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.NATS.URL != "" {
		s, err := ConnectNATSSink(cfg.NATS)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	var sink Sink = sinks
	if len(sinks) == 1 {
		sink = sinks[0]
	}
	return New(sink, cfg.Writer, logger), nil
}
