package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/fluxorio/pongworker/pkg/framing"
)

// EOF policies.
const (
	// OnEOFStop ends the session on end of stream or read error.
	OnEOFStop = "stop"
	// OnEOFRetry treats end of stream and read errors like "no data yet":
	// the loop sleeps PollInterval and reads again until cancelled.
	OnEOFRetry = "retry"
)

const (
	DefaultPrefix       = "pong: "
	DefaultPollInterval = 100 * time.Microsecond
	DefaultQueueSize    = 16
)

// Config configures a Worker. The yaml tags double as environment override
// keys (PONGWORKER_WORKER_<TAG>).
type Config struct {
	Prefix         string        `yaml:"prefix" json:"prefix"`
	Framing        string        `yaml:"framing" json:"framing"`
	ChunkSize      int           `yaml:"chunk_size" json:"chunk_size"`
	MaxMessageSize int           `yaml:"max_message_size" json:"max_message_size"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	OnEOF          string        `yaml:"on_eof" json:"on_eof"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns the configuration of a plain stdio pong worker.
func DefaultConfig() Config {
	return Config{
		Prefix:         DefaultPrefix,
		Framing:        framing.Raw,
		ChunkSize:      framing.DefaultChunkSize,
		MaxMessageSize: framing.DefaultMaxMessageSize,
		PollInterval:   DefaultPollInterval,
		OnEOF:          OnEOFStop,
		QueueSize:      DefaultQueueSize,
	}
}

// Validate checks the configuration. Zero sizes and intervals are accepted
// and replaced by defaults in New.
func (c Config) Validate() error {
	if _, err := framing.New(c.Framing, c.ChunkSize, c.MaxMessageSize); err != nil {
		return err
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must not be negative, got %d", c.ChunkSize)
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("max_message_size must not be negative, got %d", c.MaxMessageSize)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative, got %d", c.QueueSize)
	}
	switch strings.ToLower(c.OnEOF) {
	case "", OnEOFStop, OnEOFRetry:
	default:
		return fmt.Errorf("on_eof must be %q or %q, got %q", OnEOFStop, OnEOFRetry, c.OnEOF)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ChunkSize == 0 {
		c.ChunkSize = framing.DefaultChunkSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = framing.DefaultMaxMessageSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	c.OnEOF = strings.ToLower(c.OnEOF)
	if c.OnEOF == "" {
		c.OnEOF = OnEOFStop
	}
	return c
}
