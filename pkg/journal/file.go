package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fluxorio/pongworker/pkg/appendlog"
)

// FileConfig configures a FileSink.
type FileConfig struct {
	Dir             string `yaml:"dir" json:"dir"`
	MaxSegmentBytes int64  `yaml:"max_segment_bytes" json:"max_segment_bytes"`
	MaxSegments     int    `yaml:"max_segments" json:"max_segments"`
	// Durability is "memory" or "fsync".
	Durability string `yaml:"durability" json:"durability"`
}

// StoreConfig converts c to an appendlog config.
func (c FileConfig) StoreConfig() (appendlog.FSStoreConfig, error) {
	d, err := appendlog.ParseDurability(c.Durability)
	if err != nil {
		return appendlog.FSStoreConfig{}, err
	}
	cfg := appendlog.DefaultFSStoreConfig(c.Dir)
	if c.MaxSegmentBytes > 0 {
		cfg.MaxSegmentBytes = c.MaxSegmentBytes
	}
	cfg.MaxSegments = c.MaxSegments
	cfg.Durability = d
	return cfg, nil
}

// FileSink appends one JSON document per entry to an append-only log.
type FileSink struct {
	store appendlog.Store
}

// NewFileSink wraps an open store. The sink owns it and closes it on Close.
func NewFileSink(store appendlog.Store) *FileSink {
	if store == nil {
		panic("journal: store cannot be nil")
	}
	return &FileSink{store: store}
}

// OpenFileSink opens the log described by cfg.
func OpenFileSink(cfg FileConfig) (*FileSink, error) {
	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, err := appendlog.NewFSStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", cfg.Dir, err)
	}
	return NewFileSink(store), nil
}

func (s *FileSink) Write(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.store.Append(data)
	return err
}

// Store exposes the underlying log.
func (s *FileSink) Store() appendlog.Store {
	return s.store
}

func (s *FileSink) Close() error {
	return s.store.Close()
}

// ReadFile calls fn for each entry in store, oldest first, starting at
// offset from. Queued appends are synced first so every accepted entry is
// visible. fn may return appendlog.ErrStopScan to stop early.
func ReadFile(store appendlog.Store, from appendlog.Offset, fn func(appendlog.Offset, Entry) error) error {
	if err := store.Sync(); err != nil {
		return err
	}
	return store.Scan(from, func(r appendlog.Record) error {
		var e Entry
		if err := json.Unmarshal(r.Data, &e); err != nil {
			return fmt.Errorf("journal: record %d: %w", r.Offset, err)
		}
		return fn(r.Offset, e)
	})
}
