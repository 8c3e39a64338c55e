// Package appendlog is an append-only record store kept in size-rotated
// segment files. Appends are buffered in memory and written by one
// background flusher, so Append never waits on disk unless fsync durability
// is requested.
package appendlog

import "errors"

// Offset is a monotonically increasing position within a store. The first
// record gets offset 1.
type Offset uint64

// Durability specifies when Append is acknowledged.
type Durability int

const (
	// DurabilityMemory acknowledges after the record is queued in memory.
	DurabilityMemory Durability = iota
	// DurabilityFsync acknowledges after the active segment is fsync'd.
	DurabilityFsync
)

// ParseDurability maps "memory" and "fsync" to a Durability.
func ParseDurability(s string) (Durability, error) {
	switch s {
	case "", "memory":
		return DurabilityMemory, nil
	case "fsync":
		return DurabilityFsync, nil
	default:
		return 0, errors.New(`appendlog: durability must be "memory" or "fsync"`)
	}
}

// Record is one stored payload.
type Record struct {
	Offset Offset
	Data   []byte
}

// Store is an append-only log.
//
//   - No in-place updates or deletes; old segments are only dropped by retention.
//   - Offsets increase monotonically, across restarts too.
//   - Append fails fast with ErrBackpressure when the in-memory queue is full.
type Store interface {
	Append(data []byte) (Offset, error)
	Read(from Offset, limit int) ([]Record, error)
	Scan(from Offset, fn func(Record) error) error
	Rotate() error
	Sync() error
	Close() error
	Stats() Stats
}

// Stats exposes basic operational counters.
type Stats struct {
	BufferedBytes   int64 `json:"buffered_bytes"`
	WrittenBytes    int64 `json:"written_bytes"`
	AppendedRecords int64 `json:"appended_records"`
	RejectedAppends int64 `json:"rejected_appends"`
	FailedWrites    int64 `json:"failed_writes"`
	Segments        int   `json:"segments"`
}

// Errors.
var (
	ErrClosed         = errors.New("appendlog: store closed")
	ErrEmptyRecord    = errors.New("appendlog: empty record")
	ErrBackpressure   = errors.New("appendlog: append queue full")
	ErrInvalidReadArg = errors.New("appendlog: read limit must be positive")
	// ErrStopScan may be returned by a Scan callback to end the scan early
	// without an error.
	ErrStopScan = errors.New("appendlog: stop scan")
)
