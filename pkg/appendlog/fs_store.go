package appendlog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/pongworker/pkg/core/concurrency"
)

// Segment record layout, little endian: [offset u64][len u32][data].
const recordHeaderSize = 12

// FSStoreConfig configures the file-backed append-only store.
type FSStoreConfig struct {
	Dir string

	// MaxSegmentBytes triggers rotation when the active segment would exceed it.
	MaxSegmentBytes int64

	// MaxBufferedBytes bounds queued bytes. When exceeded, Append fails fast.
	MaxBufferedBytes int64

	// QueueSize bounds the number of queued appends.
	QueueSize int

	// MaxSegments keeps at most this many segment files, dropping the oldest
	// sealed ones after a rotation. Zero keeps everything.
	MaxSegments int

	// Durability controls when Append is acknowledged.
	Durability Durability
}

// DefaultFSStoreConfig returns a conservative default config.
func DefaultFSStoreConfig(dir string) FSStoreConfig {
	return FSStoreConfig{
		Dir:              dir,
		MaxSegmentBytes:  64 << 20, // 64MB
		MaxBufferedBytes: 8 << 20,  // 8MB
		QueueSize:        1024,
		Durability:       DurabilityMemory,
	}
}

// NewFSStore opens or creates a store in cfg.Dir. Existing segments are
// scanned to continue the offset sequence; a torn record at the end of the
// newest segment is truncated away.
func NewFSStore(cfg FSStoreConfig) (Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("appendlog: dir is required")
	}
	defaults := DefaultFSStoreConfig(cfg.Dir)
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = defaults.MaxSegmentBytes
	}
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = defaults.MaxBufferedBytes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &fsStore{
		cfg:   cfg,
		queue: concurrency.NewBoundedMailbox[appendReq](cfg.QueueSize),
		stop:  cancel,
		done:  make(chan struct{}),
	}
	if err := s.openOrRecover(); err != nil {
		cancel()
		s.queue.Close()
		if s.activeFile != nil {
			_ = s.activeFile.Close()
		}
		return nil, err
	}

	go s.flushLoop(ctx)
	return s, nil
}

type appendReq struct {
	offset  Offset
	data    []byte
	barrier bool
	ackCh   chan error
}

// fsStore implements Store with an in-memory queue drained by one flusher
// goroutine into the active segment file.
type fsStore struct {
	cfg FSStoreConfig

	// stateMu guards closed and every send on queue, so Close never races
	// an Append.
	stateMu sync.RWMutex
	closed  bool

	queue concurrency.Mailbox[appendReq]
	stop  context.CancelFunc
	done  chan struct{}

	nextOffset uint64 // atomic

	// fileMu guards the active segment.
	fileMu     sync.Mutex
	activeID   int
	activeFile *os.File
	activeBuf  *bufio.Writer
	activeSize int64

	bufferedBytes   int64
	writtenBytes    int64
	appendedRecords int64
	rejectedAppends int64
	failedWrites    int64
	segments        int64
}

func (s *fsStore) openOrRecover() error {
	segments, err := listSegments(s.cfg.Dir)
	if err != nil {
		return err
	}

	var maxOffset Offset
	var validSize int64
	for i, seg := range segments {
		off, size, err := scanSegment(seg.path)
		if err != nil {
			return err
		}
		if off > maxOffset {
			maxOffset = off
		}
		if i == len(segments)-1 {
			validSize = size
		}
	}
	atomic.StoreUint64(&s.nextOffset, uint64(maxOffset)+1)

	s.activeID = 1
	if len(segments) > 0 {
		s.activeID = segments[len(segments)-1].id
	}
	f, err := os.OpenFile(segmentPath(s.cfg.Dir, s.activeID), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if len(segments) > 0 && st.Size() > validSize {
		if err := f.Truncate(validSize); err != nil {
			_ = f.Close()
			return fmt.Errorf("appendlog: truncate torn record: %w", err)
		}
	} else {
		validSize = st.Size()
	}
	if _, err := f.Seek(validSize, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}

	s.activeFile = f
	s.activeSize = validSize
	s.activeBuf = bufio.NewWriterSize(f, 256<<10)
	atomic.StoreInt64(&s.segments, int64(max(len(segments), 1)))
	return nil
}

func (s *fsStore) Append(data []byte) (Offset, error) {
	if len(data) == 0 {
		return 0, ErrEmptyRecord
	}

	size := int64(len(data))
	for {
		cur := atomic.LoadInt64(&s.bufferedBytes)
		if cur+size > s.cfg.MaxBufferedBytes {
			atomic.AddInt64(&s.rejectedAppends, 1)
			return 0, ErrBackpressure
		}
		if atomic.CompareAndSwapInt64(&s.bufferedBytes, cur, cur+size) {
			break
		}
	}

	req := appendReq{data: append([]byte(nil), data...)}
	if s.cfg.Durability == DurabilityFsync {
		req.ackCh = make(chan error, 1)
	}

	// Offset assignment and enqueue share one critical section, so queue
	// order is offset order. Send never blocks.
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		atomic.AddInt64(&s.bufferedBytes, -size)
		return 0, ErrClosed
	}
	req.offset = Offset(atomic.AddUint64(&s.nextOffset, 1) - 1)
	err := s.queue.Send(req)
	if err != nil {
		atomic.AddUint64(&s.nextOffset, ^uint64(0))
	}
	s.stateMu.Unlock()

	if err != nil {
		atomic.AddInt64(&s.rejectedAppends, 1)
		atomic.AddInt64(&s.bufferedBytes, -size)
		return 0, ErrBackpressure
	}
	atomic.AddInt64(&s.appendedRecords, 1)

	if req.ackCh == nil {
		return req.offset, nil
	}
	return req.offset, <-req.ackCh
}

func (s *fsStore) Read(from Offset, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidReadArg
	}

	out := make([]Record, 0, min(limit, 128))
	err := s.Scan(from, func(r Record) error {
		out = append(out, r)
		if len(out) >= limit {
			return ErrStopScan
		}
		return nil
	})
	return out, err
}

// Scan calls fn for every written record with offset >= from, in offset
// order. Records still queued in memory are not visible until the flusher
// writes them; call Sync first to see every acknowledged append.
func (s *fsStore) Scan(from Offset, fn func(Record) error) error {
	s.fileMu.Lock()
	if s.activeBuf != nil {
		if err := s.activeBuf.Flush(); err != nil {
			s.fileMu.Unlock()
			return err
		}
	}
	s.fileMu.Unlock()

	segs, err := listSegments(s.cfg.Dir)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		err := scanSegmentRecords(seg.path, func(r Record) error {
			if r.Offset < from {
				return nil
			}
			return fn(r)
		})
		if errors.Is(err, os.ErrNotExist) {
			// Dropped by retention after listing.
			continue
		}
		if err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *fsStore) Rotate() error {
	s.stateMu.RLock()
	closed := s.closed
	s.stateMu.RUnlock()
	if closed {
		return ErrClosed
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.rotateLocked()
}

func (s *fsStore) rotateLocked() error {
	if err := s.activeBuf.Flush(); err != nil {
		return err
	}
	if s.cfg.Durability == DurabilityFsync {
		if err := s.activeFile.Sync(); err != nil {
			return err
		}
	}
	if err := s.activeFile.Close(); err != nil {
		return err
	}

	s.activeID++
	f, err := os.OpenFile(segmentPath(s.cfg.Dir, s.activeID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.activeFile = f
	s.activeBuf.Reset(f)
	s.activeSize = 0
	atomic.AddInt64(&s.segments, 1)

	return s.applyRetentionLocked()
}

func (s *fsStore) applyRetentionLocked() error {
	if s.cfg.MaxSegments <= 0 {
		return nil
	}
	segs, err := listSegments(s.cfg.Dir)
	if err != nil {
		return err
	}
	for len(segs) > s.cfg.MaxSegments && segs[0].id != s.activeID {
		if err := os.Remove(segs[0].path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		segs = segs[1:]
		atomic.AddInt64(&s.segments, -1)
	}
	return nil
}

// Sync waits until every append queued before the call is written, then
// flushes and fsyncs the active segment.
func (s *fsStore) Sync() error {
	ack := make(chan error, 1)

	s.stateMu.RLock()
	if s.closed {
		s.stateMu.RUnlock()
		return ErrClosed
	}
	err := s.queue.SendContext(context.Background(), appendReq{barrier: true, ackCh: ack})
	s.stateMu.RUnlock()
	if err != nil {
		return err
	}
	return <-ack
}

func (s *fsStore) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	s.stateMu.Unlock()

	s.stop()
	<-s.done
	s.queue.Close()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	flushErr := s.activeBuf.Flush()
	var syncErr error
	if s.cfg.Durability == DurabilityFsync {
		syncErr = s.activeFile.Sync()
	}
	return errors.Join(flushErr, syncErr, s.activeFile.Close())
}

func (s *fsStore) Stats() Stats {
	return Stats{
		BufferedBytes:   atomic.LoadInt64(&s.bufferedBytes),
		WrittenBytes:    atomic.LoadInt64(&s.writtenBytes),
		AppendedRecords: atomic.LoadInt64(&s.appendedRecords),
		RejectedAppends: atomic.LoadInt64(&s.rejectedAppends),
		FailedWrites:    atomic.LoadInt64(&s.failedWrites),
		Segments:        int(atomic.LoadInt64(&s.segments)),
	}
}

// flushLoop persists queued appends in order. After stop it drains whatever
// is still queued, so Close loses nothing that Append accepted.
func (s *fsStore) flushLoop(ctx context.Context) {
	defer close(s.done)

	for {
		req, err := s.queue.Receive(ctx)
		if err != nil {
			break
		}
		s.handle(req)
	}
	for {
		req, ok, err := s.queue.TryReceive()
		if err != nil || !ok {
			return
		}
		s.handle(req)
	}
}

func (s *fsStore) handle(req appendReq) {
	if req.barrier {
		req.ackCh <- s.syncActive()
		return
	}

	err := s.appendToDisk(req.offset, req.data)
	atomic.AddInt64(&s.bufferedBytes, -int64(len(req.data)))
	if err != nil {
		atomic.AddInt64(&s.failedWrites, 1)
	}
	if req.ackCh != nil {
		req.ackCh <- err
	}
}

func (s *fsStore) syncActive() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if err := s.activeBuf.Flush(); err != nil {
		return err
	}
	return s.activeFile.Sync()
}

func (s *fsStore) appendToDisk(offset Offset, data []byte) error {
	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(offset))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	recSize := int64(recordHeaderSize + len(data))

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.activeSize > 0 && s.activeSize+recSize > s.cfg.MaxSegmentBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	if _, err := s.activeBuf.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := s.activeBuf.Write(data); err != nil {
		return err
	}
	s.activeSize += recSize
	atomic.AddInt64(&s.writtenBytes, recSize)

	if s.cfg.Durability == DurabilityFsync {
		if err := s.activeBuf.Flush(); err != nil {
			return err
		}
		return s.activeFile.Sync()
	}
	return nil
}

type segInfo struct {
	id   int
	path string
}

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", id))
}

func listSegments(dir string) ([]segInfo, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []segInfo
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, ".log"))
		if err != nil {
			continue
		}
		segs = append(segs, segInfo{id: id, path: filepath.Join(dir, name)})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// scanSegment returns the highest offset in path and the size of its
// complete records. A torn trailing record is excluded from the size.
func scanSegment(path string) (Offset, int64, error) {
	var maxOff Offset
	var size int64
	err := scanSegmentRecords(path, func(r Record) error {
		if r.Offset > maxOff {
			maxOff = r.Offset
		}
		size += int64(recordHeaderSize + len(r.Data))
		return nil
	})
	return maxOff, size, err
}

// scanSegmentRecords calls fn for each complete record in path.
func scanSegmentRecords(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderSize]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		off := Offset(binary.LittleEndian.Uint64(hdr[0:8]))
		n := binary.LittleEndian.Uint32(hdr[8:12])
		if int64(n) > st.Size() {
			// Garbage length from a torn header.
			return nil
		}

		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		if err := fn(Record{Offset: off, Data: data}); err != nil {
			return err
		}
	}
}

var _ Store = (*fsStore)(nil)
