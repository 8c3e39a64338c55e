// Package framing splits a byte stream into messages and writes messages
// back onto a stream.
//
// Three codecs are provided:
//
//   - raw: one message per Read call, at most ChunkSize bytes, no delimiter
//     on output. Message boundaries follow OS read boundaries.
//   - line: messages end with '\n'; the delimiter is stripped on read and
//     appended on write.
//   - length: each message is preceded by its length as a big-endian uint32.
//
// Every MessageWriter buffers and only reaches the underlying writer on Flush.
package framing

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Codec names.
const (
	Raw    = "raw"
	Line   = "line"
	Length = "length"
)

const (
	// DefaultChunkSize is the raw read size.
	DefaultChunkSize = 1024

	// DefaultMaxMessageSize bounds line and length frames.
	DefaultMaxMessageSize = 1 << 20
)

var (
	// ErrNoData is returned by a raw reader whose source returned (0, nil).
	// The caller should back off and read again.
	ErrNoData = errors.New("framing: no data available")

	// ErrFrameTooLarge is matched by *FrameTooLargeError.
	ErrFrameTooLarge = errors.New("framing: frame too large")

	// ErrUnknownCodec is returned by New for an unknown codec name.
	ErrUnknownCodec = errors.New("framing: unknown codec")
)

// FrameTooLargeError reports a frame above the size limit. The reader has
// already consumed and discarded the frame, so reading can continue.
type FrameTooLargeError struct {
	Size  int64
	Limit int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("framing: frame of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

func (e *FrameTooLargeError) Is(target error) bool {
	return target == ErrFrameTooLarge
}

// MessageReader reads one message at a time.
type MessageReader interface {
	// ReadMessage returns the next message. The returned slice is owned by
	// the caller. io.EOF marks a clean end of stream.
	ReadMessage() ([]byte, error)
}

// MessageWriter writes one message at a time.
type MessageWriter interface {
	// WriteMessage buffers msg with the codec's framing.
	WriteMessage(msg []byte) error

	// Flush pushes buffered messages to the underlying writer.
	Flush() error
}

// Stream is a bidirectional message channel.
type Stream interface {
	MessageReader
	MessageWriter
}

// ReplySkipper is implemented by streams that pair each reply with the
// message it answers. A session calls SkipReply, in read order, for every
// message it read successfully but will not answer.
type ReplySkipper interface {
	SkipReply()
}

// Codec creates readers and writers for one framing scheme.
type Codec interface {
	Name() string
	NewReader(r io.Reader) MessageReader
	NewWriter(w io.Writer) MessageWriter
}

// New returns the codec registered under name.
// chunkSize applies to raw, maxMessageSize to line and length; values <= 0
// select the defaults.
func New(name string, chunkSize, maxMessageSize int) (Codec, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Raw:
		return NewRawCodec(chunkSize), nil
	case Line:
		return NewLineCodec(maxMessageSize), nil
	case Length:
		return NewLengthCodec(maxMessageSize), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// NewStream pairs a reader and a writer of codec over r and w.
func NewStream(codec Codec, r io.Reader, w io.Writer) Stream {
	return &stream{
		MessageReader: codec.NewReader(r),
		MessageWriter: codec.NewWriter(w),
	}
}

type stream struct {
	MessageReader
	MessageWriter
}
