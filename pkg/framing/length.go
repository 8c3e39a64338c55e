package framing

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const lengthHeaderSize = 4

// LengthCodec frames messages as [len u32 big-endian][payload].
type LengthCodec struct {
	maxSize int
}

// NewLengthCodec creates a length-prefixed codec rejecting payloads above maxSize.
func NewLengthCodec(maxSize int) *LengthCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &LengthCodec{maxSize: maxSize}
}

func (c *LengthCodec) Name() string { return Length }

func (c *LengthCodec) NewReader(r io.Reader) MessageReader {
	return &lengthReader{r: bufio.NewReader(r), maxSize: c.maxSize}
}

func (c *LengthCodec) NewWriter(w io.Writer) MessageWriter {
	return &lengthWriter{w: bufio.NewWriter(w)}
}

type lengthReader struct {
	r       *bufio.Reader
	maxSize int
	hdr     [lengthHeaderSize]byte
}

func (lr *lengthReader) ReadMessage() ([]byte, error) {
	if _, err := io.ReadFull(lr.r, lr.hdr[:]); err != nil {
		// io.EOF only when no header byte was read; a partial header is
		// io.ErrUnexpectedEOF.
		return nil, err
	}

	n := binary.BigEndian.Uint32(lr.hdr[:])
	if int64(n) > int64(lr.maxSize) {
		if _, err := io.CopyN(io.Discard, lr.r, int64(n)); err != nil {
			return nil, truncated(err)
		}
		return nil, &FrameTooLargeError{Size: int64(n), Limit: lr.maxSize}
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(lr.r, msg); err != nil {
		return nil, truncated(err)
	}
	return msg, nil
}

// truncated reports a payload cut short by end of stream.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

type lengthWriter struct {
	w   *bufio.Writer
	hdr [lengthHeaderSize]byte
}

func (lw *lengthWriter) WriteMessage(msg []byte) error {
	if uint64(len(msg)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes do not fit a u32 header", ErrFrameTooLarge, len(msg))
	}
	binary.BigEndian.PutUint32(lw.hdr[:], uint32(len(msg)))
	if _, err := lw.w.Write(lw.hdr[:]); err != nil {
		return err
	}
	_, err := lw.w.Write(msg)
	return err
}

func (lw *lengthWriter) Flush() error {
	return lw.w.Flush()
}
