package framing

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// LineCodec frames messages with a trailing '\n'.
// A payload containing '\n' cannot be carried; use the length codec for that.
type LineCodec struct {
	maxSize int
}

// NewLineCodec creates a line codec that rejects lines longer than maxSize.
func NewLineCodec(maxSize int) *LineCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &LineCodec{maxSize: maxSize}
}

func (c *LineCodec) Name() string { return Line }

func (c *LineCodec) NewReader(r io.Reader) MessageReader {
	return &lineReader{r: bufio.NewReader(r), maxSize: c.maxSize}
}

func (c *LineCodec) NewWriter(w io.Writer) MessageWriter {
	return &lineWriter{w: bufio.NewWriter(w)}
}

type lineReader struct {
	r       *bufio.Reader
	maxSize int
}

func (lr *lineReader) ReadMessage() ([]byte, error) {
	var (
		line     []byte
		size     int64
		tooLarge bool
	)

	for {
		part, err := lr.r.ReadSlice('\n')
		size += int64(len(part))

		if !tooLarge {
			line = append(line, part...)
			if len(bytes.TrimSuffix(line, []byte{'\n'})) > lr.maxSize {
				tooLarge = true
				line = nil
			}
		}

		switch {
		case err == nil:
			if tooLarge {
				return nil, &FrameTooLargeError{Size: size - 1, Limit: lr.maxSize}
			}
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLarge {
				return nil, &FrameTooLargeError{Size: size, Limit: lr.maxSize}
			}
			if len(line) > 0 {
				// Unterminated last line; EOF surfaces on the next call.
				return line, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

type lineWriter struct {
	w *bufio.Writer
}

func (lw *lineWriter) WriteMessage(msg []byte) error {
	if _, err := lw.w.Write(msg); err != nil {
		return err
	}
	return lw.w.WriteByte('\n')
}

func (lw *lineWriter) Flush() error {
	return lw.w.Flush()
}
