package framing

import (
	"bufio"
	"io"
)

// RawCodec treats every Read as one message.
type RawCodec struct {
	chunkSize int
}

// NewRawCodec creates a raw codec reading at most chunkSize bytes per message.
func NewRawCodec(chunkSize int) *RawCodec {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &RawCodec{chunkSize: chunkSize}
}

func (c *RawCodec) Name() string { return Raw }

// ChunkSize returns the maximum message size.
func (c *RawCodec) ChunkSize() int { return c.chunkSize }

func (c *RawCodec) NewReader(r io.Reader) MessageReader {
	return &rawReader{r: r, buf: make([]byte, c.chunkSize)}
}

func (c *RawCodec) NewWriter(w io.Writer) MessageWriter {
	return &rawWriter{w: bufio.NewWriter(w)}
}

type rawReader struct {
	r   io.Reader
	buf []byte
	// err is held back when a Read returned data and an error together.
	err error
}

func (rr *rawReader) ReadMessage() ([]byte, error) {
	if rr.err != nil {
		err := rr.err
		rr.err = nil
		return nil, err
	}

	n, err := rr.r.Read(rr.buf)
	if n > 0 {
		msg := make([]byte, n)
		copy(msg, rr.buf[:n])
		rr.err = err
		return msg, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNoData
}

type rawWriter struct {
	w *bufio.Writer
}

func (rw *rawWriter) WriteMessage(msg []byte) error {
	_, err := rw.w.Write(msg)
	return err
}

func (rw *rawWriter) Flush() error {
	return rw.w.Flush()
}
