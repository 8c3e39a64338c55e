// Package ws serves worker sessions over WebSocket. Each WebSocket message is
// one frame; replies are sent with the message type of the request.
package ws

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxorio/pongworker/pkg/framing"
)

// Stream adapts a WebSocket connection to framing.Stream.
// One goroutine may read while another writes, which is what a worker
// session does. Every message read gets exactly one WriteMessage or
// SkipReply, in read order.
type Stream struct {
	conn         *websocket.Conn
	maxSize      int
	idleTimeout  time.Duration
	writeTimeout time.Duration

	// awaiting holds the types of messages read but not yet answered,
	// oldest first.
	mu       sync.Mutex
	awaiting []int

	pending []outgoing
}

type outgoing struct {
	mt  int
	msg []byte
}

// NewStream wraps conn. Messages above maxSize are reported as
// *framing.FrameTooLargeError and skipped. Zero timeouts disable deadlines.
func NewStream(conn *websocket.Conn, maxSize int, idleTimeout, writeTimeout time.Duration) *Stream {
	return &Stream{
		conn:         conn,
		maxSize:      maxSize,
		idleTimeout:  idleTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadMessage returns the next data message. A close frame with a normal or
// going-away code ends the stream with io.EOF.
func (s *Stream) ReadMessage() ([]byte, error) {
	if s.idleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	}
	mt, msg, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	if s.maxSize > 0 && len(msg) > s.maxSize {
		return nil, &framing.FrameTooLargeError{Size: int64(len(msg)), Limit: s.maxSize}
	}
	s.mu.Lock()
	s.awaiting = append(s.awaiting, mt)
	s.mu.Unlock()
	return msg, nil
}

// nextType pops the type of the oldest unanswered message. Unsolicited
// writes go out as binary.
func (s *Stream) nextType() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.awaiting) == 0 {
		return websocket.BinaryMessage
	}
	mt := s.awaiting[0]
	s.awaiting = s.awaiting[1:]
	return mt
}

// WriteMessage queues msg until Flush, typed like the request it answers.
func (s *Stream) WriteMessage(msg []byte) error {
	s.pending = append(s.pending, outgoing{mt: s.nextType(), msg: msg})
	return nil
}

// SkipReply forgets the oldest unanswered message.
func (s *Stream) SkipReply() {
	s.nextType()
}

// Flush sends queued messages, one WebSocket message each.
func (s *Stream) Flush() error {
	for i, out := range s.pending {
		if s.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if err := s.conn.WriteMessage(out.mt, out.msg); err != nil {
			s.pending = s.pending[i:]
			return err
		}
	}
	s.pending = s.pending[:0]
	return nil
}

// Close sends a close frame with code and closes the connection.
func (s *Stream) Close(code int, text string) error {
	deadline := time.Now().Add(time.Second)
	err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return errors.Join(err, s.conn.Close())
}

var _ framing.ReplySkipper = (*Stream)(nil)
