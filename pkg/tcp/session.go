package tcp

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/fluxorio/pongworker/pkg/worker"
)

// WorkerHandler runs one worker session per connection using the worker's
// codec. A connection that stays silent for idleTimeout is closed without an
// error being reported.
func WorkerHandler(w *worker.Worker, idleTimeout, writeTimeout time.Duration) ConnectionHandler {
	return func(ctx context.Context, conn net.Conn) error {
		ctx = worker.WithPeer(ctx, worker.Peer{
			Transport: worker.TransportTCP,
			Addr:      conn.RemoteAddr().String(),
		})

		dc := &deadlineConn{Conn: conn, idle: idleTimeout, write: writeTimeout}
		err := w.Serve(ctx, dc, dc)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil
		default:
			return err
		}
	}
}

// deadlineConn refreshes the read deadline before every Read and the write
// deadline before every Write.
type deadlineConn struct {
	net.Conn
	idle  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.idle > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.write > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	}
	return c.Conn.Write(p)
}
