package tcp

import (
	"context"
	"net"
)

// ConnectionHandler handles a single TCP connection.
// ctx is cancelled when the server stops. The server closes conn after the
// handler returns.
type ConnectionHandler func(ctx context.Context, conn net.Conn) error

// ServerMetrics provides TCP server performance metrics.
type ServerMetrics struct {
	QueuedConnections   int64   // Current queued connections
	RejectedConnections int64   // Total rejected connections (backpressure or max_conns)
	QueueCapacity       int     // Maximum queue capacity
	Workers             int     // Number of worker goroutines
	QueueUtilization    float64 // Queue utilization percentage
	NormalCCU           int     // Normal capacity (queue + workers)
	CurrentCCU          int     // Connections holding capacity
	CCUUtilization      float64 // CurrentCCU as a percentage of NormalCCU
	TotalAccepted       int64   // Total connections accepted
	HandledConnections  int64   // Total connections handed to the handler
	ErrorConnections    int64   // Handler errors and panics
	ActiveConnections   int64   // Queued plus handling
	MaxConns            int     // Configured limit, 0 means unlimited
}
