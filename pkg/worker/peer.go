package worker

import "context"

// Transport names reported in Session.Transport.
const (
	TransportStdio     = "stdio"
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Peer identifies the other end of a session.
type Peer struct {
	Transport string
	Addr      string
}

type peerKey struct{}

// WithPeer attaches peer information to ctx for ServeStream.
func WithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

// PeerFromContext returns the peer attached to ctx. Without one the session
// is assumed to run over stdio.
func PeerFromContext(ctx context.Context) Peer {
	if p, ok := ctx.Value(peerKey{}).(Peer); ok {
		return p
	}
	return Peer{Transport: TransportStdio}
}
