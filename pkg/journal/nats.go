package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS defaults.
const (
	DefaultSubject = "pongworker.exchanges"
	DefaultStream  = "PONGWORKER_EXCHANGES"
)

// Message headers set on every published entry.
const (
	HeaderSession   = "Pongworker-Session"
	HeaderTransport = "Pongworker-Transport"
)

// NATSConfig configures a NATSSink.
type NATSConfig struct {
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
	Name    string `yaml:"name" json:"name"`

	// JetStream publishes with acknowledgement into Stream, created on
	// connect if missing. Entry IDs double as message IDs, so a retried
	// publish is deduplicated by the server.
	JetStream bool          `yaml:"jetstream" json:"jetstream"`
	Stream    string        `yaml:"stream" json:"stream"`
	MaxAge    time.Duration `yaml:"max_age" json:"max_age"`
}

// NATSSink publishes each entry as JSON.
type NATSSink struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	owned   bool
}

// ConnectNATSSink dials cfg.URL and, for JetStream, ensures the stream.
func ConnectNATSSink(cfg NATSConfig) (*NATSSink, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}

	nc, err := nats.Connect(cfg.URL, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: connect %s: %w", cfg.URL, err)
	}

	sink := &NATSSink{nc: nc, subject: cfg.Subject, owned: true}
	if !cfg.JetStream {
		return sink, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Storage:   nats.FileStorage,
			MaxAge:    cfg.MaxAge,
			Retention: nats.LimitsPolicy,
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("journal: add stream %s: %w", cfg.Stream, err)
		}
	}
	sink.js = js
	return sink, nil
}

// NewNATSSink publishes on an existing connection, with JetStream when js
// is non-nil. The caller keeps ownership of nc.
func NewNATSSink(nc *nats.Conn, js nats.JetStreamContext, subject string) *NATSSink {
	if nc == nil {
		panic("journal: nats connection cannot be nil")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{nc: nc, js: js, subject: subject}
}

func (s *NATSSink) Write(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: s.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, e.ID)
	msg.Header.Set(HeaderSession, e.SessionID)
	msg.Header.Set(HeaderTransport, e.Transport)

	if s.js != nil {
		_, err = s.js.PublishMsg(msg, nats.Context(ctx))
		return err
	}
	return s.nc.PublishMsg(msg)
}

func (s *NATSSink) Ping(context.Context) error {
	if st := s.nc.Status(); st != nats.CONNECTED {
		return errors.New("journal: nats " + st.String())
	}
	return nil
}

// Close flushes pending publishes, and closes the connection if the sink
// dialed it.
func (s *NATSSink) Close() error {
	if s.nc.IsClosed() {
		return nil
	}
	err := s.nc.FlushTimeout(5 * time.Second)
	if s.owned {
		s.nc.Close()
	}
	return err
}
