package tcp

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/framing"
	"github.com/fluxorio/pongworker/pkg/worker"
)

func newTestTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(10 * time.Minute),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
	}
}

// startServer listens on a random port and runs Start in the background.
// Stop is registered as cleanup; Start must return nil afterwards.
func startServer(t *testing.T, cfg *TCPServerConfig, h ConnectionHandler) (*TCPServer, string) {
	t.Helper()

	s := NewTCPServer(cfg, h, core.NewNopLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- s.Start() }()

	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("stop failed: %v", err)
		}
		select {
		case err := <-startErrCh:
			if err != nil {
				t.Errorf("start returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("start did not exit after stop")
		}
	})

	return s, s.ListeningAddr()
}

func testConfig(workers, queue int) *TCPServerConfig {
	cfg := DefaultTCPServerConfig("127.0.0.1:0")
	cfg.Workers = workers
	cfg.MaxQueue = queue
	cfg.IdleTimeout = 2 * time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func newLineWorker(t *testing.T) *worker.Worker {
	t.Helper()
	cfg := worker.DefaultConfig()
	cfg.Framing = framing.Line
	w, err := worker.New(cfg)
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	return w
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewTCPServer_NilHandlerPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for nil handler")
		}
	}()
	_ = NewTCPServer(DefaultTCPServerConfig(":0"), nil, core.NewNopLogger())
}

func TestTCPServer_WorkerSession(t *testing.T) {
	cfg := testConfig(2, 10)
	_, addr := startServer(t, cfg, WorkerHandler(newLineWorker(t), cfg.IdleTimeout, cfg.WriteTimeout))

	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	r := bufio.NewReader(conn)
	for _, msg := range []string{"hello", "", "b"} {
		if _, err := io.WriteString(conn, msg+"\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if want := "pong: " + msg + "\n"; line != want {
			t.Errorf("reply = %q, want %q", line, want)
		}
	}

	// Half-close ends the session cleanly; the server then closes the conn.
	_ = conn.(*net.TCPConn).CloseWrite()
	if _, err := r.ReadByte(); err != io.EOF {
		t.Errorf("after CloseWrite read err = %v, want io.EOF", err)
	}
}

func TestTCPServer_ConcurrentSessionsAreIndependent(t *testing.T) {
	cfg := testConfig(4, 10)
	_, addr := startServer(t, cfg, WorkerHandler(newLineWorker(t), cfg.IdleTimeout, cfg.WriteTimeout))

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(id int) {
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

			msg := string(rune('a' + id))
			_, _ = io.WriteString(conn, msg+"\n")
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err == nil && line != "pong: "+msg+"\n" {
				err = io.ErrUnexpectedEOF
			}
			errs <- err
		}(i)
	}

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Errorf("session %d: %v", i, err)
		}
	}
}

func TestTCPServer_IdleTimeoutClosesSession(t *testing.T) {
	cfg := testConfig(1, 10)
	cfg.IdleTimeout = 50 * time.Millisecond
	s, addr := startServer(t, cfg, WorkerHandler(newLineWorker(t), cfg.IdleTimeout, cfg.WriteTimeout))

	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("read err = %v, want io.EOF after idle timeout", err)
	}
	waitFor(t, func() bool { return s.Metrics().ActiveConnections == 0 }, "connection slot not released")
	if got := s.Metrics().ErrorConnections; got != 0 {
		t.Errorf("ErrorConnections = %d, idle close must not count as an error", got)
	}
}

func TestTCPServer_StopCancelsSessions(t *testing.T) {
	cfg := testConfig(1, 10)
	s := NewTCPServer(cfg, WorkerHandler(newLineWorker(t), time.Minute, time.Second), core.NewNopLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() { _ = s.Start() }()

	conn, err := net.DialTimeout("tcp", s.ListeningAddr(), 500*time.Millisecond)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return s.Metrics().HandledConnections == 1 }, "session did not start")

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop() blocked on an idle session")
	}
}

func TestTCPServer_BackpressureRejectsConnections(t *testing.T) {
	block := make(chan struct{})
	s, addr := startServer(t, testConfig(1, 1), func(ctx context.Context, conn net.Conn) error {
		<-block // block to keep load high
		return nil
	})
	// Registered after startServer so it runs before Stop.
	t.Cleanup(func() { close(block) })

	// Create enough connections to exceed (workers + queue) baseline and force rejection.
	var conns []net.Conn
	for i := 0; i < 10; i++ {
		c, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conns = append(conns, c)
		}
	}
	t.Cleanup(func() {
		for _, c := range conns {
			_ = c.Close()
		}
	})

	waitFor(t, func() bool { return s.Metrics().RejectedConnections > 0 },
		"expected at least one rejected connection under backpressure")
}

func TestTCPServer_PanicIsolation(t *testing.T) {
	var calls int64
	s, addr := startServer(t, testConfig(1, 5), func(ctx context.Context, conn net.Conn) error {
		if atomic.AddInt64(&calls, 1) == 1 {
			panic("boom")
		}
		return nil
	})

	for i := 0; i < 2; i++ {
		c, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}
		_ = c.Close()
	}

	waitFor(t, func() bool { return atomic.LoadInt64(&calls) >= 2 }, "expected second call after panic")
	waitFor(t, func() bool { return s.Metrics().ErrorConnections == 1 }, "panic not counted as error")
}

func TestTCPServer_MaxConnsRejects(t *testing.T) {
	cfg := testConfig(1, 10)
	cfg.MaxConns = 1

	block := make(chan struct{})
	s, addr := startServer(t, cfg, func(ctx context.Context, conn net.Conn) error {
		<-block
		return nil
	})
	t.Cleanup(func() { close(block) })

	// First connection reserves the only slot.
	c1, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("dial1 failed: %v", err)
	}
	t.Cleanup(func() { _ = c1.Close() })

	waitFor(t, func() bool { return s.Metrics().ActiveConnections >= 1 }, "expected active connections to reach 1")

	for i := 0; i < 20; i++ {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
		}
	}

	waitFor(t, func() bool { return s.Metrics().RejectedConnections > 0 }, "expected rejected connections due to MaxConns")
}

func TestTCPServer_TLSWorkerSession(t *testing.T) {
	cfg := testConfig(1, 10)
	cfg.TLSConfig = newTestTLSConfig(t)
	_, addr := startServer(t, cfg, WorkerHandler(newLineWorker(t), cfg.IdleTimeout, cfg.WriteTimeout))

	c, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("tls dial failed: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(2 * time.Second))

	_, _ = io.WriteString(c, "secure\n")
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "pong: secure\n" {
		t.Errorf("reply = %q", line)
	}
}
