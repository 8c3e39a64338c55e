package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxorio/pongworker/pkg/appendlog"
	"github.com/fluxorio/pongworker/pkg/journal"
	"github.com/fluxorio/pongworker/pkg/observability/prometheus"
	"github.com/fluxorio/pongworker/pkg/tcp"
	"github.com/fluxorio/pongworker/pkg/web/middleware/auth"
	"github.com/fluxorio/pongworker/pkg/worker"
	"github.com/fluxorio/pongworker/pkg/ws"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var flags flagOverrides

	runE := func(cmd *cobra.Command, _ []string) error {
		flags.prefixSet = cmd.Flags().Changed("prefix")
		return runStdio(cmd.Context(), flags, stdin, stdout, stderr)
	}

	cmd := &cobra.Command{
		Use:           "pongworker",
		Short:         "Answer every chunk read from stdin with a pong",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "YAML or JSON config file")
	pf.StringVar(&flags.Prefix, "prefix", worker.DefaultPrefix, "Bytes written before every echoed message")
	pf.StringVar(&flags.Framing, "framing", "", "Message framing: raw|line|length")
	pf.StringVar(&flags.OnEOF, "on-eof", "", "End of input behaviour: stop|retry")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug|info|warn|error")

	run := &cobra.Command{
		Use:   "run",
		Short: "Serve the stdio loop (the default)",
		Args:  cobra.NoArgs,
		RunE:  runE,
	}

	cmd.AddCommand(
		run,
		serveCmd(&flags),
		journalCmd(&flags, stdout),
		versionCmd(stdout),
		hashPasswordCmd(stdin, stdout),
		wsTokenCmd(&flags, stdout),
	)
	return cmd
}

// runStdio serves one session over stdin and stdout until end of input,
// a signal or an I/O failure.
func runStdio(ctx context.Context, flags flagOverrides, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer a.shutdown()

	a.logger.Debugf("stdio worker started (framing=%s, on_eof=%s)", cfg.Worker.Framing, cfg.Worker.OnEOF)
	return a.worker.Serve(ctx, stdin, stdout)
}

// shutdown closes the app with a bounded grace period and logs failures.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.close(ctx); err != nil && a.logger != nil {
		a.logger.Errorf("shutdown: %v", err)
	}
}

func serveCmd(flags *flagOverrides) *cobra.Command {
	var tcpAddr, wsAddr string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the loop over TCP and/or WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tcpAddr == "" && wsAddr == "" {
				return errors.New("serve: at least one of --tcp or --ws is required")
			}
			flags.prefixSet = cmd.Flags().Changed("prefix")
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			if cfg.Worker.OnEOF != worker.OnEOFStop {
				// A closed connection never delivers more data.
				cfg.Worker.OnEOF = worker.OnEOFStop
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.shutdown()
			return serve(cmd.Context(), a, tcpAddr, wsAddr, nil)
		},
	}
	c.Flags().StringVar(&tcpAddr, "tcp", "", "TCP listen address, e.g. :9000")
	c.Flags().StringVar(&wsAddr, "ws", "", "WebSocket listen address, e.g. :9001")
	return c
}

type listener struct {
	name  string
	start func() error
	stop  func(context.Context) error
}

// serve binds the requested transports, reports each bound address to
// ready, and runs them until ctx ends or one of them fails.
func serve(ctx context.Context, a *app, tcpAddr, wsAddr string, ready func(name, addr string)) error {
	if ready == nil {
		ready = func(name, addr string) {
			a.logger.Infof("%s transport listening on %s", name, addr)
		}
	}

	var listeners []listener
	stopAll := func() error {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, l := range listeners {
			if err := l.stop(stopCtx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
			}
		}
		return errors.Join(errs...)
	}

	if tcpAddr != "" {
		cfg := a.cfg.TCP
		cfg.Addr = tcpAddr
		srv := tcp.NewTCPServer(&cfg, tcp.WorkerHandler(a.worker, cfg.IdleTimeout, cfg.WriteTimeout), a.logger)
		prometheus.RegisterTCPServer(a.metrics.Registerer(), srv)
		if err := srv.Listen(); err != nil {
			return errors.Join(err, stopAll())
		}
		listeners = append(listeners, listener{
			name:  "tcp",
			start: srv.Start,
			stop:  func(context.Context) error { return srv.Stop() },
		})
		ready("tcp", srv.ListeningAddr())
	}

	if wsAddr != "" {
		cfg := a.cfg.WS
		cfg.Addr = wsAddr
		srv := ws.NewServer(cfg, a.worker, a.logger)
		if err := srv.Listen(); err != nil {
			return errors.Join(err, stopAll())
		}
		listeners = append(listeners, listener{name: "ws", start: srv.Start, stop: srv.Stop})
		ready("ws", srv.ListeningAddr())
	}

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l listener) {
			if err := l.start(); err != nil {
				errCh <- fmt.Errorf("%s: %w", l.name, err)
			}
		}(l)
	}

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down transports")
	case err = <-errCh:
	}
	return errors.Join(err, stopAll())
}

func journalCmd(flags *flagOverrides, stdout io.Writer) *cobra.Command {
	c := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the exchange journal",
	}

	var from uint64
	var dir string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print journal entries as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.prefixSet = cmd.Flags().Changed("prefix")
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.Journal.File.Dir = dir
			}
			return dumpJournal(cmd.Context(), cfg.Journal, appendlog.Offset(from), stdout)
		},
	}
	dump.Flags().Uint64Var(&from, "from", 0, "First file log offset to print")
	dump.Flags().StringVar(&dir, "dir", "", "File journal directory (overrides journal.file.dir)")

	c.AddCommand(dump)
	return c
}

// dumpJournal prints the file log when one is configured, the SQL table
// otherwise. Opening the file log truncates a torn trailing record.
func dumpJournal(ctx context.Context, cfg journal.Config, from appendlog.Offset, out io.Writer) error {
	enc := json.NewEncoder(out)
	switch {
	case cfg.File.Dir != "":
		storeCfg, err := cfg.File.StoreConfig()
		if err != nil {
			return err
		}
		store, err := appendlog.NewFSStore(storeCfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return journal.ReadFile(store, from, func(_ appendlog.Offset, e journal.Entry) error {
			return enc.Encode(e)
		})
	case cfg.SQL.DSN != "":
		sink, err := journal.OpenSQLSink(ctx, cfg.SQL, nil)
		if err != nil {
			return err
		}
		defer sink.Close()
		return sink.Scan(ctx, func(e journal.Entry) error {
			return enc.Encode(e)
		})
	default:
		return errors.New("journal dump: no file or sql journal configured")
	}
}

func versionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(stdout, "pongworker %s\n", version)
		},
	}
}

func hashPasswordCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for admin.password_hash",
		Long:  "Hashes the argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(stdin).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("hash-password: empty password")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, hash)
			return nil
		},
	}
}

func wsTokenCmd(flags *flagOverrides, stdout io.Writer) *cobra.Command {
	var secret, issuer, subject string
	var ttl time.Duration

	c := &cobra.Command{
		Use:   "ws-token",
		Short: "Mint a bearer token for the WebSocket transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.prefixSet = cmd.Flags().Changed("prefix")
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.WS.JWTSecret
			}
			if issuer == "" {
				issuer = cfg.WS.JWTIssuer
			}
			if secret == "" {
				return errors.New("ws-token: no secret (set --secret or ws.jwt_secret)")
			}
			token, err := ws.NewToken([]byte(secret), issuer, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
	c.Flags().StringVar(&secret, "secret", "", "HMAC secret (defaults to ws.jwt_secret)")
	c.Flags().StringVar(&issuer, "issuer", "", "Token issuer (defaults to ws.jwt_issuer)")
	c.Flags().StringVar(&subject, "subject", "pongworker-client", "Token subject")
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return c
}
