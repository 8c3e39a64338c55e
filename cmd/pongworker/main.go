// Command pongworker answers every chunk read from stdin with the same
// bytes behind a prefix, by default "pong: ". The serve subcommand offers the
// same loop over TCP and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxorio/pongworker/pkg/worker"
)

// Exit codes.
const (
	exitOK     = 0
	exitConfig = 1
	exitRead   = 2
	exitWrite  = 3
)

var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the command line and maps its outcome to an exit code.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(stdin, stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)

	code := exitCode(err)
	if code != exitOK {
		fmt.Fprintf(stderr, "pongworker: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, worker.ErrWriteFailed):
		return exitWrite
	case errors.Is(err, worker.ErrReadFailed):
		return exitRead
	default:
		return exitConfig
	}
}
