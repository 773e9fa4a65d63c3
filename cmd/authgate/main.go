// Command authgate runs the authentication-gated application shell and
// offers token and API helpers on the command line.
//
// Usage:
//
//	authgate serve [-addr host:port] [-log-level level]
//	authgate token
//	authgate whoami
//	authgate logout
//	authgate get <path>
//
// Configuration is read from AUTHGATE_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], defaultEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "authgate: %v\n", err)
		os.Exit(1)
	}
}
