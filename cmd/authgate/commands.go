package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jonwraymond/authgate/apiclient"
	"github.com/jonwraymond/authgate/app"
	"github.com/jonwraymond/authgate/config"
	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/internal/shell"
	"github.com/jonwraymond/authgate/router"
)

const usage = `usage: authgate <command> [arguments]

commands:
  serve        run the application shell
  token        print an access token for the API scopes
  whoami       print the signed-in user
  logout       sign out and clear the session
  get <path>   call the API and print the JSON response
`

var errUsage = errors.New("invalid usage")

// env is the process environment a command runs in.
type env struct {
	stdout  io.Writer
	stderr  io.Writer
	environ map[string]string
	opener  identity.Opener
}

func defaultEnv() env {
	return env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		opener: identity.WriterOpener(os.Stderr),
	}
}

func run(ctx context.Context, args []string, e env) error {
	if len(args) == 0 {
		fmt.Fprint(e.stderr, usage)
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return serve(ctx, rest, e)
	case "token":
		return withApp(ctx, e, func(a *app.App) error {
			if !a.Resolver.IsAuthenticated(ctx) {
				if _, err := a.Resolver.Login(ctx); err != nil {
					return fmt.Errorf("sign-in: %w", err)
				}
			}
			token, ok := a.Resolver.AccessToken(ctx)
			if !ok {
				return errors.New("no access token; sign-in failed or was cancelled")
			}
			fmt.Fprintln(e.stdout, token)
			return nil
		})
	case "whoami":
		return withApp(ctx, e, func(a *app.App) error {
			user := a.Resolver.UserInfo(ctx)
			if user == nil {
				fmt.Fprintln(e.stdout, "not signed in")
				return nil
			}
			return writeJSON(e.stdout, user)
		})
	case "logout":
		return withApp(ctx, e, func(a *app.App) error {
			return a.Resolver.Logout(ctx)
		})
	case "get":
		if len(rest) != 1 {
			fmt.Fprint(e.stderr, usage)
			return errUsage
		}
		return withApp(ctx, e, func(a *app.App) error {
			var out json.RawMessage
			err := a.Call(ctx, func(ctx context.Context, api *apiclient.Client) error {
				return api.Get(ctx, rest[0], nil, &out)
			})
			for _, n := range a.Notices.Drain() {
				fmt.Fprintf(e.stderr, "%s: %s\n", n.Level, n.Message)
			}
			if errors.Is(err, apiclient.ErrNeedsReauth) {
				fmt.Fprintln(e.stderr, "run `authgate token` to sign in again")
			}
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return nil
			}
			return writeJSON(e.stdout, out)
		})
	case "help", "-h", "-help", "--help":
		fmt.Fprint(e.stdout, usage)
		return nil
	default:
		fmt.Fprint(e.stderr, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func withApp(ctx context.Context, e env, fn func(a *app.App) error) error {
	cfg, err := config.Load(ctx, e.environ)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{Version: version, Opener: e.opener})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = a.Close(shutdownCtx)
	}()
	return fn(a)
}

func serve(ctx context.Context, args []string, e env) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	addr := fs.String("addr", "", "listen address (overrides AUTHGATE_LISTEN_ADDR)")
	logLevel := fs.String("log-level", "", "log level (overrides AUTHGATE_LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, e.environ)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	base := "http://" + ln.Addr().String()

	a, err := app.New(ctx, cfg, app.Options{
		Version:   version,
		Opener:    e.opener,
		ReturnURL: base + router.DashboardPath,
	})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = a.Close(shutdownCtx)
	}()

	srv := &http.Server{
		Handler:           shell.New(shell.Config{App: a}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	fmt.Fprintf(e.stderr, "authgate listening on %s\n", base)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
