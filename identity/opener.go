package identity

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Opener directs the user to a URL, typically by opening a browser.
type Opener func(ctx context.Context, url string) error

type openerKey struct{}

// WithOpener returns a context whose interactive flows open URLs with fn.
func WithOpener(ctx context.Context, fn Opener) context.Context {
	return context.WithValue(ctx, openerKey{}, fn)
}

// OpenerFrom returns the Opener carried by ctx, else fallback, else an
// Opener printing to stderr.
func OpenerFrom(ctx context.Context, fallback Opener) Opener {
	if fn, ok := ctx.Value(openerKey{}).(Opener); ok && fn != nil {
		return fn
	}
	if fallback != nil {
		return fallback
	}
	return WriterOpener(os.Stderr)
}

// WriterOpener returns an Opener that asks the user to visit the URL.
func WriterOpener(w io.Writer) Opener {
	return func(_ context.Context, url string) error {
		_, err := fmt.Fprintf(w, "Open the following URL in your browser:\n\n  %s\n\n", url)
		return err
	}
}
