// Package app wires the authgate components from a config.Config and owns
// the top-level re-authentication handling.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jonwraymond/authgate/apiclient"
	"github.com/jonwraymond/authgate/auth"
	"github.com/jonwraymond/authgate/config"
	"github.com/jonwraymond/authgate/health"
	"github.com/jonwraymond/authgate/identity"
	"github.com/jonwraymond/authgate/notify"
	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/router"
	"github.com/jonwraymond/authgate/session"
)

// ServiceName names the process in telemetry.
const ServiceName = "authgate"

// Navigator performs guarded navigations.
type Navigator interface {
	Navigate(ctx context.Context, path string) (router.Navigation, error)
}

var _ Navigator = (*router.Navigator)(nil)

// Options carries process-level dependencies that are not configuration.
type Options struct {
	// Version is reported as the telemetry service version.
	Version string

	// Opener directs the user to identity provider pages.
	// Default: identity.WriterOpener(os.Stderr)
	Opener identity.Opener

	// ReturnURL is linked from the sign-in completion page.
	ReturnURL string

	// HTTPClient is used for identity provider requests. Optional.
	HTTPClient *http.Client

	// Logger replaces the observer's logger. Optional.
	Logger observe.Logger

	// Provider replaces the OIDC provider. Optional.
	Provider identity.Provider

	// Store replaces the configured session store. Optional.
	Store session.Store
}

// App is the assembled application.
type App struct {
	Config    config.Config
	Logger    observe.Logger
	Observer  observe.Observer
	Store     session.Store
	Handle    *identity.Handle
	Resolver  *auth.Resolver
	Guard     *router.Guard
	Navigator Navigator
	Notices   *notify.Queue
	Health    *health.Aggregator

	// API is nil when no API base URL is configured.
	API *apiclient.Client

	closers []func(context.Context) error
}

// New assembles an App. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	obs, err := observe.NewObserver(ctx, cfg.Observe(ServiceName, opts.Version))
	if err != nil {
		return nil, fmt.Errorf("app: observer: %w", err)
	}
	a.Observer = obs
	a.closers = append(a.closers, obs.Shutdown)

	a.Logger = obs.Logger()
	if opts.Logger != nil {
		a.Logger = opts.Logger
	}
	metrics, err := observe.NewMetrics(obs.Meter())
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}
	mw := observe.NewMiddleware(observe.NewTracer(obs.Tracer()), metrics, a.Logger)

	if a.Store, err = openStore(ctx, cfg, opts); err != nil {
		return nil, err
	}
	if c, ok := a.Store.(interface{ Close() error }); ok && opts.Store == nil {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	if opts.Provider != nil {
		a.Handle = identity.NewStaticHandle(opts.Provider)
	} else {
		a.Handle = identity.NewHandle(oidcFactory(cfg, opts, a.Store, a.Logger), identity.HandleConfig{})
	}

	a.Resolver, err = auth.NewResolver(auth.ResolverConfig{
		Handle:      a.Handle,
		Store:       a.Store,
		LoginScopes: cfg.LoginScopes,
		APIScopes:   cfg.APIScopes,
		Logger:      a.Logger,
		Middleware:  mw,
	})
	if err != nil {
		return nil, fmt.Errorf("app: resolver: %w", err)
	}

	a.Guard = router.NewGuard(router.DefaultTable(), a.Resolver, a.Logger)
	a.Navigator = router.NewNavigator(a.Guard, router.NavigatorConfig{Middleware: mw})

	a.Notices = notify.NewQueue(0)
	notifier := notify.Multi(notify.NewLogNotifier(a.Logger), a.Notices)

	if cfg.APIBaseURL != "" {
		a.API, err = apiclient.New(apiclient.Config{
			BaseURL:     cfg.APIBaseURL,
			Timeout:     cfg.APITimeout,
			Tokens:      a.Resolver,
			Notifier:    notifier,
			MaxAttempts: cfg.APIRetries,
			Middleware:  mw,
			Logger:      a.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("app: api client: %w", err)
		}
	}

	a.Health = health.NewAggregator(health.AggregatorConfig{})
	a.Health.Register(health.NewProviderChecker(a.Handle))
	a.Health.Register(health.NewStoreChecker(a.Store))

	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, opts Options) (session.Store, error) {
	if opts.Store != nil {
		return opts.Store, nil
	}
	switch cfg.CacheLocation {
	case config.CacheRedis:
		store, err := session.OpenRedis(ctx, cfg.RedisURL, session.RedisConfig{
			SessionID: cfg.SessionID,
			TTL:       cfg.SessionTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("app: session store: %w", err)
		}
		return store, nil
	default:
		return session.NewMemoryStore(cfg.SessionTTL), nil
	}
}

func oidcFactory(cfg config.Config, opts Options, store session.Store, logger observe.Logger) identity.Factory {
	opener := opts.Opener
	if opener == nil {
		opener = identity.WriterOpener(os.Stderr)
	}
	return func() (identity.Provider, error) {
		return identity.NewOIDCProvider(identity.OIDCConfig{
			ClientID:              cfg.ClientID,
			ClientSecret:          cfg.ClientSecret,
			Authority:             cfg.Authority,
			RedirectURI:           cfg.RedirectURI,
			PostLogoutRedirectURI: cfg.PostLogoutRedirectURI,
			Store:                 store,
			Opener:                opener,
			ReturnURL:             opts.ReturnURL,
			InteractiveTimeout:    cfg.InteractiveTimeout,
			HTTPClient:            opts.HTTPClient,
			Logger:                logger,
		})
	}
}

// HandleAPIError performs the single navigation to the login route when
// err requires re-authentication. err is returned unchanged.
func (a *App) HandleAPIError(ctx context.Context, err error) error {
	if !errors.Is(err, apiclient.ErrNeedsReauth) {
		return err
	}
	if _, navErr := a.Navigator.Navigate(ctx, router.LoginPath); navErr != nil {
		a.Logger.Warn(ctx, "re-authentication navigation failed", observe.Err(navErr))
	}
	return err
}

// Call runs fn against the API client and handles its error.
func (a *App) Call(ctx context.Context, fn func(ctx context.Context, api *apiclient.Client) error) error {
	if a.API == nil {
		return apiclient.ErrMissingBaseURL
	}
	return a.HandleAPIError(ctx, fn(ctx, a.API))
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
