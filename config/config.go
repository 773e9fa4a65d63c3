// Package config loads authgate settings from AUTHGATE_* environment
// variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jonwraymond/authgate/observe"
	"github.com/jonwraymond/authgate/secret"
)

// Prefix is prepended to every variable name.
const Prefix = "AUTHGATE_"

// Cache locations.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the resolved authgate configuration.
type Config struct {
	ClientID              string        `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret          string        `env:"CLIENT_SECRET"`
	Authority             string        `env:"AUTHORITY,required,notEmpty"`
	RedirectURI           string        `env:"REDIRECT_URI" envDefault:"http://localhost:8400/callback"`
	PostLogoutRedirectURI string        `env:"POST_LOGOUT_REDIRECT_URI"`
	CacheLocation         string        `env:"CACHE_LOCATION" envDefault:"memory"`
	RedisURL              string        `env:"REDIS_URL"`
	SecretsDir            string        `env:"SECRETS_DIR"`
	SessionID             string        `env:"SESSION_ID"`
	SessionTTL            time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	LoginScopes           []string      `env:"LOGIN_SCOPES" envDefault:"openid,profile,email" envSeparator:","`
	APIScopes             []string      `env:"API_SCOPES" envSeparator:","`
	APIBaseURL            string        `env:"API_BASE_URL"`
	APITimeout            time.Duration `env:"API_TIMEOUT" envDefault:"30s"`
	APIRetries            int           `env:"API_RETRIES" envDefault:"1"`
	InteractiveTimeout    time.Duration `env:"INTERACTIVE_TIMEOUT" envDefault:"5m"`
	ListenAddr            string        `env:"LISTEN_ADDR" envDefault:"localhost:5173"`
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info"`
	TracingExporter       string        `env:"TRACING_EXPORTER" envDefault:"none"`
	MetricsExporter       string        `env:"METRICS_EXPORTER" envDefault:"none"`
}

// Load parses environ (the process environment when nil), resolves
// secret references and ${VAR} expansions in the client secret, the Redis
// URL and the scope lists, and validates the result.
func Load(ctx context.Context, environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	resolver, err := newSecretResolver(cfg.SecretsDir, lookupIn(environ))
	if err != nil {
		return Config{}, err
	}
	defer resolver.Close()

	for _, v := range []struct {
		name  string
		value *string
	}{
		{"CLIENT_SECRET", &cfg.ClientSecret},
		{"REDIS_URL", &cfg.RedisURL},
	} {
		if *v.value == "" {
			continue
		}
		resolved, err := resolver.ResolveValue(ctx, *v.value)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s%s: %w", Prefix, v.name, err)
		}
		*v.value = resolved
	}

	for _, v := range []struct {
		name   string
		values *[]string
	}{
		{"LOGIN_SCOPES", &cfg.LoginScopes},
		{"API_SCOPES", &cfg.APIScopes},
	} {
		if len(*v.values) == 0 {
			continue
		}
		resolved, err := resolver.ResolveSlice(ctx, *v.values)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s%s: %w", Prefix, v.name, err)
		}
		*v.values = resolved
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newSecretResolver registers every provider of secret.DefaultRegistry.
// Relative file references resolve against dir.
func newSecretResolver(dir string, lookup secret.LookupFunc) (*secret.Resolver, error) {
	r := secret.NewResolver(true).WithLookup(lookup)
	for _, name := range secret.DefaultRegistry.List() {
		p, err := secret.DefaultRegistry.Create(name, map[string]any{"dir": dir})
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("config: secret provider %q: %w", name, err)
		}
		r.Register(p)
	}
	return r, nil
}

func lookupIn(environ map[string]string) secret.LookupFunc {
	if environ == nil {
		return os.LookupEnv
	}
	return func(key string) (string, bool) {
		v, ok := environ[key]
		return v, ok
	}
}

// Validate checks field values and combinations.
func (c Config) Validate() error {
	if err := checkURL("AUTHORITY", c.Authority); err != nil {
		return err
	}
	if err := checkURL("REDIRECT_URI", c.RedirectURI); err != nil {
		return err
	}
	if c.PostLogoutRedirectURI != "" {
		if err := checkURL("POST_LOGOUT_REDIRECT_URI", c.PostLogoutRedirectURI); err != nil {
			return err
		}
	}
	if c.APIBaseURL != "" {
		if err := checkURL("API_BASE_URL", c.APIBaseURL); err != nil {
			return err
		}
	}

	switch c.CacheLocation {
	case CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: %sREDIS_URL is required when %sCACHE_LOCATION=redis", ErrInvalid, Prefix, Prefix)
		}
	default:
		return fmt.Errorf("%w: %sCACHE_LOCATION must be %q or %q, got %q", ErrInvalid, Prefix, CacheMemory, CacheRedis, c.CacheLocation)
	}

	if len(c.LoginScopes) == 0 {
		return fmt.Errorf("%w: %sLOGIN_SCOPES is empty", ErrInvalid, Prefix)
	}
	if c.APIRetries < 1 {
		return fmt.Errorf("%w: %sAPI_RETRIES must be at least 1", ErrInvalid, Prefix)
	}
	for name, d := range map[string]time.Duration{
		"SESSION_TTL":         c.SessionTTL,
		"API_TIMEOUT":         c.APITimeout,
		"INTERACTIVE_TIMEOUT": c.InteractiveTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s%s must be positive", ErrInvalid, Prefix, name)
		}
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: %sLISTEN_ADDR is empty", ErrInvalid, Prefix)
	}

	if !slices.Contains(observe.ValidLogLevels, c.LogLevel) {
		return fmt.Errorf("%w: %w: %q", ErrInvalid, observe.ErrInvalidLogLevel, c.LogLevel)
	}
	if !slices.Contains(observe.ValidTracingExporters, c.TracingExporter) {
		return fmt.Errorf("%w: %w: %q", ErrInvalid, observe.ErrInvalidTracingExporter, c.TracingExporter)
	}
	if !slices.Contains(observe.ValidMetricsExporters, c.MetricsExporter) {
		return fmt.Errorf("%w: %w: %q", ErrInvalid, observe.ErrInvalidMetricsExporter, c.MetricsExporter)
	}
	return nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s%s: %w", ErrInvalid, Prefix, name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s%s must be an absolute URL, got %q", ErrInvalid, Prefix, name, raw)
	}
	return nil
}

// Observe returns the telemetry configuration for serviceName.
func (c Config) Observe(serviceName, version string) observe.Config {
	return observe.Config{
		ServiceName: serviceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingExporter != "" && c.TracingExporter != "none",
			Exporter:  c.TracingExporter,
			SamplePct: 1.0,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.MetricsExporter != "" && c.MetricsExporter != "none",
			Exporter: c.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
		},
		Global: true,
	}
}
