// Package api exposes the auth service over HTTP.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/chorus/auth"
	"github.com/jmcleod/chorus/storage"
)

// MountPath is where the server mounts Router. The docs pages link to the
// OpenAPI document under it.
const MountPath = "/api"

const limiterSweepInterval = time.Minute

//go:embed openapi.yaml
var openapiSpec []byte

// Authenticator is the subset of *auth.Service the handlers need.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, sources ...auth.AuthSource)
	CheckAuth(ctx context.Context, sources ...auth.AuthSource) auth.Identity
}

// API holds the dependencies of the HTTP handlers.
type API struct {
	svc            Authenticator
	cookies        *CookieCodec
	logger         *slog.Logger
	audit          *auditLogger
	metrics        *metricsCollector
	gatherer       prometheus.Gatherer
	limiter        *ipLimiter
	limiterSweeper *storage.Sweeper
	trustedProxies []netip.Prefix
	now            func() time.Time
}

type options struct {
	logger         *slog.Logger
	registry       *prometheus.Registry
	alertFn        AlertFunc
	rateLimit      RateLimit
	trustedProxies []netip.Prefix
	webhookURL     string
	webhookHeader  string
	now            func() time.Time
}

// Option configures the API instance.
type Option func(*options)

// WithLogger sets the logger for audit events and request errors. If not
// set, a JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry registers the API's metrics with reg and serves reg on
// /metrics. A private registry is used when not set.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithAlertFunc sets the callback for login failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(o *options) { o.alertFn = fn }
}

// WithRateLimit overrides DefaultRateLimit. A zero Rate disables it.
func WithRateLimit(rl RateLimit) Option {
	return func(o *options) { o.rateLimit = rl }
}

// WithTrustedProxies sets the proxy networks whose forwarding headers are
// believed when identifying a client.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(o *options) { o.trustedProxies = prefixes }
}

// WithAuditWebhook forwards audit events to url. header, if non-empty, is
// sent as "Name: value" on every request.
func WithAuditWebhook(url, header string) Option {
	return func(o *options) {
		o.webhookURL = url
		o.webhookHeader = header
	}
}

// WithClock overrides the time source used for cookie issue times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an API serving svc. Call Close to stop its background work.
func New(svc Authenticator, cookies *CookieCodec, opts ...Option) *API {
	o := options{rateLimit: DefaultRateLimit, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	a := &API{
		svc:            svc,
		cookies:        cookies,
		logger:         o.logger,
		audit:          newAuditLogger(o.logger),
		metrics:        newMetricsCollector(o.registry, o.alertFn),
		gatherer:       o.registry,
		limiter:        newIPLimiter(o.rateLimit),
		trustedProxies: o.trustedProxies,
		now:            o.now,
	}
	a.audit.metrics = a.metrics
	a.audit.clientIP = a.clientIP
	if o.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(o.webhookURL, o.webhookHeader, o.logger)
	}
	if a.limiter != nil {
		a.limiterSweeper = storage.NewSweeper(a.limiter, limiterSweepInterval, o.logger)
		a.limiterSweeper.Start()
	}
	return a
}

// Close stops the rate limiter sweeper and drains the audit webhook.
func (a *API) Close(ctx context.Context) error {
	if a.limiterSweeper != nil {
		a.limiterSweeper.Close()
	}
	if a.audit != nil && a.audit.webhook != nil {
		return a.audit.webhook.close(ctx)
	}
	return nil
}

// Router returns a chi.Router with all API routes. It is meant to be
// mounted at MountPath.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec) //nolint:errcheck
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: MountPath + "/openapi.yaml",
		Path:    MountPath[1:] + "/docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: MountPath + "/openapi.yaml",
		Path:    MountPath[1:] + "/redoc",
	}, nil))
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		if a.metrics != nil {
			r.Use(a.metrics.instrument)
		}
		r.Post("/register", a.Register)
		r.Post("/login", a.Login)
		r.Post("/logout", a.Logout)
		r.Get("/check-auth", a.CheckAuth)
	})
	return r
}
