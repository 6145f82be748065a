package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/target/agentops-console/config"
	"github.com/target/agentops-console/internal/adapters/authroles"
	"github.com/target/agentops-console/internal/adapters/consoleapi"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	"github.com/target/agentops-console/internal/gate"
	"github.com/target/agentops-console/internal/observability/metrics"
	"github.com/target/agentops-console/internal/ports"
	"github.com/target/agentops-console/internal/requestauth"
	"github.com/target/agentops-console/internal/session"
	"github.com/target/agentops-console/internal/tenant"
)

// ConsoleOptions configures BuildConsole. Identity and State override the configured
// adapters when set; tests use them to share an in-process provider.
type ConsoleOptions struct {
	Config   config.AppConfig
	Logger   *slog.Logger
	Identity *Identity
	State    ports.StateStore
	// Base is the round tripper under the authenticating transport.
	Base http.RoundTripper
	// OnUnauthenticated is called when a refresh failure ends the session mid-request.
	OnUnauthenticated func(error)
}

// Console is the assembled identity and tenant subsystem.
type Console struct {
	Config   config.AppConfig
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Identity  Identity
	State     ports.StateStore
	DeviceID  string
	Sessions  *session.Store
	Tenants   *tenant.Context
	Gate      *gate.Gate
	Transport *requestauth.Transport
	API       *consoleapi.Client

	closers []func() error
}

// tenantRef breaks the construction cycle between the transport, which reads the selection,
// and the tenant context, which issues its calls through the transport.
type tenantRef struct{ ctx *tenant.Context }

func (r *tenantRef) Selection() domaintenant.Selection {
	if r.ctx == nil {
		return domaintenant.Selection{}
	}
	return r.ctx.Selection()
}

// BuildConsole wires the session store, tenant context, gate and API client. The session is
// not restored yet; call Start.
func BuildConsole(ctx context.Context, opts ConsoleOptions) (*Console, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Console{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	if cfg.Observability.Metrics.IsEnabled() {
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		c.Metrics = metrics.New(c.Registry, cfg.Observability.Metrics.Namespace)
	}

	if opts.Identity != nil {
		c.Identity = *opts.Identity
	} else {
		id, err := BuildIdentityProvider(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		c.Identity = id
	}

	c.State = opts.State
	if c.State == nil {
		backend, err := BuildStateStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open device state: %w", err)
		}
		c.State = backend.Store
		c.DeviceID = backend.DeviceID
		c.closers = append(c.closers, backend.Close)
	}

	sessions, err := session.New(session.Options{
		Provider:       c.Identity.Provider,
		State:          c.State,
		Logger:         logger,
		Metrics:        c.Metrics,
		RefreshMargin:  cfg.Session.RefreshMargin,
		RefreshRetries: cfg.Session.RefreshRetries,
		RefreshBackoff: cfg.Session.RefreshBackoff,
		RedirectURL:    cfg.Identity.Provider.RedirectURL,
	})
	if err != nil {
		return nil, err
	}
	c.Sessions = sessions

	ref := &tenantRef{}
	transport, err := requestauth.NewTransport(requestauth.Options{
		Base:              opts.Base,
		Sessions:          sessions,
		Tenants:           ref,
		Logger:            logger,
		Metrics:           c.Metrics,
		OnUnauthenticated: opts.OnUnauthenticated,
	})
	if err != nil {
		return nil, err
	}
	c.Transport = transport

	api, err := consoleapi.NewClient(consoleapi.Config{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: transport.Client(cfg.API.Timeout),
		Roles:      authroles.StaticRoleMapper{},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	c.API = api

	tenants, err := tenant.New(tenant.Options{
		Directory:          api,
		State:              c.State,
		Logger:             logger,
		Metrics:            c.Metrics,
		DefaultProjectName: cfg.API.DefaultProjectName,
	})
	if err != nil {
		return nil, err
	}
	ref.ctx = tenants
	c.Tenants = tenants

	c.Gate = gate.New(sessions, tenants, logger)
	c.closers = append(c.closers, func() error { c.Gate.Close(); return nil })

	ok = true
	return c, nil
}

// Start binds the tenant context to the session and restores the persisted session. Tenant
// resolution for a restored session runs in the background under ctx; use Tenants.Await to
// wait for it. A restore error leaves the console usable in the Anonymous state.
func (c *Console) Start(ctx context.Context) (session.Snapshot, error) {
	unbind := c.Tenants.Bind(ctx, c.Sessions)
	c.closers = append(c.closers, func() error { unbind(); return nil })
	return c.Sessions.Restore(ctx)
}

// Close releases connections and stops observers. It is safe to call more than once.
func (c *Console) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
