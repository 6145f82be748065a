package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/target/agentops-console/config"
	"github.com/target/agentops-console/internal/bootstrap"
	httpx "github.com/target/agentops-console/internal/http"
	"github.com/target/agentops-console/internal/migrate"
	"github.com/target/agentops-console/internal/requestauth"
)

const (
	shutdownTimeout         = 10 * time.Second
	defaultMigrationTimeout = 5 * time.Minute
)

func runProxy(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "proxy")
	addr := fs.String("addr", cmdCtx.Config.Proxy.Addr, "Address to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target, err := url.Parse(cmdCtx.Config.API.BaseURL)
	if err != nil || target.Host == "" {
		return fmt.Errorf("API_BASE_URL %q is not an absolute URL", cmdCtx.Config.API.BaseURL)
	}

	console, err := openConsole(cmdCtx)
	if err != nil {
		return err
	}
	defer closeConsole(cmdCtx, console)

	if err := settle(cmdCtx, console); err != nil {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "tenant resolution did not settle", "error", err)
	}
	if d := console.Gate.Decision(); !d.Allowed() {
		cmdCtx.Logger.WarnContext(cmdCtx.Ctx, "proxy starting without an active session; requests will fail until sign-in", "view", d.View)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *addr, err)
	}
	if err := writef(cmdCtx.Out, "proxying http://%s -> %s\n", ln.Addr(), target); err != nil {
		_ = ln.Close()
		return err
	}
	return serveProxy(cmdCtx.Ctx, console, target, ln)
}

// serveProxy serves the authenticating proxy on ln and keeps the session fresh until ctx is
// done.
func serveProxy(ctx context.Context, console *bootstrap.Console, target *url.URL, ln net.Listener) error {
	logger := console.Logger
	cfg := console.Config

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", httpx.HealthHandler())
	if console.Registry != nil && cfg.Proxy.MetricsPath != "" {
		mux.Handle("GET "+cfg.Proxy.MetricsPath, promhttp.HandlerFor(console.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", requestauth.ReverseProxy(target, console.Transport, logger))

	srv := &http.Server{
		Handler:           httpx.Recover(logger)(httpx.Logging(logger)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return console.Sessions.RunRefresher(gctx)
	})
	g.Go(func() error {
		return serve(gctx, srv, ln, logger)
	})
	return g.Wait()
}

func runDevAPI(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "dev-api")
	addr := fs.String("addr", cmdCtx.Config.API.DevAddr, "Address to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cmdCtx.Config.Identity.Mode != config.IdentityModeMock {
		return errors.New("dev-api serves tokens from the dev identity; set IDENTITY_MODE=mock")
	}

	handler, err := buildDevAPI(cmdCtx.Config, cmdCtx.Logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *addr, err)
	}
	if err := writef(cmdCtx.Out, "dev application API listening on http://%s/api\n", ln.Addr()); err != nil {
		_ = ln.Close()
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	return serve(cmdCtx.Ctx, srv, ln, cmdCtx.Logger)
}

func buildDevAPI(cfg config.AppConfig, logger *slog.Logger) (http.Handler, error) {
	provider, err := bootstrap.BuildDevProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	directory, err := bootstrap.BuildDevDirectory(cfg)
	if err != nil {
		return nil, err
	}

	routes := httpx.RouterConfig{Verifier: provider, Directory: directory, Logger: logger}
	if cfg.Observability.Metrics.IsEnabled() {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		routes.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	return httpx.NewRouter(routes), nil
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server", "addr", ln.Addr().String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := newFlagSet(cmdCtx, "migrate")
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeout <= 0 {
		return errors.New("-timeout must be greater than zero")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	dbCfg := cmdCtx.Config.Postgres
	dbCfg.RunMigrationsOnStart = false
	db, err := bootstrap.ConnectDB(ctx, dbCfg, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	applied, err := migrate.Run(ctx, db, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if len(applied) == 0 {
		return writeln(cmdCtx.Out, "schema is up to date")
	}
	for _, v := range applied {
		if err := writef(cmdCtx.Out, "applied %s\n", v); err != nil {
			return err
		}
	}
	return nil
}
