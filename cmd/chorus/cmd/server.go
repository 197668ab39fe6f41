package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmcleod/chorus/api"
	"github.com/jmcleod/chorus/auth"
	"github.com/jmcleod/chorus/internal/config"
	"github.com/jmcleod/chorus/internal/util"
	"github.com/jmcleod/chorus/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the account service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := b.close(closeCtx); err != nil {
				logger.Warn("closing storage failed", "error", err)
			}
		}()

		if e := b.expirer(); e != nil {
			sweeper := storage.NewSweeper(e, cfg.Storage.SweepInterval, logger)
			sweeper.Start()
			defer sweeper.Close()
		}

		a, err := newAPI(cfg, b, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				logger.Warn("draining audit webhook failed", "error", err)
			}
		}()

		server, err := newHTTPServer(cfg, newRouter(a, logger), logger)
		if err != nil {
			return err
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("listening", "addr", cfg.Server.Listen, "tls", server.TLSConfig != nil)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func newAPI(cfg *config.Config, b *backend, logger *slog.Logger) (*api.API, error) {
	svc := auth.NewService(b.users, b.sessions, auth.WithLogger(logger))

	var (
		cookies *api.CookieCodec
		err     error
	)
	if cfg.Cookie.Secret != "" {
		cookies, err = api.NewCookieCodec([]byte(cfg.Cookie.Secret))
	} else {
		logger.Warn("no cookie secret configured; session cookies will not survive a restart")
		cookies, err = api.NewRandomCookieCodec()
	}
	if err != nil {
		return nil, fmt.Errorf("creating cookie codec: %w", err)
	}

	proxies, err := api.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithRegistry(reg),
		api.WithRateLimit(api.RateLimit{Rate: cfg.RateLimit.Rate, Burst: cfg.RateLimit.Burst}),
		api.WithTrustedProxies(proxies),
		api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security alert",
				"type", e.Type,
				"count", e.Count,
				"threshold", e.Threshold,
			)
		}),
	}
	if cfg.Audit.WebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader))
	}
	return api.New(svc, cookies, opts...), nil
}

func newRouter(a *api.API, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(api.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Mount(api.MountPath, a.Router())
	return r
}

func newHTTPServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if cfg.Server.Insecure {
		logger.Warn("serving plain HTTP; session cookies require a TLS-terminating proxy")
		return server, nil
	}

	var cert tls.Certificate
	var err error
	if cfg.Server.TLSCert != "" {
		cert, err = tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Info("using self-signed runtime generated certificate for TLS")
	}
	server.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return server, nil
}
