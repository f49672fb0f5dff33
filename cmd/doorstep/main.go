// Command doorstep runs the API server: it wires storage, the
// capability resolver, every domain service, the background workers,
// and the HTTP surface, then blocks until shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/doorstep-crm/doorstep/pkg/api"
	"github.com/doorstep-crm/doorstep/pkg/async"
	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/auth"
	"github.com/doorstep-crm/doorstep/pkg/billing"
	"github.com/doorstep-crm/doorstep/pkg/campaigns"
	"github.com/doorstep-crm/doorstep/pkg/config"
	"github.com/doorstep-crm/doorstep/pkg/leads"
	"github.com/doorstep-crm/doorstep/pkg/middleware"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
	"github.com/doorstep-crm/doorstep/pkg/pipeline"
	"github.com/doorstep-crm/doorstep/pkg/platform"
	"github.com/doorstep-crm/doorstep/pkg/storage"
)

// invoiceSchedule runs invoice generation on the 1st of each month at
// 02:00, after the previous usage period has fully closed.
const invoiceSchedule = "0 2 1 * *"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	fatal := func(msg string, err error) {
		logger.WithError(err).Error(msg)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			fatal("Failed to initialize OpenTelemetry", err)
		}
	}

	db, err := storage.OpenPostgres(cfg.Storage)
	if err != nil {
		fatal("Failed to connect to PostgreSQL", err)
	}

	redisClient, err := storage.NewRedisClient(cfg.Storage)
	if err != nil {
		fatal("Failed to connect to Redis", err)
	}

	blobs, err := storage.NewBlobStore(cfg.Storage)
	if err != nil {
		fatal("Failed to initialize recording storage", err)
	}

	var migrations []permissions.Migration
	migrations = append(migrations, permissions.GetMigrations()...)
	migrations = append(migrations, auth.GetMigrations()...)
	migrations = append(migrations, orgs.GetMigrations()...)
	migrations = append(migrations, leads.GetMigrations()...)
	migrations = append(migrations, pipeline.GetMigrations()...)
	migrations = append(migrations, campaigns.GetMigrations()...)
	migrations = append(migrations, billing.GetMigrations()...)
	migrations = append(migrations, permissions.Migration{
		Version:     70,
		Description: "Create audit_logs table",
		SQL:         audit.Migration(),
	})
	if err := storage.RunMigrations(ctx, db, migrations, logger); err != nil {
		fatal("Failed to run migrations", err)
	}

	store := permissions.NewStore(db)
	catalog, err := permissions.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		fatal("Failed to load capability catalog", err)
	}
	if err := catalog.Sync(ctx, store); err != nil {
		fatal("Failed to sync capability catalog", err)
	}
	go func() {
		if err := catalog.Watch(ctx, cfg.CatalogPath, store, logger); err != nil {
			logger.WithError(err).Error("Catalog watcher stopped")
		}
	}()

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		fatal("Failed to initialize audit logging", err)
	}

	resolver := permissions.NewResolver(store, store, store, metrics)

	authStore := auth.NewStore(db)
	authService := auth.NewService(authStore, store, cfg.Auth.SessionTTL, auditLogger, logger)
	var oidcAuth *auth.OIDCAuthenticator
	if cfg.Auth.OIDCEnabled {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx,
			cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID,
			cfg.Auth.OIDCClientSecret, cfg.Auth.OIDCRedirectURL)
		if err != nil {
			fatal("Failed to initialize OIDC", err)
		}
	}

	orgsService := orgs.NewPostgresService(db, catalog, store)
	leadsService := leads.NewService(db, orgsService)
	pipelineService := pipeline.NewService(db)
	campaignService := campaigns.NewService(db, orgsService)
	billingService := billing.NewService(db)

	server := api.NewServer(cfg, api.Dependencies{
		Auth:        auth.NewHandlers(authService, oidcAuth),
		Permissions: permissions.NewHandlers(resolver, store, catalog, auditLogger),
		Orgs:        orgs.NewHandlers(orgsService, resolver, authStore, auditLogger),
		Leads:       leads.NewHandlers(leadsService, resolver, auditLogger),
		Pipeline:    pipeline.NewHandlers(pipelineService, resolver, auditLogger),
		Campaigns:   campaigns.NewHandlers(campaignService, resolver, blobs, auditLogger),
		Billing:     billing.NewHandlers(billingService, orgsService, resolver, auditLogger),
		Platform:    platform.NewHandlers(orgsService, authService, authStore, auditLogger),

		AuthMiddleware: middleware.NewAuthMiddleware(authService, false),
		OrgGate:        middleware.NewOrgGateMiddleware(orgsService),
		RateLimit:      middleware.NewRateLimitMiddleware(redisClient, orgsService, logger),

		Metrics: metrics,
		Logger:  logger,
	})
	httpServer := api.NewHTTPServer(cfg, server)

	var dispatcher *campaigns.Dispatcher
	if cfg.Dialer.Enabled {
		dispatcher = campaigns.NewDispatcher(campaigns.DispatcherConfig{
			Service:            campaignService,
			Leads:              leadsService,
			Usage:              orgsService,
			Dialer:             campaigns.NewSimulatedDialer(0),
			Limiter:            campaigns.NewRedisDialLimiter(redisClient, int64(cfg.Dialer.OrgConcurrency)),
			Blobs:              blobs,
			AuditLogger:        auditLogger,
			Logger:             logger,
			MaxConcurrentDials: cfg.Dialer.MaxConcurrent,
		})
		if err := dispatcher.Start(ctx, cfg.Dialer.TickSchedule); err != nil {
			fatal("Failed to start call dispatcher", err)
		}
	}

	generator := billing.NewInvoiceGenerator(billingService, orgsService, auditLogger, logger)
	if err := generator.Start(ctx, invoiceSchedule); err != nil {
		fatal("Failed to start invoice generator", err)
	}

	// Hourly sweep of expired sessions and invitations.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				async.SafeGo(ctx, 30*time.Second, "session cleanup", logger, authService.CleanupExpiredSessions)
				async.SafeGo(ctx, 30*time.Second, "invitation cleanup", logger, orgsService.CleanupExpiredInvitations)
			}
		}
	}()

	healthMux := http.NewServeMux()
	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthMux.HandleFunc("/health/live", healthChecker.Liveness)
	healthMux.HandleFunc("/health/ready", healthChecker.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		cancel()
		if dispatcher != nil {
			dispatcher.Stop()
		}
		generator.Stop()
		return nil
	})
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		if err := auditLogger.Close(); err != nil {
			return err
		}
		if err := redisClient.Close(); err != nil {
			return err
		}
		return db.Close()
	})
	if otelProviders != nil {
		sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
			return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		})
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":        httpServer.Addr,
			"health_addr": healthServer.Addr,
		}).Info("Doorstep API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Doorstep stopped")
}
