package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/keystone/pkg/api"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authn"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/config"
	"github.com/platinummonkey/keystone/pkg/files"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/migrations"
	"github.com/platinummonkey/keystone/pkg/notifications"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/orgs"
	"github.com/platinummonkey/keystone/pkg/tasks"
	"github.com/platinummonkey/keystone/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := observability.NewLogger(cfg.Observability.LogLevel)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := migrations.RunMigrations(ctx, db, log); err != nil {
		return err
	}

	authzStore := authz.NewStore(db)
	if _, err := authz.Seed(ctx, authzStore, log); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		metrics.CollectDBStats(db)
		metrics.CollectBusinessStats(ctx, db)
	}

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:     cfg.Observability.OTelEnabled,
		Endpoint:    cfg.Observability.OTelEndpoint,
		ServiceName: cfg.Observability.OTelServiceName,
		Insecure:    cfg.Observability.OTelInsecure,
	}, log)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	var rateLimiter *middleware.OrgRateLimiter
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		limits := middleware.DefaultRateLimitConfig()
		if cfg.Audit.RateLimitPerMin > 0 {
			limits.RequestsPerWindow = cfg.Audit.RateLimitPerMin
		}
		rateLimiter = middleware.NewOrgRateLimiter(redisClient, limits, metrics, log)
	}

	verifier, err := authn.NewOIDCVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.ClientID)
	if err != nil {
		return err
	}

	recorder := audit.NewDBRecorder(db, metrics, log)
	resolver := authz.NewResolver(authzStore, authz.DefaultCacheTTL, metrics, log)

	orgService := orgs.NewPostgresService(db, recorder, log)
	userService := users.NewService(users.NewStore(db), resolver, recorder, orgService, log)
	taskService := tasks.NewService(tasks.NewStore(db), recorder, log)
	notificationService := notifications.NewService(
		notifications.NewStore(db),
		notificationPublisher(redisClient, log),
		log,
	)

	objectStore, err := files.NewS3Store(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}
	fileService := files.NewService(files.NewStore(db), objectStore, cfg.ObjectStore.Bucket, recorder, log)

	health := observability.NewHealthChecker(db, redisClient)

	server := api.NewServer(api.Dependencies{
		Users:         userService,
		Orgs:          orgService,
		Tasks:         taskService,
		Files:         fileService,
		Notifications: notificationService,
		Audit:         recorder,
		AuthzStore:    authzStore,
		Resolver:      resolver,
		Verifier:      verifier,
		Metrics:       metrics,
		RateLimiter:   rateLimiter,
		Health:        health,
		CORSOrigins:   cfg.Server.CORSAllowedOrigins,
		Log:           log,
	})

	retention := audit.NewRetentionJob(recorder, cfg.Audit.RetentionDays, cfg.Audit.RetentionSched, log)
	if metrics != nil {
		retention.OnPurge(func(removed int64) {
			metrics.AuditPurgedTotal.Add(float64(removed))
		})
	}
	if err := retention.Start(); err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.MetricsPort,
		Handler: opsMux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.WithField("addr", opsServer.Addr).Info("Metrics server listening")
		if err := opsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if metrics != nil {
		g.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					metrics.CollectDBStats(db)
					metrics.CollectBusinessStats(gctx, db)
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		retention.Stop()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("API server shutdown failed")
		}
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Metrics server shutdown failed")
		}
		if err := observability.ShutdownTracing(shutdownCtx, tp, log); err != nil {
			log.WithError(err).Warn("Tracer shutdown failed")
		}
		return nil
	})

	return g.Wait()
}

func notificationPublisher(redisClient *redis.Client, log *logrus.Logger) notifications.Publisher {
	if redisClient == nil {
		return notifications.NopPublisher{}
	}
	return notifications.NewRedisPublisher(redisClient, log)
}
