// Command api starts the blood donation coordination HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/config"
	"github.com/bloodlink/bloodlink-backend/internal/access"
	httpapi "github.com/bloodlink/bloodlink-backend/internal/api/http"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	authmw "github.com/bloodlink/bloodlink-backend/internal/auth/middleware"
	"github.com/bloodlink/bloodlink-backend/internal/bootstrap"
	donorrepo "github.com/bloodlink/bloodlink-backend/internal/donors/repository"
	donorservice "github.com/bloodlink/bloodlink-backend/internal/donors/service"
	cronjob "github.com/bloodlink/bloodlink-backend/internal/funding/cron"
	fundingrepo "github.com/bloodlink/bloodlink-backend/internal/funding/repository"
	fundingservice "github.com/bloodlink/bloodlink-backend/internal/funding/service"
	"github.com/bloodlink/bloodlink-backend/internal/funding/stripe"
	"github.com/bloodlink/bloodlink-backend/internal/geo"
	"github.com/bloodlink/bloodlink-backend/internal/imagehost"
	"github.com/bloodlink/bloodlink-backend/internal/metrics"
	"github.com/bloodlink/bloodlink-backend/internal/migrate"
	"github.com/bloodlink/bloodlink-backend/internal/requests/events"
	requestrepo "github.com/bloodlink/bloodlink-backend/internal/requests/repository"
	requestservice "github.com/bloodlink/bloodlink-backend/internal/requests/service"
	"github.com/bloodlink/bloodlink-backend/internal/stats"
	"github.com/bloodlink/bloodlink-backend/internal/storage/postgres"
)

const serviceName = "bloodlink-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := bootstrap.NewLogger(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting",
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Environment),
		zap.String("port", cfg.Server.Port),
	)

	if err := migrate.Up(ctx, cfg.Database.ConnString()); err != nil {
		log.Fatal("migrate up", zap.Error(err))
	}

	pool, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("open redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	var (
		authenticate gin.HandlerFunc
		credential   string
		identities   auth.IdentityDeleter
	)
	switch cfg.Firebase.Mode {
	case "dev":
		log.Warn("AUTH_MODE=dev: trusting X-User-* headers")
		authenticate = authmw.DevIdentityMiddleware()
		credential = authmw.HeaderDevEmail
		identities = auth.NoopDeleter{}
	default:
		client, err := auth.InitializeFirebase(ctx, &cfg.Firebase)
		if err != nil {
			log.Fatal("firebase", zap.Error(err))
		}
		authenticate = authmw.FirebaseAuthMiddleware(client)
		credential = authmw.HeaderAuthorization
		identities = client
	}

	catalog, err := geo.Load()
	if err != nil {
		log.Fatal("load locations", zap.Error(err))
	}
	m := metrics.New()

	donorRepo := donorrepo.NewDonorRepository(pool)
	resolver := access.NewResolver(donorRepo, rdb, cfg.Redis.RoleCacheTTL, log)

	donorSvc := donorservice.NewDonorService(donorRepo, catalog, imagehost.NewClient(cfg.ImageHost), identities, resolver, log)

	bus := events.NewBus(rdb, log)
	requestSvc := requestservice.NewRequestService(requestrepo.NewRequestRepository(pool), donorRepo, catalog, bus, m, log)

	fundingSvc := fundingservice.NewFundingService(
		stripe.NewProvider(cfg.Payment, nil),
		fundingrepo.NewContributionRepository(pool),
		fundingrepo.NewPendingStore(rdb),
		m,
		cfg.Payment.Currency,
		log,
	)

	scheduler := cronjob.NewScheduler(fundingSvc, cfg.Payment.ReconcileSpec, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal("schedule reconciler", zap.Error(err))
	}

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:      serviceName,
		Version:          cfg.App.Version,
		Log:              log,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RateLimitRPS:     cfg.Server.RateLimitRPS,
		RateLimitBurst:   cfg.Server.RateLimitBurst,
		DB:               pool,
		Redis:            httpapi.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		Authenticate:     authenticate,
		CredentialHeader: credential,
		Resolver:         resolver,
		Metrics:          m,
		Geo:              catalog,
		Donors:           donorSvc,
		Requests:         requestSvc,
		Events:           bus,
		Funding:          fundingSvc,
		Stats:            stats.NewHandler(donorSvc, requestSvc, fundingSvc),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)

	log.Info("shutdown complete")
}
