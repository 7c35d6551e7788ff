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

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	anchorhandler "dbis/internal/anchor/handler"
	"dbis/internal/anchor/metrics"
	anchorsvc "dbis/internal/anchor/service"
	"dbis/internal/anchor/store/tracker"
	"dbis/internal/audit"
	"dbis/internal/auth"
	identityhandler "dbis/internal/identity/handler"
	identitysvc "dbis/internal/identity/service"
	commitmentstore "dbis/internal/identity/store/commitment"
	identitystore "dbis/internal/identity/store/identity"
	recordstore "dbis/internal/identity/store/record"
	"dbis/internal/jwttoken"
	"dbis/internal/ledger/gateway"
	"dbis/internal/ledger/statecache"
	"dbis/internal/platform/config"
	"dbis/internal/platform/health"
	"dbis/internal/platform/httpserver"
	"dbis/internal/platform/logger"
	platformredis "dbis/internal/platform/redis"
	platformtx "dbis/pkg/platform/tx"
)

const (
	tokenIssuer   = "dbis"
	tokenAudience = "dbis-api"
)

// main wires the dependencies and runs the HTTP server alongside the expiry
// sweeper and the audit shipper. Business logic lives in internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerClient, err := gateway.New(cfg.Ledger, log)
	if err != nil {
		log.Error("failed to build ledger gateway", "error", err)
		os.Exit(1)
	}

	// The cache serves only the status read path on the HTTP surface. The
	// anchoring engine always reads the ledger directly. Without Redis the
	// status endpoint omits the ledger view rather than call out.
	var stateView anchorhandler.StateView
	if cache := statecache.Wrap(ledgerClient, redisClient, cfg.Redis.StateTTL, log); cache != nil {
		stateView = cache
	}

	identities := identitystore.NewPostgres(db)
	commitments := commitmentstore.NewPostgres(db)
	records := recordstore.NewPostgres(db)
	transactions := tracker.NewPostgres(db)
	users := auth.NewPostgres(db)
	auditStore := audit.NewPostgres(db)

	auditPublisher := audit.NewPublisher(auditStore)

	auditSink, err := audit.NewKafkaSink(ctx, cfg.Kafka)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	if auditSink != nil {
		defer auditSink.Close()
	}

	anchorMetrics := metrics.New()

	jwtService := jwttoken.New(cfg.JWTSigningKey, tokenIssuer, tokenAudience)
	jwtValidator := jwttoken.NewMiddlewareAdapter(jwtService)

	authService := auth.NewService(users, jwtService,
		auth.WithLogger(log),
		auth.WithAuditPublisher(auditPublisher),
	)
	identityService := identitysvc.New(identities, commitments, records,
		identitysvc.WithLogger(log),
		identitysvc.WithAuditPublisher(auditPublisher),
	)
	anchorService := anchorsvc.New(identities, commitments, records, transactions,
		ledgerClient, cfg.PendingWindow,
		anchorsvc.WithLogger(log),
		anchorsvc.WithMetrics(anchorMetrics),
		anchorsvc.WithAuditPublisher(auditPublisher),
		anchorsvc.WithTxRunner(platformtx.NewRunner(db)),
	)
	sweeper := anchorsvc.NewSweeper(anchorService, cfg.SweepInterval, log)

	router := chi.NewRouter()
	auth.NewHandler(authService, log).Register(router)
	identityhandler.New(identityService, log, jwtValidator).Register(router)
	anchorhandler.New(anchorService, identityService, stateView, log, jwtValidator).Register(router)
	health.New(map[string]health.Checker{
		"postgres": health.CheckFunc(db.PingContext),
		"redis":    redisChecker(redisClient),
	}).Register(router)
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(sweeper.Run(ctx))
	})
	if auditSink != nil {
		worker := audit.NewWorker(auditStore, auditSink, 5*time.Second, log)
		g.Go(func() error {
			return ignoreCanceled(worker.Run(ctx))
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// redisChecker returns nil when redis is not configured so the health handler
// skips the check entirely.
func redisChecker(client *platformredis.Client) health.Checker {
	if client == nil {
		return nil
	}
	return health.CheckFunc(client.Health)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
