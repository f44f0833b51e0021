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

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"tally/internal/audit"
	auditmem "tally/internal/audit/store/memory"
	auditpg "tally/internal/audit/store/postgres"
	"tally/internal/authz"
	"tally/internal/donation"
	"tally/internal/gateway"
	ledgersvc "tally/internal/ledger/service"
	ledgerstore "tally/internal/ledger/store"
	"tally/internal/limits"
	limitsvc "tally/internal/limits/service"
	limitstore "tally/internal/limits/store"
	"tally/internal/platform/config"
	"tally/internal/platform/httpserver"
	"tally/internal/platform/logger"
	"tally/internal/platform/metrics"
	platformredis "tally/internal/platform/redis"
	"tally/internal/reconcile"
	refundsvc "tally/internal/refund/service"
	refundstore "tally/internal/refund/store"
	httptransport "tally/internal/transport/http"
	"tally/internal/webhook"
	webhooksvc "tally/internal/webhook/service"
	webhookstore "tally/internal/webhook/store"
)

// main wires the engine from configuration and runs it until a shutdown
// signal. Every store has an in-memory fallback so the binary runs without
// infrastructure in development; production deploys point TALLY_POSTGRES_DSN,
// TALLY_REDIS_URL, and TALLY_KAFKA_BROKERS at real backends.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Stores. The audit store uses database/sql for the outbox transaction;
	// everything else shares one pgx pool.
	var (
		ledgerStore  ledgerstore.Store       = ledgerstore.NewMemory()
		limitStore   limitstore.Store        = limitstore.NewMemory()
		webhookStore webhookstore.Store      = webhookstore.NewMemory()
		refundStore  refundstore.Store       = refundstore.NewMemory()
		recStore     reconcile.Store         = reconcile.NewMemory()
		auditStore   audit.Store             = auditmem.New()
		outboxStore  audit.OutboxStore
		checkers     []httptransport.HealthChecker
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}

		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres sql open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pgAudit := auditpg.New(db)
		ledgerStore = ledgerstore.NewPostgres(pool)
		limitStore = limitstore.NewPostgres(pool)
		webhookStore = webhookstore.NewPostgres(pool)
		refundStore = refundstore.NewPostgres(pool)
		recStore = reconcile.NewPostgres(pool)
		auditStore = pgAudit
		outboxStore = pgAudit
		checkers = append(checkers, healthFunc(pool.Ping))
	}

	auditPub := audit.NewPublisher(auditStore)

	recSvc, err := reconcile.New(recStore,
		reconcile.WithLogger(log),
		reconcile.WithCounter(m.ReconcileItems),
	)
	if err != nil {
		log.Error("reconcile service init failed", "error", err)
		os.Exit(1)
	}

	limitConfig := limits.DefaultConfig()
	if cfg.LimitsPath != "" {
		limitConfig, err = limits.LoadFile(cfg.LimitsPath)
		if err != nil {
			log.Error("limit table load failed", "path", cfg.LimitsPath, "error", err)
			os.Exit(1)
		}
	}

	limitSvc, err := limitsvc.New(limitConfig, limitStore, auditPub, recSvc,
		limitsvc.WithLogger(log),
		limitsvc.WithRejectionCounter(m.LimitRejections),
	)
	if err != nil {
		log.Error("limit engine init failed", "error", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledgersvc.New(ledgerStore, auditPub, recSvc,
		ledgersvc.WithLogger(log),
		ledgersvc.WithAggregateSink(limitSvc),
		ledgersvc.WithTransitionCounter(m.TransitionsTotal),
	)
	if err != nil {
		log.Error("ledger service init failed", "error", err)
		os.Exit(1)
	}

	retryPolicy := gateway.RetryPolicy{
		MaxAttempts: cfg.Gateway.MaxRetries,
		Timeout:     cfg.Gateway.Timeout,
		BackoffBase: cfg.Gateway.RetryBase,
	}
	sandbox := gateway.NewSandbox()

	intake, err := donation.New(ledgerSvc, limitSvc, sandbox, auditPub, recSvc,
		donation.WithLogger(log),
		donation.WithRetryPolicy(retryPolicy),
		donation.WithCreatedCounter(m.DonationsCreated),
	)
	if err != nil {
		log.Error("donation intake init failed", "error", err)
		os.Exit(1)
	}

	authorizer := authz.NewCapabilityAuthorizer()
	refunds, err := refundsvc.New(refundStore, ledgerSvc, sandbox, authorizer, auditPub, recSvc,
		refundsvc.WithLogger(log),
		refundsvc.WithRetryPolicy(retryPolicy),
		refundsvc.WithRequestCounter(m.RefundsRequested),
		refundsvc.WithAggregateSink(limitSvc),
	)
	if err != nil {
		log.Error("refund coordinator init failed", "error", err)
		os.Exit(1)
	}

	verifier, err := webhook.NewVerifier(cfg.WebhookSecret)
	if err != nil {
		log.Error("webhook verifier init failed", "error", err)
		os.Exit(1)
	}

	webhookOpts := []webhooksvc.Option{
		webhooksvc.WithLogger(log),
		webhooksvc.WithMetrics(m),
		webhooksvc.WithRefundConfirmer(refunds),
	}
	redisClient, err := platformredis.New(cfg.RedisURL, cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		webhookOpts = append(webhookOpts, webhooksvc.WithClaimer(webhookstore.NewRedisClaimer(redisClient)))
		checkers = append(checkers, healthFunc(redisClient.Health))
	}

	webhooks, err := webhooksvc.New(verifier, webhookStore, ledgerSvc, recSvc, auditPub, webhookOpts...)
	if err != nil {
		log.Error("webhook service init failed", "error", err)
		os.Exit(1)
	}

	jwtSvc := authz.NewJWTService(cfg.JWTSigningKey, "tally")

	handler := httptransport.NewHandler(log, intake, ledgerSvc, webhooks, refunds, limitSvc, recSvc, auditPub, authorizer, checkers...)
	router := httptransport.NewRouter(handler, jwtSvc, m, log)
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 && outboxStore != nil {
		worker, err := audit.NewWorker(outboxStore, cfg.KafkaBrokers, cfg.AuditTopic, log,
			audit.WithLagGauge(m.AuditOutboxLag),
		)
		if err != nil {
			log.Error("audit publisher init failed", "error", err)
			os.Exit(1)
		}
		group.Go(func() error {
			log.Info("audit outbox worker started", "topic", cfg.AuditTopic)
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// healthFunc adapts a ping function to the handler's HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }
