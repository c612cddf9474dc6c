package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"

	"warden/internal/abuse/engine"
	"warden/internal/abuse/enrich"
	"warden/internal/abuse/events"
	"warden/internal/abuse/metrics"
	"warden/internal/abuse/policy"
	detectionsvc "warden/internal/abuse/service/detection"
	lockoutsvc "warden/internal/abuse/service/lockout"
	"warden/internal/abuse/store/counter"
	detectionstore "warden/internal/abuse/store/detection"
	lockoutstore "warden/internal/abuse/store/lockout"
	"warden/internal/abuse/tracer"
	"warden/internal/abuse/workers/cleanup"
	"warden/internal/abuse/workers/snapshot"
	"warden/internal/platform/config"
	"warden/internal/platform/database"
	"warden/internal/platform/health"
	"warden/internal/platform/kafka"
	"warden/internal/platform/kafka/producer"
	"warden/internal/platform/redis"
	audit "warden/pkg/platform/audit"
	auditmetrics "warden/pkg/platform/audit/metrics"
	auditpublisher "warden/pkg/platform/audit/publisher"
)

// application holds everything the router and supervisor need.
type application struct {
	engine   *engine.Engine
	health   *health.Handler
	services []suture.Service

	closers []func() error
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *application) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("resource close failed", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (_ *application, err error) {
	app := &application{health: health.New(cfg.Environment)}
	defer func() {
		if err != nil {
			app.close(log)
		}
	}()
	m := metrics.New(reg)

	provider, err := buildPolicy(cfg.Policy, log, m)
	if err != nil {
		return nil, err
	}
	app.health.RegisterCheck("policy", func(context.Context) error {
		if provider.Current() == nil {
			return errors.New("no policy published")
		}
		return nil
	})
	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		loader, err := policy.NewLoader(cfg.Policy.Path, provider, policy.WithLoaderLogger(log))
		if err != nil {
			return nil, err
		}
		app.services = append(app.services, loader)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, reg)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		app.onClose(redisClient.Close)
	}

	counters, sweepable, err := buildCounterStore(cfg, redisClient, log, m)
	if err != nil {
		return nil, err
	}
	if cfg.Engine.CounterBackend == config.CounterBackendRedis {
		app.health.RegisterCheck("redis", redisClient.Health)
	}

	detectionPublisher, auditSink, err := buildEventing(cfg, log, app)
	if err != nil {
		return nil, err
	}

	auditPub := auditpublisher.NewPublisher(auditSink,
		auditpublisher.WithAsyncBuffer(cfg.Engine.AuditBuffer),
		auditpublisher.WithPublisherLogger(log),
		auditpublisher.WithMetrics(auditmetrics.New(reg)),
	)
	app.onClose(func() error {
		auditPub.Close()
		return nil
	})

	detections, err := buildDetectionStore(ctx, cfg, log, reg, app)
	if err != nil {
		return nil, err
	}

	lockouts := lockoutstore.New()
	lockoutService, err := lockoutsvc.New(counters, lockouts, provider,
		lockoutsvc.WithLogger(log),
		lockoutsvc.WithAuditPublisher(auditPub),
		lockoutsvc.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	detectionService, err := detectionsvc.New(detections, provider,
		detectionsvc.WithLogger(log),
		detectionsvc.WithAuditPublisher(auditPub),
		detectionsvc.WithEventPublisher(detectionPublisher),
		detectionsvc.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	app.engine, err = engine.New(lockoutService, detectionService, provider,
		engine.WithLogger(log),
		engine.WithTracer(tracer.NewOTel()),
		engine.WithMetrics(m),
		engine.WithAuditPublisher(auditPub),
		engine.WithEnrichers(enrich.NewUserAgent()),
		engine.WithCheckTimeout(cfg.Engine.CheckTimeout),
		engine.WithScoreTimeout(cfg.Engine.ScoreTimeout),
	)
	if err != nil {
		return nil, err
	}

	targets := []cleanup.Target{{Name: "lockouts", Store: lockouts}}
	if sweepable != nil {
		targets = append(targets, cleanup.Target{Name: "counters", Store: sweepable})
	}
	app.services = append(app.services, cleanup.New(targets,
		cleanup.WithLogger(log),
		cleanup.WithInterval(cfg.Engine.SweepInterval),
		cleanup.WithBatch(cfg.Engine.SweepBatch),
		cleanup.WithMetrics(m),
	))

	if cfg.Engine.SnapshotPath != "" {
		snap, err := buildSnapshot(ctx, cfg.Engine, lockouts, redisClient, log, m, app)
		if err != nil {
			return nil, err
		}
		app.services = append(app.services, snap)
	}

	return app, nil
}

func buildPolicy(cfg config.Policy, log *slog.Logger, m *metrics.Metrics) (*policy.Provider, error) {
	doc := policy.DefaultDocument()
	if cfg.Path != "" {
		loaded, err := policy.LoadDocument(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		doc = loaded
	}
	provider, err := policy.NewProvider(doc, policy.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("publish initial policy: %w", err)
	}
	m.SetPolicyVersion(provider.Current().Version)
	provider.Subscribe(func(s *policy.Snapshot) {
		m.SetPolicyVersion(s.Version)
	})
	log.Info("policy published", "version", provider.Current().Version, "path", cfg.Path)
	return provider, nil
}

// buildCounterStore returns the configured counter store and, for in-process
// backends, the same store as a sweep target.
func buildCounterStore(cfg *config.Config, client *redis.Client, log *slog.Logger, m *metrics.Metrics) (counter.Store, cleanup.Sweeper, error) {
	switch cfg.Engine.CounterBackend {
	case config.CounterBackendApprox:
		s := counter.NewApproxCounterStore(
			counter.WithMaxKeys(cfg.Engine.MaxKeys),
			counter.WithBuckets(cfg.Engine.ApproxBuckets),
			counter.WithLogger(log),
			counter.WithMetrics(m),
		)
		return s, s, nil
	case config.CounterBackendRedis:
		if client == nil {
			return nil, nil, errors.New("redis counter backend selected without redis.url")
		}
		breaker := counter.DefaultBreakerConfig()
		breaker.CallTimeout = cfg.Engine.CheckTimeout
		breaker.FailureThreshold = cfg.Engine.BreakerFailures
		breaker.OpenTimeout = cfg.Engine.BreakerOpenFor
		return counter.NewResilientStore(counter.NewRedisCounterStore(client.Client), breaker, log, m), nil, nil
	default:
		s := counter.NewInMemoryCounterStore(
			counter.WithMaxKeys(cfg.Engine.MaxKeys),
			counter.WithLogger(log),
			counter.WithMetrics(m),
		)
		return s, s, nil
	}
}

func buildDetectionStore(
	ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer, app *application,
) (detectionsvc.Store, error) {
	pool, err := database.New(ctx, cfg.Database, database.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if pool == nil {
		log.Info("database not configured, detections kept in memory")
		return detectionstore.NewInMemory(), nil
	}
	app.onClose(pool.Close)
	app.health.RegisterCheck("database", pool.Health)

	if cfg.Database.Migrate {
		applied, err := database.Migrate(ctx, pool.DB())
		if err != nil {
			return nil, err
		}
		version, err := database.SchemaVersion(ctx, pool.DB())
		if err != nil {
			return nil, err
		}
		log.Info("database migrated", "applied", applied, "schema_version", version)
	}
	return detectionstore.NewPostgres(pool.DB()), nil
}

func buildEventing(cfg *config.Config, log *slog.Logger, app *application) (detectionsvc.EventPublisher, audit.Store, error) {
	if !cfg.KafkaEnabled() {
		log.Info("kafka not configured, events stay in-process")
		return events.NoopPublisher{}, events.NoopAuditSink{}, nil
	}
	p, err := producer.New(kafka.ProducerConfig(cfg.Kafka), log)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	app.onClose(p.Close)
	app.health.RegisterOptionalCheck("kafka", kafka.NewHealthChecker(p.Admin()).Check)

	var detections detectionsvc.EventPublisher = events.NoopPublisher{}
	if cfg.Engine.PublishEvents {
		detections = events.NewDetectionPublisher(p, cfg.Kafka.DetectionTopic)
	}
	return detections, events.NewAuditSink(p, cfg.Kafka.AuditTopic), nil
}

func buildSnapshot(ctx context.Context, cfg config.Engine, lockouts *lockoutstore.InMemoryLockoutStore, client *redis.Client,
	log *slog.Logger, m *metrics.Metrics, app *application,
) (*snapshot.Service, error) {
	db, err := lockoutstore.OpenBadger(cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("open lockout snapshot: %w", err)
	}
	app.onClose(db.Close)

	opts := []snapshot.Option{
		snapshot.WithLogger(log),
		snapshot.WithInterval(cfg.SnapshotInterval),
		snapshot.WithMetrics(m),
	}
	if client != nil {
		opts = append(opts, snapshot.WithTick(client.RecordPoolStats))
	}
	svc := snapshot.New(lockouts, lockoutstore.NewBadgerSnapshotter(db), opts...)

	restoreCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := svc.Restore(restoreCtx); err != nil {
		// A missing or unreadable snapshot only costs warm lockout state.
		log.Warn("lockout snapshot restore failed", "error", err)
	}
	return svc, nil
}
