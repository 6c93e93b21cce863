package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/ivr-balance-checker/internal/api/handlers"
	"github.com/acme/ivr-balance-checker/internal/concurrency"
	"github.com/acme/ivr-balance-checker/internal/config"
	"github.com/acme/ivr-balance-checker/internal/extraction"
	"github.com/acme/ivr-balance-checker/internal/infra/db"
	"github.com/acme/ivr-balance-checker/internal/infra/redis"
	"github.com/acme/ivr-balance-checker/internal/ivr"
	"github.com/acme/ivr-balance-checker/internal/orchestrator"
	"github.com/acme/ivr-balance-checker/internal/queue"
	"github.com/acme/ivr-balance-checker/internal/registry"
	"github.com/acme/ivr-balance-checker/internal/repository"
	"github.com/acme/ivr-balance-checker/internal/repository/scylla"
	"github.com/acme/ivr-balance-checker/internal/repository/sqlstore"
	"github.com/acme/ivr-balance-checker/internal/sink"
	"github.com/acme/ivr-balance-checker/internal/telephony"
	"github.com/acme/ivr-balance-checker/internal/telephony/mock"
	"github.com/acme/ivr-balance-checker/internal/telephony/signalwire"
	"github.com/acme/ivr-balance-checker/internal/telephony/twilio"
	"github.com/acme/ivr-balance-checker/internal/webhook"
	"github.com/acme/ivr-balance-checker/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Backends are only connected
// when the configuration asks for them; unused ones stay nil.
type Container struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *registry.Registry

	Postgres *db.Postgres
	SQLite   *db.SQLite
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once       sync.Once
		err        error
		extractor  *extraction.Engine
		scripts    *ivr.Generator
		dispatcher *webhook.Dispatcher
		provider   telephony.Provider
		permits    concurrency.Permits
		sink       sink.ResultSink
	}
}

// Build validates cfg and connects the backends it enables.
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:   cfg,
		Logger:   lg,
		Registry: registry.New(),
	}

	if err := c.connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) connect(ctx context.Context) error {
	cfg := c.Config

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
		c.Postgres = pg
	case config.DriverSQLite:
		lite, err := db.NewSQLite(ctx, cfg.SQLite)
		if err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
		c.SQLite = lite
	}

	if cfg.Store.Transcripts {
		sc, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			return fmt.Errorf("bootstrap scylla: %w", err)
		}
		c.Scylla = sc
	}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		c.Redis = rc
	}

	if cfg.Store.Publish {
		k, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("bootstrap kafka: %w", err)
		}
		c.Kafka = k
	}
	return nil
}

func (c *Container) initComponents(ctx context.Context) error {
	c.components.once.Do(func() {
		cfg := c.Config

		extractor, err := extraction.New(
			extraction.WithKeywords(cfg.Extraction.Keywords),
			extraction.WithSeparator(cfg.Extraction.Separator),
		)
		if err != nil {
			c.components.err = fmt.Errorf("bootstrap extraction: %w", err)
			return
		}

		scripts := ivr.New(ivr.Config{
			PauseAfterPickup:    cfg.IVR.PauseAfterPickup,
			MenuKey:             cfg.IVR.MenuKey,
			PauseAfterMenuKey:   cfg.IVR.PauseAfterMenuKey,
			PauseBetweenSecrets: cfg.IVR.PauseBetweenSecrets,
			PauseBeforeListen:   cfg.IVR.PauseBeforeListen,
			ListenTimeout:       cfg.IVR.ListenTimeout,
			SpeechTimeout:       cfg.IVR.SpeechTimeout,
			Prompt:              cfg.IVR.Prompt,
			ActionURL:           cfg.Telephony.WebhookURL(),
		})

		dispatcher := webhook.NewDispatcher(c.Registry, scripts, extractor, c.Logger)

		results, err := c.buildSink(ctx)
		if err != nil {
			c.components.err = err
			return
		}

		c.components.extractor = extractor
		c.components.scripts = scripts
		c.components.dispatcher = dispatcher
		c.components.provider = c.buildProvider(dispatcher)
		c.components.permits = c.buildPermits()
		c.components.sink = results
	})
	return c.components.err
}

func (c *Container) buildProvider(dispatcher *webhook.Dispatcher) telephony.Provider {
	tc := c.Config.Telephony
	switch tc.Provider {
	case config.ProviderTwilio:
		return twilio.New(tc.AccountSID, tc.AuthToken)
	case config.ProviderMock:
		return mock.NewProvider(dispatcher, mock.Options{Speech: tc.MockScript, SuccessRate: 1})
	default:
		rc := c.Config.Retry
		return signalwire.New(tc.ProjectID, tc.APIToken, tc.SpaceURL,
			signalwire.WithHTTPClient(&http.Client{Timeout: tc.RequestTimeout}),
			signalwire.WithRetry(telephony.NewRetryPolicy(rc.MaxAttempts, rc.BaseDelay, rc.MaxDelay, rc.Jitter)),
		)
	}
}

func (c *Container) buildPermits() concurrency.Permits {
	local := concurrency.NewLocal(c.Config.Orchestrator.Concurrency)
	if c.Redis == nil || c.Config.Redis.GlobalLimit <= 0 {
		return local
	}
	global := concurrency.NewRedis(c.Redis.Inner(), c.Config.Orchestrator.BatchName, c.Config.Redis.GlobalLimit,
		c.Config.Redis.SlotTTL, func(err error) {
			c.Logger.Warn("release global permit", zap.Error(err))
		})
	return concurrency.Chain{local, global}
}

func (c *Container) buildSink(ctx context.Context) (sink.ResultSink, error) {
	cfg := c.Config
	var sinks sink.Multi

	var (
		results     repository.ResultRepository
		transcripts repository.TranscriptStore
	)
	switch {
	case c.Postgres != nil:
		results = sqlstore.NewResultRepository(c.Postgres.DB())
	case c.SQLite != nil:
		results = sqlstore.NewResultRepository(c.SQLite.DB())
	}
	if results != nil {
		if err := results.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap result store: %w", err)
		}
	}
	if c.Scylla != nil {
		store := scylla.NewTranscriptStore(c.Scylla.Session())
		if !cfg.Scylla.DisableInitSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("bootstrap transcript store: %w", err)
			}
		}
		transcripts = store
	}
	if results != nil || transcripts != nil {
		sinks = append(sinks, sink.NewStore(cfg.Orchestrator.BatchName, results, transcripts))
	}

	if c.Kafka != nil {
		if err := c.Kafka.EnsureTopics(ctx, []string{cfg.Kafka.ResultTopic}, 12, 1); err != nil {
			c.Logger.Warn("ensure result topic", zap.Error(err))
		}
		sinks = append(sinks, sink.NewPublisher(cfg.Orchestrator.BatchName,
			queue.NewResultPublisher(c.Kafka, cfg.Kafka.ResultTopic)))
	}

	// the results file is truncated on open, so it goes last once every backend is ready
	if cfg.Output.ResultsFile != "" {
		csvSink, err := sink.CreateCSV(cfg.Output.ResultsFile)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("bootstrap results file: %w", err)
		}
		sinks = append(sink.Multi{csvSink}, sinks...)
	}

	return sinks, nil
}

// Extractor exposes the configured extraction engine.
func (c *Container) Extractor(ctx context.Context) (*extraction.Engine, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	return c.components.extractor, nil
}

// Dispatcher exposes the webhook dispatcher.
func (c *Container) Dispatcher(ctx context.Context) (*webhook.Dispatcher, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	return c.components.dispatcher, nil
}

// Orchestrator builds a batch runner over the shared components.
func (c *Container) Orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	tc := c.Config.Telephony
	opts := orchestrator.Options{
		From:              tc.FromNumber,
		To:                tc.ToNumber,
		WebhookURL:        tc.WebhookURL(),
		StatusCallbackURL: tc.StatusCallbackURL(),
		RingTimeout:       tc.RingTimeout,
		CallTimeout:       c.Config.Orchestrator.CallTimeout,
		RequestTimeout:    tc.RequestTimeout,
		RequestsPerSecond: tc.RequestsPerSecond,
		Burst:             tc.Burst,
		HangupOnTimeout:   tc.HangupOnTimeout,
	}
	return orchestrator.New(c.components.provider, c.Registry, c.components.permits, c.components.sink, opts, c.Logger), nil
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet(ctx context.Context) (*handlers.HandlerSet, error) {
	dispatcher, err := c.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}

	checks := make(map[string]handlers.Pinger)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres
	}
	if c.SQLite != nil {
		checks["sqlite"] = c.SQLite
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	if c.Kafka != nil {
		checks["kafka"] = c.Kafka
	}

	return handlers.NewHandlerSet(handlers.Deps{
		Dispatcher:  dispatcher,
		Registry:    c.Registry,
		Checks:      checks,
		Logger:      c.Logger,
		WebhookPath: c.Config.Telephony.WebhookPath,
		StatusPath:  c.Config.Telephony.StatusPath,
	}), nil
}

// Close releases all held resources.
func (c *Container) Close() error {
	var errs []error
	if c.components.sink != nil {
		if err := c.components.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("result sink close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
