package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/postflow/modules/credential"
	"github.com/dmitrymomot/postflow/modules/ops"
	"github.com/dmitrymomot/postflow/modules/publisher"
	"github.com/dmitrymomot/postflow/modules/scheduler"
	"github.com/dmitrymomot/postflow/pkg/config"
	"github.com/dmitrymomot/postflow/pkg/httpserver"
	"github.com/dmitrymomot/postflow/pkg/ledger"
	"github.com/dmitrymomot/postflow/pkg/logger"
	"github.com/dmitrymomot/postflow/pkg/pg"
	"github.com/dmitrymomot/postflow/pkg/queue"
	"github.com/dmitrymomot/postflow/pkg/redis"
	"github.com/dmitrymomot/postflow/pkg/resilience"
	"github.com/dmitrymomot/postflow/pkg/vault"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_NAME" envDefault:"postflow"`

	// VaultMasterKey is the hex-encoded 32-byte key all stored OAuth
	// credentials are encrypted under. Rotating it requires re-encrypting
	// every row, so treat it like a database password.
	VaultMasterKey string `env:"VAULT_MASTER_KEY,required"`

	PublishQueue         string        `env:"PUBLISH_QUEUE" envDefault:"publish"`
	LedgerTTL            time.Duration `env:"LEDGER_TTL" envDefault:"168h"`
	SweepEveryMinutes    int           `env:"CREDENTIAL_SWEEP_EVERY_MINUTES" envDefault:"15"`
	PublishCallTimeout   time.Duration `env:"PUBLISH_CALL_TIMEOUT" envDefault:"60s"`
	PublishRetryAttempts int           `env:"PUBLISH_RETRY_ATTEMPTS" envDefault:"3"`
}

// platformConfig holds one platform's OAuth endpoints and the gateway URL
// publish calls are delegated to. A platform is enabled when TokenURL and
// PublishURL are both set.
type platformConfig struct {
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	AuthURL      string        `env:"AUTH_URL"`
	TokenURL     string        `env:"TOKEN_URL"`
	PublishURL   string        `env:"PUBLISH_URL"`
	ExpiryBuffer time.Duration `env:"EXPIRY_BUFFER" envDefault:"15m"`
}

func (p platformConfig) enabled() bool {
	return p.TokenURL != "" && p.PublishURL != ""
}

type platformsConfig struct {
	Instagram platformConfig `envPrefix:"INSTAGRAM_"`
	TikTok    platformConfig `envPrefix:"TIKTOK_"`
	LinkedIn  platformConfig `envPrefix:"LINKEDIN_"`
}

func (p platformsConfig) all() map[string]platformConfig {
	return map[string]platformConfig{
		"instagram": p.Instagram,
		"tiktok":    p.TikTok,
		"linkedin":  p.LinkedIn,
	}
}

func main() {
	if err := run(); err != nil {
		slog.Error("postflow exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg       appConfig
		platforms platformsConfig
		pgCfg     pg.Config
		redisCfg  redis.Config
		queueCfg  queue.Config
		httpCfg   httpserver.Config
	)
	for _, target := range []error{
		config.Load(&cfg),
		config.Load(&platforms),
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&queueCfg),
		config.Load(&httpCfg),
	} {
		if target != nil {
			return fmt.Errorf("failed to load configuration: %w", target)
		}
	}

	log := logger.New(logger.WithEnvironment(cfg.Environment, cfg.ServiceName))
	logger.SetAsDefault(log)

	masterKey, err := hex.DecodeString(cfg.VaultMasterKey)
	if err != nil {
		return fmt.Errorf("vault master key is not valid hex: %w", err)
	}
	v, err := vault.New(masterKey)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	// Queue components share one Postgres-backed storage
	storage, err := queue.NewPostgresStorage(pool)
	if err != nil {
		return fmt.Errorf("failed to create queue storage: %w", err)
	}

	worker, err := queue.NewWorker(storage,
		queue.WithQueues(cfg.PublishQueue, queue.DefaultQueueName),
		queue.WithPullInterval(queueCfg.PollInterval),
		queue.WithLockTimeout(queueCfg.LockTimeout),
		queue.WithMaxConcurrentTasks(queueCfg.MaxConcurrentTasks),
		queue.WithWorkerLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create queue worker: %w", err)
	}

	periodic, err := queue.NewScheduler(storage, queue.WithSchedulerLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create periodic scheduler: %w", err)
	}

	admin, err := queue.NewAdmin(storage, queue.WithAdminLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create queue admin: %w", err)
	}

	// Circuit state and the idempotency ledger live in Redis so every
	// worker instance observes the same decisions
	breakerStore, err := resilience.NewRedisStore(redisClient)
	if err != nil {
		return fmt.Errorf("failed to create breaker store: %w", err)
	}
	breaker, err := resilience.NewBreaker(breakerStore)
	if err != nil {
		return fmt.Errorf("failed to create circuit breaker: %w", err)
	}
	executor, err := resilience.NewExecutor(breaker,
		resilience.WithRetryAttempts(cfg.PublishRetryAttempts),
		resilience.WithCallTimeout(cfg.PublishCallTimeout),
		resilience.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create resilience executor: %w", err)
	}

	led, err := ledger.NewRedisLedger(redisClient, ledger.WithTTL(cfg.LedgerTTL))
	if err != nil {
		return fmt.Errorf("failed to create job ledger: %w", err)
	}

	accounts, err := credential.NewPostgresAccountRepository(pool)
	if err != nil {
		return fmt.Errorf("failed to create account repository: %w", err)
	}

	managerOpts := []credential.ManagerOption{credential.WithManagerLogger(log)}
	publisherOpts := []publisher.WorkerOption{publisher.WithWorkerLogger(log)}
	for name, pc := range platforms.all() {
		if !pc.enabled() {
			continue
		}
		managerOpts = append(managerOpts, credential.WithPlatform(name, &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  pc.AuthURL,
				TokenURL: pc.TokenURL,
			},
		}, pc.ExpiryBuffer))

		pub, err := publisher.NewHTTPPublisher(name, pc.PublishURL)
		if err != nil {
			return fmt.Errorf("failed to create %s publisher: %w", name, err)
		}
		publisherOpts = append(publisherOpts, publisher.WithPublisher(pub))
		log.InfoContext(ctx, "platform enabled", slog.String("platform", name))
	}

	manager, err := credential.NewManager(accounts, v, managerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create credential manager: %w", err)
	}

	posts, err := scheduler.NewPostgresPostRepository(pool)
	if err != nil {
		return fmt.Errorf("failed to create post repository: %w", err)
	}

	publishWorker, err := publisher.NewWorker(posts, manager, led, executor, publisherOpts...)
	if err != nil {
		return fmt.Errorf("failed to create publish worker: %w", err)
	}

	if err := worker.RegisterHandlers(publishWorker.Handler(), manager.SweepHandler()); err != nil {
		return fmt.Errorf("failed to register queue handlers: %w", err)
	}
	if err := periodic.AddTask(credential.SweepTaskName, queue.EveryMinutes(cfg.SweepEveryMinutes)); err != nil {
		return fmt.Errorf("failed to schedule credential sweep: %w", err)
	}

	mux := chi.NewRouter()
	mux.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	mux.Mount("/ops", ops.Router(ops.RouterOptions{
		Queue:       admin,
		Breakers:    breaker,
		Credentials: manager,
		HealthChecks: map[string]func(context.Context) error{
			"postgres": pg.Healthcheck(pool),
			"redis":    redis.Healthcheck(redisClient),
		},
	}))
	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(ctx))
	g.Go(periodic.Run(ctx))
	g.Go(func() error { return srv.Run(ctx, mux) })

	log.InfoContext(ctx, "postflow started",
		slog.String("environment", cfg.Environment),
		slog.String("http_addr", httpCfg.Addr),
		slog.String("publish_queue", cfg.PublishQueue))

	return g.Wait()
}
