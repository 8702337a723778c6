package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	pipelinemodule "github.com/dmitrymomot/postpipe/modules/pipeline"
	"github.com/dmitrymomot/postpipe/pkg/config"
	"github.com/dmitrymomot/postpipe/pkg/email"
	"github.com/dmitrymomot/postpipe/pkg/httpserver"
	"github.com/dmitrymomot/postpipe/pkg/logger"
	"github.com/dmitrymomot/postpipe/pkg/pg"
	"github.com/dmitrymomot/postpipe/pkg/queue"
	redisconn "github.com/dmitrymomot/postpipe/pkg/redis"
	"github.com/dmitrymomot/postpipe/pkg/schedule"
	"github.com/dmitrymomot/postpipe/svc/notifier"
	"github.com/dmitrymomot/postpipe/svc/pipeline"
	"github.com/dmitrymomot/postpipe/svc/post"
	"github.com/dmitrymomot/postpipe/svc/publisher"
)

type appConfig struct {
	Env string `env:"APP_ENV" envDefault:"development"`

	HTTP     httpserver.Config
	DB       pg.Config
	Queue    queue.Config
	Pipeline pipeline.Config
	LinkedIn publisher.LinkedInConfig

	// QueueDriver selects the job storage backend: "postgres" keeps jobs
	// next to posts in one database, "redis" offloads them to Redis.
	QueueDriver string `env:"QUEUE_DRIVER" envDefault:"postgres"`

	// Demo credentials for a single connected LinkedIn account. A real
	// deployment plugs a per-account token store into the publisher.
	LinkedInToken string `env:"LINKEDIN_ACCESS_TOKEN"`
	LinkedInURN   string `env:"LINKEDIN_AUTHOR_URN"`

	MediaEnabled bool `env:"MEDIA_S3_ENABLED" envDefault:"false"`

	// Failure notification target; empty falls back to log-only.
	NotifyEmail   string `env:"NOTIFY_EMAIL"`
	PostmarkToken string `env:"POSTMARK_SERVER_TOKEN"`
}

// staticLinkedInCreds serves one configured token for every account.
type staticLinkedInCreds publisher.Credentials

func (c staticLinkedInCreds) Credentials(ctx context.Context, _ uuid.UUID) (*publisher.Credentials, error) {
	if c.AccessToken == "" {
		return nil, publisher.ErrNoCredentials
	}
	cc := publisher.Credentials(c)
	return &cc, nil
}

// fixedRecipient routes every failure notification to one address.
type fixedRecipient string

func (r fixedRecipient) EmailFor(ctx context.Context, _ uuid.UUID) (string, error) {
	if r == "" {
		return "", notifier.ErrRecipientUnknown
	}
	return string(r), nil
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := newLogger(cfg.Env)
	ctx := context.Background()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("postpipe exited", logger.Error(err))
		os.Exit(1)
	}
}

func newLogger(env string) *slog.Logger {
	if env == "production" {
		return logger.New(logger.WithProduction("postpipe"))
	}
	return logger.New(logger.WithDevelopment("postpipe"))
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.DB, log); err != nil {
		return err
	}

	storage, queueCheck, err := buildQueueStorage(ctx, cfg, pool)
	if err != nil {
		return err
	}
	store, err := post.NewPostgresStore(pool)
	if err != nil {
		return err
	}
	enq, err := queue.NewEnqueuer(storage, queue.WithDefaultQueue(cfg.Pipeline.QueueName))
	if err != nil {
		return err
	}

	svc, err := pipeline.NewService(store, enq, cfg.Pipeline, pipeline.WithServiceLogger(log))
	if err != nil {
		return err
	}

	pub, err := publisher.NewLinkedInPublisher(cfg.LinkedIn, staticLinkedInCreds{
		AccessToken: cfg.LinkedInToken,
		AuthorURN:   cfg.LinkedInURN,
	})
	if err != nil {
		return err
	}

	var media publisher.MediaResolver
	if cfg.MediaEnabled {
		var mediaCfg publisher.S3MediaConfig
		config.MustLoad(&mediaCfg)
		media, err = publisher.NewS3MediaResolver(ctx, mediaCfg)
		if err != nil {
			return err
		}
	}

	notif, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := pipeline.NewMetrics(registry)

	dispatcher, err := pipeline.NewDispatcher(pipeline.DispatcherDeps{
		Repo:     storage,
		Posts:    store,
		Pub:      pub,
		Media:    media,
		Notifier: notif,
	}, cfg.Pipeline, cfg.Queue,
		pipeline.WithDispatcherLogger(log),
		pipeline.WithDispatcherMetrics(metrics),
	)
	if err != nil {
		return err
	}

	// Safety net behind the HTTP cron hook: the sweep also runs on its
	// own timer so a lost cron caller cannot strand due posts.
	runner := schedule.NewRunner(schedule.WithLogger(log))
	if err := runner.AddJob("recovery-sweep", schedule.EveryInterval(cfg.Pipeline.RecoveryInterval), func(ctx context.Context) error {
		_, err := svc.RecoverySweep(ctx)
		return err
	}); err != nil {
		return err
	}

	r := chi.NewRouter()
	readyChecks := []func(context.Context) error{pg.Healthcheck(pool)}
	if queueCheck != nil {
		readyChecks = append(readyChecks, queueCheck)
	}
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log, readyChecks...))
	r.Mount("/", pipelinemodule.Router(pipelinemodule.RouterOptions{
		Service: svc,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}))

	server := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, r) })
	g.Go(dispatcher.Run(ctx))
	g.Go(runner.Run(ctx))

	return g.Wait()
}

// buildQueueStorage picks the job storage backend. The extra readiness
// check is nil for postgres because the shared pool is probed already.
func buildQueueStorage(ctx context.Context, cfg appConfig, pool *pgxpool.Pool) (queue.Storage, func(context.Context) error, error) {
	switch cfg.QueueDriver {
	case "redis":
		var redisCfg redisconn.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, nil, err
		}
		client, err := redisconn.Connect(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		storage, err := queue.NewRedisStorage(client)
		if err != nil {
			return nil, nil, err
		}
		return storage, redisconn.Healthcheck(client), nil
	default:
		storage, err := queue.NewPostgresStorage(pool)
		if err != nil {
			return nil, nil, err
		}
		return storage, nil, nil
	}
}

func buildNotifier(cfg appConfig, log *slog.Logger) (notifier.Notifier, error) {
	if cfg.NotifyEmail == "" {
		return notifier.NewLogNotifier(log), nil
	}

	// Without a Postmark token, failure emails land on disk for inspection.
	if cfg.PostmarkToken == "" {
		return notifier.NewEmailNotifier(email.NewDevSender("./tmp/emails"), fixedRecipient(cfg.NotifyEmail))
	}

	var emailCfg email.Config
	if err := config.Load(&emailCfg); err != nil {
		return nil, err
	}
	sender, err := email.NewPostmarkClient(emailCfg)
	if err != nil {
		return nil, err
	}
	return notifier.NewEmailNotifier(sender, fixedRecipient(cfg.NotifyEmail))
}
