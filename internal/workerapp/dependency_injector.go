package workerapp

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/halodocs/workbench/internal/dispatch"
	"github.com/halodocs/workbench/internal/engine"
	"github.com/halodocs/workbench/internal/infra/config"
	filestore "github.com/halodocs/workbench/internal/infra/store/file"
	taskstore "github.com/halodocs/workbench/internal/infra/store/task"
	mio "github.com/halodocs/workbench/internal/libs/minio"
	natsq "github.com/halodocs/workbench/internal/libs/nats"
	rediscli "github.com/halodocs/workbench/internal/libs/redis"
	"github.com/halodocs/workbench/internal/process/docproc"
	"github.com/halodocs/workbench/internal/process/imageproc"
	"github.com/halodocs/workbench/internal/process/mediaproc"
)

const cfgPath = "./configs/worker.yaml"

type Consumer interface {
	Run(ctx context.Context)
	Stop(ctx context.Context)
	StartCleanup(ctx context.Context)
}

type dependencyInjector struct {
	cfg    *config.WorkerConfig
	logger *slog.Logger

	redis     *redis.Client
	taskStore dispatch.TaskStore

	fileStore dispatch.FileStore

	natsConn *nats.Conn
	js       nats.JetStreamContext

	engineLoader *engine.Loader
	runner       *dispatch.Runner
	consumer     Consumer
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.WorkerConfig {
	if di.cfg == nil {
		di.cfg = config.MustLoadWorker(cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(
			slog.NewTextHandler(
				os.Stdout,
				&slog.HandlerOptions{
					Level: slog.LevelInfo,
				},
			),
		)
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("RedisClient: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) TaskStore(ctx context.Context) dispatch.TaskStore {
	if di.taskStore == nil {
		di.taskStore = taskstore.NewRedisTaskStore(di.RedisClient(ctx))
	}
	return di.taskStore
}

func (di *dependencyInjector) FileStore(ctx context.Context) dispatch.FileStore {
	if di.fileStore == nil {
		cfg := di.Config()

		local, err := filestore.NewLocalStore(di.Config().BaseDir)
		if err != nil {
			log.Fatalf("FileStore local: %+v", err)
		}
		di.Logger().Info("initialized local file store", slog.String("base_dir", cfg.BaseDir))

		remote, err := filestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			BasePath:        cfg.BaseDir,
		})
		if err != nil {
			log.Fatalf("FileStore minio: %+v", err)
		}
		di.Logger().Info(
			"initialized MinIO file store",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		di.fileStore = filestore.NewAsyncStore(ctx, local, remote, cfg.QueueCapacity, cfg.PoolSize, 3)
		di.Logger().Info(
			"using async file store (local + MinIO)",
			slog.Int("queue_size", cfg.QueueCapacity),
			slog.Int("worker_num", cfg.PoolSize),
			slog.Int("max_retries", 3),
		)
	}

	return di.fileStore
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config()
		nc, err := natsq.NewConnect(cfg.NATS.URL, natsq.Config{
			Name:          cfg.NATS.QueueName,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		js, err := natsq.NewJetStream(di.NATSConn(ctx), &nats.StreamConfig{
			Name:     dispatch.StreamName,
			Subjects: []string{di.Config().NATS.Subject},
			Storage:  nats.FileStorage,
			Replicas: 1,
			MaxAge:   2 * di.Config().TaskTTL,
		})

		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) EngineLoader(ctx context.Context) *engine.Loader {
	if di.engineLoader == nil {
		cfg := di.Config().Engines
		di.engineLoader = engine.NewLoader(
			engine.NewWazeroFactory(cfg.TranscoderPath, cfg.PDFPath),
			cfg.FreshnessWindow,
		)
		di.Logger().Info("initialized engine loader",
			slog.String("freshness_window", cfg.FreshnessWindow.String()),
		)
	}
	return di.engineLoader
}

func (di *dependencyInjector) Runner(ctx context.Context) *dispatch.Runner {
	if di.runner == nil {
		cfg := di.Config()
		loader := di.EngineLoader(ctx)

		procs := map[dispatch.Class]dispatch.Processor{
			dispatch.ClassImage:    imageproc.New(),
			dispatch.ClassDocument: docproc.New(loader, di.FileStore(ctx)),
			dispatch.ClassMedia:    mediaproc.New(loader),
		}

		di.runner = dispatch.NewRunner(procs, dispatch.Limits{
			Image:    cfg.Limits.ImageMb << 20,
			Document: cfg.Limits.DocumentMb << 20,
			Media:    cfg.Limits.MediaMb << 20,
		}, di.TaskStore(ctx).CancelRequested)
	}
	return di.runner
}

func (di *dependencyInjector) Consumer(ctx context.Context) Consumer {
	if di.consumer == nil {
		cfg := di.Config()
		di.consumer = dispatch.NewConsumer(
			cfg.TaskCleanupInterval,
			cfg.TaskTTL,
			di.JetStream(ctx),
			cfg.NATS.Subject,
			cfg.PoolSize,
			di.TaskStore(ctx),
			di.FileStore(ctx),
			di.Runner(ctx),
			cfg.ProcessTimeout,
		)
	}
	return di.consumer
}
