package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hunk0724/video2skeleton/internal/infra/config"
	"github.com/Hunk0724/video2skeleton/internal/infra/email"
	"github.com/Hunk0724/video2skeleton/internal/infra/ffmpeg"
	"github.com/Hunk0724/video2skeleton/internal/infra/framestore"
	"github.com/Hunk0724/video2skeleton/internal/infra/landmarker"
	"github.com/Hunk0724/video2skeleton/internal/infra/metrics"
	miniostorage "github.com/Hunk0724/video2skeleton/internal/infra/minio"
	"github.com/Hunk0724/video2skeleton/internal/infra/postgres"
	"github.com/Hunk0724/video2skeleton/internal/infra/rabbitmq"
	"github.com/Hunk0724/video2skeleton/internal/infra/tracing"
	"github.com/Hunk0724/video2skeleton/internal/pipeline"
	"github.com/Hunk0724/video2skeleton/internal/render"
	"github.com/Hunk0724/video2skeleton/internal/usecase"
	"github.com/Hunk0724/video2skeleton/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const serviceName = "video2skeleton-worker"

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting " + serviceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, tracing.Config{
		Endpoint:    cfg.JaegerEndpoint,
		ServiceName: serviceName,
		SampleRatio: cfg.TracingSampleRatio,
		Attributes: []attribute.KeyValue{
			attribute.Int("worker.count", cfg.WorkerCount),
			attribute.Int("pipeline.fps", cfg.FPS),
			attribute.Bool("pipeline.match_source_fps", cfg.MatchSourceFPS),
		},
	})
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		UploadBucket:  cfg.MinIOUploadBucket,
		OutputBucket:  cfg.MinIOOutputBucket,
		OutputTTLDays: cfg.MinIOOutputTTLDays,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	progressPub := rabbitmq.NewProgressPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Skeleton pipeline
	styles, err := cfg.Styles()
	fatalOnErr(err, "parse drawing styles")

	detectors, err := landmarker.NewClient(landmarker.ClientConfig{
		BaseURL: cfg.DetectorURL,
		Timeout: cfg.DetectorTimeout,
	}, log)
	fatalOnErr(err, "create landmark detector client")

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	driver := pipeline.NewDriver(
		ffmpeg.NewDecoder(cfg.FFmpegPath, prober, log),
		detectors,
		render.NewCompositor(styles),
		framestore.NewFactory(),
		ffmpeg.NewAssembler(ffmpeg.AssemblerConfig{
			FFmpegPath:  cfg.FFmpegPath,
			VideoCodec:  cfg.VideoCodec,
			AudioCodec:  cfg.AudioCodec,
			PixelFormat: cfg.PixelFormat,
		}, log),
		log,
		cfg.Pipeline(),
	)

	// Use case
	repo := postgres.NewJobRepository(pool)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	uc := usecase.NewProcessVideoUseCase(
		repo, storage, driver,
		statusPub, progressPub, dlqPub, notifier,
		log,
		usecase.ProcessVideoConfig{
			MaxRetries:    cfg.MaxRetries,
			PresignExpiry: cfg.MinIOPresignExpiry,
		},
	)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Queue:         cfg.RabbitMQProcessingQueue,
		Exchange:      cfg.RabbitMQExchange,
		DLQ:           cfg.RabbitMQDLQ,
		StatusQueue:   cfg.RabbitMQStatusQueue,
		ProgressQueue: cfg.RabbitMQProgressQueue,
		Prefetch:      cfg.RabbitMQPrefetch,
		WorkerCount:   cfg.WorkerCount,
		BaseDelayMs:   cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log, map[string]metrics.HealthCheck{
		"postgres": pool.Ping,
		"minio":    storage.Healthy,
		"rabbitmq": consumer.Healthy,
	})

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info(serviceName+" started, consuming messages",
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("fps", cfg.FPS),
		zap.Bool("match_source_fps", cfg.MatchSourceFPS),
	)

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	pub.Close()
	log.Info(serviceName + " stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
