package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/petal/config"
	"github.com/Ramsey-B/petal/pkg/auth"
	"github.com/Ramsey-B/petal/pkg/destination"
	"github.com/Ramsey-B/petal/pkg/destinations"
	"github.com/Ramsey-B/petal/pkg/kafka"
	"github.com/Ramsey-B/petal/pkg/mapping"
	"github.com/Ramsey-B/petal/pkg/middleware"
	"github.com/Ramsey-B/petal/pkg/processor"
	"github.com/Ramsey-B/petal/pkg/redis"
	"github.com/Ramsey-B/petal/pkg/request"
	"github.com/Ramsey-B/petal/pkg/routes"
	"github.com/Ramsey-B/petal/pkg/routes/health"
	"github.com/Ramsey-B/petal/pkg/schema"
	"github.com/Ramsey-B/petal/pkg/startup"
	"github.com/Ramsey-B/petal/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("petal exited with an error")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger.With(zap.String("service", cfg.AppName)), nil), nil
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	if cfg.TracingEnabled {
		shutdown, err := tracing.Setup(ctx, tracing.Config{
			ServiceName: cfg.AppName,
			Protocol:    cfg.TracingExporter,
			Endpoint:    cfg.TracingEndpoint,
			Insecure:    cfg.TracingInsecure,
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.WithError(err).Warn("failed to flush traces")
			}
		}()
		logger.Infof("Tracing enabled (%s exporter to %s)", cfg.TracingExporter, cfg.TracingEndpoint)
	}

	clientConfig := request.DefaultConfig()
	clientConfig.Timeout = time.Duration(cfg.HttpClientTimeoutSeconds) * time.Second
	client := request.NewClient(clientConfig, logger)

	validatorOpts := []schema.Option{schema.WithLogger(logger)}
	if !cfg.SchemaCacheEnabled {
		validatorOpts = append(validatorOpts, schema.WithCache(nil))
	}
	resolver := mapping.NewResolver()

	registry, err := destinations.Build(
		destination.WithLogger(logger),
		destination.WithRequestClient(client),
		destination.WithResolver(resolver),
		destination.WithValidator(schema.NewValidator(validatorOpts...)),
		destination.WithTokenRefresher(auth.NewRefresher(auth.RefresherConfig{TokenURL: cfg.OAuthTokenURL}, client, logger)),
	)
	if err != nil {
		return err
	}
	logger.WithField("destinations", registry.Slugs()).Info("Destinations registered")

	producerConfig := kafka.DefaultProducerConfig()
	producerConfig.Brokers = cfg.Brokers()
	producerConfig.Compression = cfg.KafkaCompression
	producer, err := kafka.NewProducer(producerConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	defer producer.Close()

	boot := startup.New(logger, cfg.StartupMaxAttempts)

	var processorOpts []processor.Option
	healthDeps := map[string]health.Pinger{}
	var consumerRequires []string
	if cfg.RedisEnabled {
		redisClient := redis.New(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		boot.Add(startup.Func{
			DependencyName: "redis",
			OnStart:        redisClient.Connect,
			OnStop:         func(context.Context) error { return redisClient.Close() },
		})

		processorOpts = append(processorOpts,
			processor.WithTokenStore(auth.NewRedisTokenStore(redisClient, "", logger)),
			processor.WithRefreshSynchronizer(auth.NewRedisSynchronizer(redis.NewLocker(redisClient, ""), cfg.OAuthLockTTL(), logger)),
		)
		healthDeps["redis"] = redisClient
		consumerRequires = append(consumerRequires, "redis")
	}

	proc := processor.New(processor.Config{
		OutputTopic:    cfg.KafkaOutputTopic,
		ErrorTopic:     cfg.KafkaErrorTopic,
		ProcessTimeout: cfg.ProcessorTimeout(),
	}, registry, producer, logger, processorOpts...)

	httpRequires := consumerRequires
	if cfg.KafkaConsumerEnabled {
		consumerConfig := kafka.DefaultConsumerConfig()
		consumerConfig.Brokers = cfg.Brokers()
		consumerConfig.Topic = cfg.KafkaInputTopic
		consumerConfig.GroupID = cfg.KafkaConsumerGroup
		consumerConfig.Workers = cfg.ProcessorWorkerCount

		consumer, err := kafka.NewConsumer(consumerConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		boot.Add(startup.Func{
			DependencyName: "consumer",
			Requires:       consumerRequires,
			// the consumer outlives the start call, so it gets the run context
			OnStart: func(context.Context) error { return consumer.Start(ctx, proc.MessageHandler()) },
			OnStop: func(context.Context) error {
				err := consumer.Stop()
				stats := proc.Stats()
				logger.WithFields(map[string]any{
					"processed": stats.MessagesProcessed,
					"failed":    stats.MessagesFailed,
				}).Info("Processor stopped")
				return err
			},
		})
		httpRequires = []string{"consumer"}
	}

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		oidcVerifier, err := middleware.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
		if err != nil {
			return fmt.Errorf("failed to create OIDC verifier: %w", err)
		}
		verifier = oidcVerifier
	}

	checker := health.NewChecker(cfg.Version, healthDeps)
	e, err := routes.NewServer(routes.Dependencies{
		ServiceName:  cfg.AppName,
		Logger:       logger,
		Destinations: registry,
		Deliverer:    proc,
		Resolver:     resolver,
		Health:       checker,
		Verifier:     verifier,
	})
	if err != nil {
		return err
	}
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	serverErr := make(chan error, 1)
	boot.Add(startup.Func{
		DependencyName: "http",
		Requires:       httpRequires,
		OnStart: func(context.Context) error {
			go func() {
				logger.Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			return nil
		},
		OnStop: e.Shutdown,
	})

	if err := boot.Start(ctx); err != nil {
		return errors.Join(err, boot.Stop(context.Background()))
	}
	checker.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	logger.Info("Shutting down")
	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	return errors.Join(runErr, boot.Stop(shutdownCtx))
}
