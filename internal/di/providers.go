package di

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/handler/api"
	internalrepo "SignalGate/internal/repository"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/risk"
	"SignalGate/internal/services/timeframe"
	"SignalGate/internal/usecase"
	"SignalGate/pkg/config"
	xhttp "SignalGate/pkg/http"
	pkgkafka "SignalGate/pkg/kafka"
	"SignalGate/pkg/logger"
	"SignalGate/pkg/metrics"
	pkgredis "SignalGate/pkg/redis"
	"SignalGate/pkg/server"
)

func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return log.With(logger.String("service", "signalgate"), logger.String("brain_id", cfg.Brain.ID)), nil
}

// ProvideRegistry returns a private registry with the Go and process
// collectors; everything else registers on it.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer builds the shared producer and, when a collector topic
// is configured, attaches the log collector to it.
func ProvideKafkaProducer(cfg *config.Config, log *logger.Logger, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(p.Compression),
		pkgkafka.WithRequiredAcks(p.RequiredAcks),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerLogger(log),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Logging.CollectorTopic != "" {
		log.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.CollectInterval,
			CountThreshold: cfg.Logging.CollectCount,
			Topic:          cfg.Logging.CollectorTopic,
			Publisher:      producer,
			PublishTimeout: cfg.Publisher.Timeout,
		})
	}
	return producer, nil
}

// ProvideRedisClient returns nil when Redis is disabled.
func ProvideRedisClient(cfg *config.Config) (*goredis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := pkgredis.NewClient(context.Background(),
		pkgredis.WithHost(cfg.Redis.Host),
		pkgredis.WithPort(cfg.Redis.Port),
		pkgredis.WithPassword(cfg.Redis.Password),
		pkgredis.WithDB(cfg.Redis.DB),
		pkgredis.WithPool(cfg.Redis.PoolSize, 2, cfg.Publisher.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("redis client: %w", err)
	}
	return client, nil
}

// ProvideIntentPublisher picks the primary sink, mirrors to Redis when both
// are available, and guards the result with circuit breakers.
func ProvideIntentPublisher(
	cfg *config.Config,
	producer *pkgkafka.Producer,
	rdb *goredis.Client,
	log *logger.Logger,
	rec domrepo.Metrics,
) *internalrepo.GuardedPublisher {
	kafkaPub := internalrepo.NewKafkaIntentPublisher(producer, cfg.Kafka.Topics.Intents, cfg.Kafka.Topics.RiskEvents)

	var next domrepo.IntentPublisher = kafkaPub
	if rdb != nil {
		redisPub := internalrepo.NewRedisIntentPublisher(rdb, cfg.Redis.IntentStream, cfg.Redis.RiskStream, cfg.Redis.StreamMaxLen)
		if cfg.Publisher.Backend == "redis" {
			next = internalrepo.NewFanoutPublisher(log, redisPub, kafkaPub)
		} else {
			next = internalrepo.NewFanoutPublisher(log, kafkaPub, redisPub)
		}
	}
	return internalrepo.NewGuardedPublisher(next, cfg.Publisher.Breaker, log, rec)
}

func ProvideRiskManager(cfg *config.Config, pub *internalrepo.GuardedPublisher, log *logger.Logger, rec domrepo.Metrics) *risk.Manager {
	return risk.NewManager(cfg.Risk,
		risk.WithLogger(log),
		risk.WithMetrics(rec),
		risk.WithNotifier(pub),
	)
}

func ProvideTimeframeManager(cfg *config.Config, log *logger.Logger, rec domrepo.Metrics) *timeframe.Manager {
	return timeframe.NewManager(
		timeframe.WithLogger(log),
		timeframe.WithMetrics(rec),
		timeframe.WithHistoryCap(cfg.Brain.HistoryCap),
		timeframe.WithSweepInterval(cfg.Brain.SweepInterval),
		timeframe.WithDefaultMaxAge(cfg.Brain.DefaultMaxAge),
	)
}

// ProvideBrain builds the brain and registers every configured strategy.
func ProvideBrain(
	cfg *config.Config,
	tf *timeframe.Manager,
	rm *risk.Manager,
	pub *internalrepo.GuardedPublisher,
	log *logger.Logger,
	rec domrepo.Metrics,
) (*usecase.Brain, error) {
	brain := usecase.NewBrain(cfg.Brain.ID, tf, rm, pub, cfg.Publisher.Timeout,
		usecase.WithBrainLogger(log),
		usecase.WithBrainMetrics(rec),
	)

	for _, s := range cfg.Strategies.Single {
		brain.RegisterStrategy(s.Name, models.Timeframe(s.Timeframe), s.Symbol, s.Parameters)
	}
	for _, s := range cfg.Strategies.MultiTimeframe {
		err := brain.RegisterMultiTimeframeStrategy(usecase.MultiTimeframeRegistration{
			StrategyName:           s.Name,
			Symbol:                 s.Symbol,
			PrimaryTimeframe:       models.Timeframe(s.Primary),
			ConfirmationTimeframes: toTimeframes(s.Confirmations),
			FilterTimeframes:       toTimeframes(s.Filters),
			RequireConfirmation:    s.RequiresConfirmation(),
			RequireFilterAgreement: s.RequiresFilterAgreement(),
			Parameters:             s.Parameters,
		})
		if err != nil {
			return nil, err
		}
	}
	return brain, nil
}

func toTimeframes(in []string) []models.Timeframe {
	out := make([]models.Timeframe, 0, len(in))
	for _, s := range in {
		out = append(out, models.Timeframe(s))
	}
	return out
}

func ProvideSignalLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Brain.SignalsPerSecond, cfg.Brain.SignalBurst)
}

func ProvideSignalHandler(cfg *config.Config, brain *usecase.Brain, limiter *ratelimit.Limiter, log *logger.Logger, rec domrepo.Metrics) (*usecase.SignalHandler, error) {
	return usecase.NewSignalHandler(cfg.Kafka.Topics.Signals, brain, limiter, log, rec)
}

func ProvidePortfolioHandler(cfg *config.Config, brain *usecase.Brain, rm *risk.Manager, log *logger.Logger, rec domrepo.Metrics) (*usecase.PortfolioHandler, error) {
	return usecase.NewPortfolioHandler(cfg.Kafka.Topics.Portfolio, brain, rm, log, rec)
}

// ProvideKafkaConsumer builds the consumer with both handlers and the trace
// hook registered.
func ProvideKafkaConsumer(
	cfg *config.Config,
	log *logger.Logger,
	reg *prometheus.Registry,
	signals *usecase.SignalHandler,
	portfolio *usecase.PortfolioHandler,
) (*pkgkafka.Consumer, error) {
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerOffsetReset(c.OffsetReset),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	for _, h := range []pkgkafka.MessageHandler{signals, portfolio} {
		if err := consumer.RegisterHandler(h); err != nil {
			return nil, err
		}
	}
	consumer.SetHook(pkgkafka.NewHookChain(pkgkafka.NewTraceHook(log, c.SlowHandler)))
	return consumer, nil
}

func ProvideOpsHandler(
	cfg *config.Config,
	log *logger.Logger,
	brain *usecase.Brain,
	rm *risk.Manager,
	tf *timeframe.Manager,
	pub *internalrepo.GuardedPublisher,
	rdb *goredis.Client,
) (*api.OpsHandler, error) {
	checks := []api.ReadinessCheck{
		{Name: "kafka", Check: func(ctx context.Context) error { return pkgkafka.Ping(ctx, cfg.Kafka.Brokers) }},
		{Name: "publisher", Check: func(context.Context) error {
			if pub.State() == gobreaker.StateOpen {
				return internalrepo.ErrPublisherUnavailable
			}
			return nil
		}},
	}
	if rdb != nil {
		checks = append(checks, api.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return api.NewOpsHandler(log, brain, rm, tf, checks...)
}

func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, reg *prometheus.Registry, ops *api.OpsHandler) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{ops},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(path),
		xhttp.WithLogger(log),
		xhttp.WithRegistry(reg),
	)
}

// ProvideApp orders the lifecycle: the ops server comes up first and the
// consumer last, so shutdown stops intake before anything else.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	tf *timeframe.Manager,
	consumer *pkgkafka.Consumer,
	pub *internalrepo.GuardedPublisher,
) *server.App {
	closers := []server.Closer{
		{Name: "log_collector", Close: func() error { log.RemoveCollector(); return nil }},
		// closes the producer and, when mirrored, the Redis client
		server.FromCloser("publisher", pub),
	}

	return server.New(log,
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithComponents(
			server.Component{
				Name:  "http",
				Start: func(context.Context) error { return httpServer.Start() },
				Stop:  httpServer.Stop,
			},
			server.Component{Name: "expiry_sweep", Start: tf.Start, Stop: tf.Stop},
			server.Component{
				Name:  "kafka_consumer",
				Start: func(context.Context) error { return consumer.Start() },
				Stop:  consumer.Stop,
			},
		),
		server.WithFatal(httpServer.Errors()),
		server.WithClosers(closers...),
	)
}

