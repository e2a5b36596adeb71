package di

import (
	"context"
	"fmt"
	"time"

	"CryptoAlert/internal/domain/repository"
	"CryptoAlert/internal/handler/api"
	"CryptoAlert/internal/middleware"
	internalrepo "CryptoAlert/internal/repository"
	"CryptoAlert/internal/service/coingecko"
	"CryptoAlert/internal/service/finnhub"
	"CryptoAlert/internal/service/notify"
	"CryptoAlert/internal/service/pricebook"
	"CryptoAlert/internal/service/ratelimit"
	"CryptoAlert/internal/service/telegram"
	"CryptoAlert/internal/usecase"
	"CryptoAlert/pkg/cache"
	pkgch "CryptoAlert/pkg/clickhouse"
	"CryptoAlert/pkg/config"
	xhttp "CryptoAlert/pkg/http"
	pkgkafka "CryptoAlert/pkg/kafka"
	applogger "CryptoAlert/pkg/logger"
	"CryptoAlert/pkg/metrics"
	pkgpg "CryptoAlert/pkg/postgres"
	"CryptoAlert/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// ProvideKafkaProducer creates the producer shared by event fan-out and the
// log collector. It is nil when neither is enabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Events.Enabled && !cfg.Logging.Collector.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithProducerRegistry(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// collectorPublisher adapts the Kafka producer to the log collector.
type collectorPublisher struct {
	producer *pkgkafka.Producer
}

func (p collectorPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

// ProvideLogger builds the zerolog logger and attaches the error collector
// when enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      collectorPublisher{producer: producer},
		})
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

func ProvideRegistry() *prometheus.Registry {
	return metrics.NewRegistry()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideRedisCache connects to Redis when any component needs it.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.NeedsRedis() {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache picks the last-price cache. The tick lock lives in the same
// cache, so a distributed lock forces Redis.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil && (cfg.Cache.Type == "redis" || cfg.Engine.DistributedLock) {
		return rc
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MaxSize))
}

// ProvidePostgresClient opens Postgres for the durable store.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	if cfg.Store.Type != "postgres" {
		return nil, nil
	}
	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.Postgres.DSN),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		pkgpg.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.PostgresSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return client, nil
}

// ProvideAlertStore selects the store backend.
func ProvideAlertStore(cfg *config.Config, rc *cache.RedisCache, pg *pkgpg.Client) (repository.AlertStore, error) {
	switch cfg.Store.Type {
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("redis store: no redis client")
		}
		return internalrepo.NewRedisAlertStore(rc.Client(), internalrepo.WithRedisStorePrefix(cfg.Redis.Prefix)), nil
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres store: no postgres client")
		}
		return internalrepo.NewPostgresAlertStore(pg), nil
	default:
		return internalrepo.NewMemoryAlertStore(), nil
	}
}

// ProvideClickHouseClient creates a ClickHouse client when history is on.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	ch := cfg.History.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout, ch.WriteTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(ch.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvidePriceHistory returns nil when history is disabled.
func ProvidePriceHistory(cfg *config.Config, ch *pkgch.Client) repository.PriceHistory {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHousePriceHistory(ch.DB(), cfg.History.ClickHouse.Database)
}

// ProvideEventPublisher returns nil when event fan-out is disabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if !cfg.Events.Enabled || producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Events.Topic)
}

// PriceFeed is the engine's price source plus whatever background
// components keep it fresh.
type PriceFeed struct {
	Source     repository.PriceSource
	Components []server.Component
}

// ProvidePriceFeed builds the configured price source.
func ProvidePriceFeed(cfg *config.Config, l *applogger.Logger, m repository.Metrics, reg *prometheus.Registry) (*PriceFeed, error) {
	ps := cfg.PriceSource
	switch ps.Type {
	case "finnhub":
		book := pricebook.New(cfg.Engine.Currency, ps.MaxAge)
		sink := middleware.NewPricePipeline(book, m, middleware.WithMaxRPS(ps.Finnhub.MaxRPS))
		stream := finnhub.NewStream(ps.Finnhub.APIKey, ps.Finnhub.WebSocketURL, ps.Finnhub.Symbols, sink,
			finnhub.WithReconnectDelay(ps.Finnhub.ReconnectDelay),
			finnhub.WithLogger(l),
		)
		return &PriceFeed{Source: book, Components: []server.Component{stream}}, nil
	case "kafka":
		book := pricebook.New(cfg.Engine.Currency, ps.MaxAge)
		consumer, err := pkgkafka.NewConsumer(
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
			pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
			pkgkafka.WithConsumerLogger(l),
			pkgkafka.WithConsumerRegistry(reg),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		consumer.WithConsumerHook(ticksHook(m))
		consumer.RegisterHandler(usecase.NewTicksHandler(ps.Kafka.Topic, book, m))
		return &PriceFeed{Source: book, Components: []server.Component{consumer}}, nil
	default:
		return &PriceFeed{Source: coingecko.New(
			coingecko.WithBaseURL(ps.CoinGecko.BaseURL),
			coingecko.WithAPIKey(ps.CoinGecko.APIKey),
			coingecko.WithCoinIDs(ps.CoinGecko.CoinIDs),
			coingecko.WithTimeout(ps.CoinGecko.Timeout),
		)}, nil
	}
}

// ticksHook lifts trace ids into the handler context and counts ticks that
// exhausted their retries.
func ticksHook(m repository.Metrics) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: pkgkafka.TraceHook().BeforeHandle,
		Err: func(context.Context, string, kafka.Message, []byte, error) {
			m.RecordError("ticks_consume")
		},
	}
}

// ProvideDispatcher builds the notifier named by config and the dispatcher
// around it.
func ProvideDispatcher(cfg *config.Config, l *applogger.Logger, m repository.Metrics, pub repository.EventPublisher) *usecase.Dispatcher {
	nc := cfg.Notifier
	var n repository.Notifier
	switch nc.Type {
	case "telegram":
		n = telegram.New(nc.Telegram.BotToken, nc.Telegram.APIURL, nc.Telegram.Timeout)
	case "webhook":
		n = notify.NewWebhook(nc.Webhook.URL, nc.Webhook.Timeout)
	default:
		n = notify.NewLog(l)
	}
	opts := []usecase.DispatcherOption{
		usecase.WithSendTimeout(cfg.Engine.NotifyTimeout),
		usecase.WithQueueSize(cfg.Engine.QueueSize),
		usecase.WithDispatcherLogger(l),
		usecase.WithDispatcherMetrics(m),
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	return usecase.NewDispatcher(n, nc.Type, opts...)
}

// ProvideEngine creates the polling engine.
func ProvideEngine(
	cfg *config.Config,
	l *applogger.Logger,
	m repository.Metrics,
	store repository.AlertStore,
	feed *PriceFeed,
	dispatcher *usecase.Dispatcher,
	c cache.Service,
	history repository.PriceHistory,
) *usecase.Engine {
	ec := usecase.EngineConfig{
		Interval:     cfg.Engine.Interval,
		Currency:     cfg.Engine.Currency,
		FetchTimeout: cfg.Engine.FetchTimeout,
		StoreTimeout: cfg.Engine.StoreTimeout,
		StopTimeout:  cfg.Engine.StopTimeout,
		PriceTTL:     cfg.Cache.PriceTTL,
	}
	if cfg.Engine.DistributedLock {
		// a crashed holder frees the lock after one interval
		ec.LockTTL = cfg.Engine.Interval
	}
	opts := []usecase.EngineOption{
		usecase.WithPriceCache(c),
		usecase.WithEngineMetrics(m),
		usecase.WithEngineLogger(l),
	}
	if history != nil {
		opts = append(opts, usecase.WithHistory(history))
	}
	return usecase.NewEngine(ec, store, feed.Source, dispatcher, opts...)
}

// ProvideLimiter creates the per-user limiter of the command surface.
func ProvideLimiter(cfg *config.Config, rc *cache.RedisCache) ratelimit.Limiter {
	rl := cfg.RateLimit
	if rl.Backend == "redis" && rc != nil {
		return ratelimit.NewRedis(rc.Client(), cfg.Redis.Prefix, rl.Capacity, rl.RefillPerSec)
	}
	return ratelimit.NewMemory(rl.Capacity, rl.RefillPerSec)
}

// ProvideRouter assembles the /api handlers.
func ProvideRouter(
	cfg *config.Config,
	l *applogger.Logger,
	store repository.AlertStore,
	engine *usecase.Engine,
	c cache.Service,
	history repository.PriceHistory,
	limiter ratelimit.Limiter,
) *api.Router {
	return api.NewRouter(l,
		api.NewAlertsEchoHandler(l, usecase.NewAlertService(store, l)),
		api.NewEngineEchoHandler(l, engine),
		api.NewPricesEchoHandler(l, c, history, cfg.History.MaxRange),
		limiter,
	)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, router *api.Router, reg *prometheus.Registry) *xhttp.Server {
	return xhttp.NewServer(router,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(!cfg.Server.DisableCORS),
		xhttp.WithServerLogger(l),
		xhttp.WithRegistry(reg),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	)
}

// manualEngine registers the engine for shutdown without starting it.
type manualEngine struct {
	*usecase.Engine
}

func (manualEngine) Start(context.Context) error { return nil }

// Resources are the clients the App closes after every component stopped.
type Resources struct {
	Redis      *cache.RedisCache
	Postgres   *pkgpg.Client
	ClickHouse *pkgch.Client
	Producer   *pkgkafka.Producer
	Cache      cache.Service
	Store      repository.AlertStore
}

func ProvideResources(
	rc *cache.RedisCache,
	pg *pkgpg.Client,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	c cache.Service,
	store repository.AlertStore,
) *Resources {
	return &Resources{Redis: rc, Postgres: pg, ClickHouse: ch, Producer: producer, Cache: c, Store: store}
}

// ProvideApp creates the application: price feed first, engine last, so the
// engine stops before its source.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	feed *PriceFeed,
	engine *usecase.Engine,
	res *Resources,
) *server.App {
	components := append([]server.Component(nil), feed.Components...)
	if cfg.Engine.ManualStart {
		components = append(components, manualEngine{engine})
	} else {
		components = append(components, engine)
	}

	l.Info("configured",
		applogger.String("env", cfg.Environment),
		applogger.String("store", cfg.Store.Type),
		applogger.String("source", cfg.PriceSource.Type),
		applogger.String("notifier", cfg.Notifier.Type),
		applogger.Duration("interval", cfg.Engine.Interval),
	)
	app := server.New(l, httpServer, cfg.Server.ShutdownTimeout, components...)

	// closers run in reverse: store and caches before the clients under them
	if res.Redis != nil {
		app.AddCloser("redis", res.Redis.Close)
	}
	if res.Postgres != nil {
		app.AddCloser("postgres", res.Postgres.Close)
	}
	if res.ClickHouse != nil {
		app.AddCloser("clickhouse", res.ClickHouse.Close)
	}
	if res.Producer != nil {
		app.AddCloser("kafka-producer", func() error {
			l.RemoveCollector()
			return res.Producer.Close()
		})
	}
	if res.Cache != nil && res.Cache != cache.Service(res.Redis) {
		app.AddCloser("cache", res.Cache.Close)
	}
	app.AddCloser("store", res.Store.Close)
	return app
}
