package kafka

import (
	"time"

	applogger "CryptoAlert/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// ProducerOption configures Producer.
type ProducerOption func(*producerConfig)

type producerConfig struct {
	brokers      []string
	requiredAcks int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	readTimeout  time.Duration
	batchSize    int
	batchBytes   int
	linger       time.Duration
	async        bool
	registry     prometheus.Registerer
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *producerConfig) { c.brokers = brokers }
}

// WithCompression accepts gzip, snappy, lz4 or zstd.
func WithCompression(compression string) ProducerOption {
	return func(c *producerConfig) { c.compression = compression }
}

// WithRequiredAcks sets required acknowledgements (-1 = all in-sync replicas).
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *producerConfig) { c.requiredAcks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *producerConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBatching bounds a batch by message count, bytes and linger time.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *producerConfig) {
		if size > 0 {
			c.batchSize = size
		}
		if bytes > 0 {
			c.batchBytes = bytes
		}
		if linger > 0 {
			c.linger = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.writeTimeout = write
		c.readTimeout = read
	}
}

// WithAsync makes Publish fire-and-forget.
func WithAsync(async bool) ProducerOption {
	return func(c *producerConfig) { c.async = async }
}

// WithProducerRegistry registers publish metrics on reg.
func WithProducerRegistry(reg prometheus.Registerer) ProducerOption {
	return func(c *producerConfig) { c.registry = reg }
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	brokers    []string
	groupID    string
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration
	dlqTopic   string
	minBytes   int
	maxBytes   int
	logger     *applogger.Logger
	registry   prometheus.Registerer
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *consumerConfig) { c.brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *consumerConfig) {
		if groupID != "" {
			c.groupID = groupID
		}
	}
}

// WithConsumerRetry sets how often a failing message is retried before it
// is dead-lettered, and the backoff range between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.retryMax = max
		c.backoffMin = backoffMin
		c.backoffMax = backoffMax
	}
}

// WithConsumerDLQ names the dead-letter topic. Without one, a message that
// keeps failing is left uncommitted and redelivered after a restart.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *consumerConfig) { c.dlqTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *consumerConfig) {
		c.minBytes = minBytes
		c.maxBytes = maxBytes
	}
}

func WithConsumerLogger(l *applogger.Logger) ConsumerOption {
	return func(c *consumerConfig) { c.logger = l }
}

// WithConsumerRegistry registers handling metrics on reg.
func WithConsumerRegistry(reg prometheus.Registerer) ConsumerOption {
	return func(c *consumerConfig) { c.registry = reg }
}
