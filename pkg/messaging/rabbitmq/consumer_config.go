package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type ExchangeKind string

const (
	ExchangeDirect  ExchangeKind = "direct"
	ExchangeTopic   ExchangeKind = "topic"
	ExchangeFanout  ExchangeKind = "fanout"
	ExchangeHeaders ExchangeKind = "headers"
)

func (k ExchangeKind) valid() bool {
	switch k {
	case ExchangeDirect, ExchangeTopic, ExchangeFanout, ExchangeHeaders:
		return true
	}
	return false
}

const (
	DefaultPrefetchCount  = 10
	DefaultHandlerTimeout = 60 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 5 * time.Second
)

// ConsumerConfig binds one queue to a handler. The registry stores a copy,
// so changing a config after Register has no effect.
type ConsumerConfig struct {
	Queue        string
	Exchange     string
	RoutingKey   string
	ExchangeKind ExchangeKind
	Handler      Handler

	// PrefetchCount caps unacknowledged deliveries on the consumer's own
	// channel and sizes its processing pool. 1 gives in-order processing.
	PrefetchCount int

	Durable    bool
	AutoDelete bool
	Exclusive  bool

	HandlerTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration

	// DeadLetterExchange is accepted for configuration compatibility but
	// not applied. Permanently failed messages are rejected without requeue.
	DeadLetterExchange string

	// RateLimit throttles dispatch to processors. The zero value means
	// unlimited.
	RateLimit rate.Limit
	RateBurst int
}

type ConsumerOption func(*ConsumerConfig)

func NewConsumerConfig(queue, exchange, routingKey string, handler Handler, opts ...ConsumerOption) ConsumerConfig {
	cfg := ConsumerConfig{
		Queue:          queue,
		Exchange:       exchange,
		RoutingKey:     routingKey,
		ExchangeKind:   ExchangeDirect,
		Handler:        handler,
		PrefetchCount:  DefaultPrefetchCount,
		Durable:        true,
		AutoDelete:     false,
		Exclusive:      true,
		HandlerTimeout: DefaultHandlerTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithExchangeKind(kind ExchangeKind) ConsumerOption {
	return func(c *ConsumerConfig) { c.ExchangeKind = kind }
}

func WithPrefetchCount(n int) ConsumerOption {
	return func(c *ConsumerConfig) { c.PrefetchCount = n }
}

func WithDurable(durable bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.Durable = durable }
}

func WithAutoDelete(autoDelete bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.AutoDelete = autoDelete }
}

func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *ConsumerConfig) { c.Exclusive = exclusive }
}

func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) { c.HandlerTimeout = timeout }
}

func WithMaxRetries(n int) ConsumerOption {
	return func(c *ConsumerConfig) { c.MaxRetries = n }
}

func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) { c.RetryDelay = delay }
}

func WithDeadLetterExchange(exchange string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DeadLetterExchange = exchange }
}

// WithRateLimit allows perSecond dispatches per second with the given burst.
func WithRateLimit(perSecond float64, burst int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RateLimit = rate.Limit(perSecond)
		c.RateBurst = burst
	}
}

func (c ConsumerConfig) Validate() error {
	var errs []error

	if c.Queue == "" {
		errs = append(errs, errors.New("queue name is required"))
	}
	if c.Exchange == "" {
		errs = append(errs, errors.New("exchange name is required"))
	}
	if !c.ExchangeKind.valid() {
		errs = append(errs, fmt.Errorf("unsupported exchange kind %q", c.ExchangeKind))
	}
	if c.Handler == nil {
		errs = append(errs, errors.New("handler is required"))
	}
	if c.PrefetchCount < 0 {
		errs = append(errs, errors.New("prefetch count cannot be negative"))
	}
	if c.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("handler timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, errors.New("retry delay cannot be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit cannot be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("rate burst must be at least 1 when a rate limit is set"))
	}

	return errors.Join(errs...)
}

// poolSize bounds concurrent processors per runner. A prefetch of 0 means no
// broker-side limit and still gets a pool of one.
func (c ConsumerConfig) poolSize() int {
	return max(c.PrefetchCount, 1)
}

func (c ConsumerConfig) limiter() *rate.Limiter {
	if c.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(c.RateLimit, c.RateBurst)
}
