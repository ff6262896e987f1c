// Package rabbitmq provides the RabbitMQ bus integration.
//
// It carries both sides of the task protocol: the control plane's RPC
// producer and the worker's consumer runtime. One connection per process;
// channels are handed out per concurrent user and never shared.
package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// Conn owns the single broker connection for a process and replaces it when
// the broker drops it. Consumers of Channel block while a reconnect is in
// progress and fail with BusUnavailable once the retry budget is spent.
type Conn struct {
	cfg config.Config
	url string

	mu    sync.RWMutex
	conn  *amqp.Connection
	ready chan struct{}
	dead  bool

	blocked atomic.Bool
	closed  atomic.Bool
}

// Dial connects to the broker, retrying with exponential backoff
// (retry_base_delay doubling per attempt) up to RPC_MAX_RETRIES.
func Dial(ctx context.Context, cfg config.Config) (*Conn, error) {
	c := &Conn{
		cfg:   cfg,
		url:   cfg.BrokerURL(),
		ready: make(chan struct{}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		slog.Info("connecting to broker",
			slog.String("host", c.cfg.BrokerHost),
			slog.Int("port", c.cfg.BrokerPort),
			slog.Int("attempt", attempt))
		conn, err := amqp.DialConfig(c.url, amqp.Config{
			Heartbeat: c.cfg.BrokerHeartbeat(),
			Properties: amqp.Table{
				"connection_name": c.cfg.OTELServiceName,
			},
		})
		if err != nil {
			slog.Warn("broker connection attempt failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return err
		}
		c.install(conn)
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.RPCRetryBaseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.cfg.RPCMaxRetries)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return domain.E(domain.ErrBusUnavailable, "connect to broker after %d attempts: %v", attempt, err)
	}
	slog.Info("broker connected", slog.String("host", c.cfg.BrokerHost))
	return nil
}

func (c *Conn) install(conn *amqp.Connection) {
	c.mu.Lock()
	c.conn = conn
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	c.mu.Unlock()
	go c.monitor(conn)
}

// monitor watches one connection generation. On loss it parks waiters,
// reconnects with the same backoff budget, and exits in favor of the new
// generation's monitor.
func (c *Conn) monitor(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	blockCh := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	var blockedTimer *time.Timer

	for {
		select {
		case b := <-blockCh:
			c.blocked.Store(b.Active)
			if b.Active {
				slog.Warn("broker blocked connection", slog.String("reason", b.Reason))
				// A connection blocked beyond the configured window is as
				// good as gone; force the reconnect path.
				timeout := time.Duration(c.cfg.BrokerBlockedTimeoutSeconds) * time.Second
				if timeout > 0 {
					blockedTimer = time.AfterFunc(timeout, func() {
						slog.Error("broker still blocked after timeout, dropping connection",
							slog.Duration("timeout", timeout))
						_ = conn.Close()
					})
				}
			} else {
				slog.Info("broker unblocked connection")
				if blockedTimer != nil {
					blockedTimer.Stop()
					blockedTimer = nil
				}
			}
		case amqpErr := <-closeCh:
			if blockedTimer != nil {
				blockedTimer.Stop()
			}
			c.blocked.Store(false)
			if c.closed.Load() {
				return
			}
			slog.Warn("broker connection lost", slog.Any("error", amqpErr))
			c.mu.Lock()
			c.conn = nil
			c.ready = make(chan struct{})
			c.mu.Unlock()

			if err := c.connect(context.Background()); err != nil {
				slog.Error("broker reconnect exhausted", slog.Any("error", err))
				c.mu.Lock()
				c.dead = true
				close(c.ready)
				c.mu.Unlock()
				return
			}
			observability.ObserveReconnect()
			return
		}
	}
}

// Channel returns a fresh logical channel, blocking while the connection is
// being re-established. Channels are not safe for concurrent consumers; take
// one per loop.
func (c *Conn) Channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		c.mu.RLock()
		conn, ready, dead := c.conn, c.ready, c.dead
		c.mu.RUnlock()

		if dead || c.closed.Load() {
			return nil, domain.E(domain.ErrBusUnavailable, "broker connection is gone")
		}
		if conn != nil && !conn.IsClosed() {
			ch, err := conn.Channel()
			if err == nil {
				return ch, nil
			}
			slog.Warn("channel open failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil, domain.E(domain.ErrBusUnavailable, "waiting for broker: %v", ctx.Err())
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil, domain.E(domain.ErrBusUnavailable, "waiting for broker: %v", ctx.Err())
		case <-ready:
		}
	}
}

// IsAlive is a cheap liveness probe used by readiness checks.
func (c *Conn) IsAlive() bool {
	if c.closed.Load() || c.blocked.Load() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.dead && c.conn != nil && !c.conn.IsClosed()
}

// Close shuts the connection down for good; no reconnect follows.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}
