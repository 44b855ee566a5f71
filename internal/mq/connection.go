package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected — канал недоступен: соединение ещё не установлено или восстанавливается.
var ErrNotConnected = errors.New("rabbitmq: not connected")

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// ConnectionConfig — параметры соединения с брокером.
type ConnectionConfig struct {
	URL string

	// OnConnect выполняется на новом канале после каждого подключения,
	// включая переподключения. Обычно — DeclareTopology.
	// Ошибка OnConnect считается ошибкой подключения.
	OnConnect func(ch *amqp.Channel) error

	// MaxBackoff — верхняя граница задержки между попытками переподключения.
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// Connection — соединение с RabbitMQ, которое восстанавливается после разрыва.
//
// После переподключения заново выполняется OnConnect, поэтому exchange и
// очереди существуют до того, как consumer и publisher снова получат канал.
type Connection struct {
	cfg    ConnectionConfig
	broker string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	// reconnected закрывается и заменяется новым после каждого успешного переподключения.
	reconnected chan struct{}
	done        chan struct{}
}

// Dial подключается к брокеру и запускает наблюдение за соединением.
func Dial(cfg ConnectionConfig) (*Connection, error) {
	c := newConnection(cfg)
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func newConnection(cfg ConnectionConfig) *Connection {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broker := redactURL(cfg.URL)
	return &Connection{
		cfg:         cfg,
		broker:      broker,
		logger:      logger.With("component", "rabbitmq", "broker", broker),
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// connect открывает соединение, канал и выполняет OnConnect.
func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.broker, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if c.cfg.OnConnect != nil {
		if err := c.cfg.OnConnect(ch); err != nil {
			conn.Close()
			return fmt.Errorf("setup channel: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.channel = ch
	c.logger.Info("connected")
	return nil
}

// watch ждёт разрыва соединения и переподключается.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case err := <-notify:
			if err != nil {
				c.logger.Warn("connection lost", "error", err)
			}
		}

		c.mu.Lock()
		c.conn, c.channel = nil, nil
		c.mu.Unlock()

		if !c.reconnect() {
			return
		}
	}
}

// reconnect повторяет connect с растущей задержкой. false — соединение закрыто.
func (c *Connection) reconnect() bool {
	delay := defaultInitialBackoff
	for {
		c.logger.Info("reconnecting", "delay", delay)
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return false
			}
			c.logger.Warn("reconnect failed", "error", err)
			delay = nextBackoff(delay, c.cfg.MaxBackoff)
			continue
		}

		c.mu.Lock()
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()
		c.logger.Info("reconnected")
		return true
	}
}

// nextBackoff удваивает задержку, не превышая limit.
func nextBackoff(current, limit time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	return min(current*2, limit)
}

// redactURL скрывает пароль в URL брокера для логов и ошибок.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://invalid"
	}
	return u.Redacted()
}

// Channel возвращает текущий канал. nil, пока соединение восстанавливается.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Reconnected возвращает канал, который закроется при следующем переподключении.
// Брать его нужно до попытки использовать Channel, иначе событие можно пропустить.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.Channel()
	if ch == nil {
		return ErrNotConnected
	}
	return fn(ch)
}

// IsConnected возвращает true, если соединение открыто.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close закрывает соединение и останавливает переподключение.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	c.conn, c.channel = nil, nil

	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.Info("connection closed")
	return nil
}
