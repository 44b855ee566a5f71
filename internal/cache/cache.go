// Package cache — кэш flows в Redis для реестра.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/ratingflow/internal/domain"
)

const (
	defaultTTL    = 5 * time.Minute
	defaultPrefix = "ratingflow:flow"
)

// Config — параметры FlowCache.
type Config struct {
	// Addr — адрес Redis (host:port).
	Addr     string
	Password string
	DB       int

	// TTL записи (default: 5m).
	TTL time.Duration

	// Prefix ключей (default: "ratingflow:flow").
	Prefix string
}

// FlowCache хранит flows в Redis как JSON под ключом <prefix>:<code>:<endpoint>.
type FlowCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// New создаёт FlowCache и проверяет соединение.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*FlowCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient создаёт FlowCache поверх существующего клиента.
func NewWithClient(client *redis.Client, cfg Config, logger *slog.Logger) *FlowCache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowCache{
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		logger: logger.With("component", "flow_cache"),
	}
}

func (c *FlowCache) key(productLineCode, endpointPath string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, productLineCode, endpointPath)
}

// Get возвращает flow из кэша. Промах — found=false без ошибки.
func (c *FlowCache) Get(ctx context.Context, productLineCode, endpointPath string) (*domain.Flow, bool, error) {
	data, err := c.client.Get(ctx, c.key(productLineCode, endpointPath)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get flow from redis: %w", err)
	}

	var flow domain.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		// Битая запись: считаем промахом и удаляем
		c.logger.Warn("dropping corrupt cache entry", "product_line_code", productLineCode, "error", err)
		_ = c.client.Del(ctx, c.key(productLineCode, endpointPath)).Err()
		return nil, false, nil
	}
	return &flow, true, nil
}

// Set кладёт flow в кэш с TTL.
func (c *FlowCache) Set(ctx context.Context, flow *domain.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	if err := c.client.Set(ctx, c.key(flow.ProductLineCode, flow.EndpointPath), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set flow in redis: %w", err)
	}
	return nil
}

// Delete удаляет flow из кэша.
func (c *FlowCache) Delete(ctx context.Context, productLineCode, endpointPath string) error {
	if err := c.client.Del(ctx, c.key(productLineCode, endpointPath)).Err(); err != nil {
		return fmt.Errorf("delete flow from redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (c *FlowCache) Close() error {
	return c.client.Close()
}
