package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "PurchaseRelay/internal/errors"
)

// RedisConfig 描述保存配置的 Redis hash。
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type hashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Close() error
}

// RedisProvider 从 Redis hash 读取配置，运营后台通过 Publish 写入。
type RedisProvider struct {
	client hashClient
	key    string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	cached   ExchangeSettings
	loadedAt time.Time
}

// NewRedisProvider 连接 Redis 并返回 Provider。
func NewRedisProvider(cfg RedisConfig) (*RedisProvider, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisProvider(client, cfg), nil
}

func newRedisProvider(client hashClient, cfg RedisConfig) *RedisProvider {
	key := cfg.Key
	if key == "" {
		key = "purchaserelay:settings"
	}
	return &RedisProvider{client: client, key: key, ttl: cfg.CacheTTL, now: time.Now}
}

// Current 实现 Provider。缓存有效期内不访问 Redis。
func (p *RedisProvider) Current(ctx context.Context) (ExchangeSettings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ttl > 0 && !p.loadedAt.IsZero() && p.now().Sub(p.loadedAt) < p.ttl {
		return p.cached, nil
	}
	fields, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return ExchangeSettings{}, xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取配置哈希失败")
	}
	if len(fields) == 0 {
		return ExchangeSettings{}, xerrors.New(xerrors.CodeConfigFailure, "配置哈希为空")
	}
	s, err := fromFields(fields)
	if err != nil {
		return ExchangeSettings{}, err
	}
	p.cached = s
	p.loadedAt = p.now()
	return s, nil
}

// Publish 写入新配置并使本地缓存失效。
func (p *RedisProvider) Publish(ctx context.Context, s ExchangeSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := p.client.HSet(ctx, p.key, toFields(s)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeConfigFailure, err, "写入配置哈希失败")
	}
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
