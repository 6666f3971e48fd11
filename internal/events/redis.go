package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "PurchaseRelay/internal/errors"
)

// RedisConfig 描述 Redis 事件列表的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
	// MaxLen 大于 0 时对列表做截断，仅保留最近的事件。
	MaxLen int64 `yaml:"max_len"`
}

type listClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// RedisPublisher 将事件以 JSON 形式 LPUSH 到 Redis list。
type RedisPublisher struct {
	client listClient
	list   string
	maxLen int64
}

// NewRedisPublisher 创建 RedisPublisher。
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
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
	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client listClient, cfg RedisConfig) *RedisPublisher {
	list := cfg.List
	if list == "" {
		list = "purchaserelay:events"
	}
	return &RedisPublisher{client: client, list: list, maxLen: cfg.MaxLen}
}

// Publish 实现 Publisher。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码事件失败")
	}
	if err := p.client.LPush(ctx, p.list, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布事件失败")
	}
	if p.maxLen > 0 {
		if err := p.client.LTrim(ctx, p.list, 0, p.maxLen-1).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 截断事件列表失败")
		}
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
