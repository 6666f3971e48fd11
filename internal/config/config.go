package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"PurchaseRelay/internal/api"
	"PurchaseRelay/internal/events"
	"PurchaseRelay/internal/settings"
	"PurchaseRelay/internal/storage/mysql"
	"PurchaseRelay/pkg/logger"
)

// DefaultPath 是未设置 RELAY_CONFIG 时读取的配置文件。
const DefaultPath = "configs/relay.yaml"

// Config 描述了 relayd 在启动阶段需要加载的全部配置。
type Config struct {
	Server   api.Config     `yaml:"server"`
	Log      logger.Config  `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Settings SettingsConfig `yaml:"settings"`
	Events   EventsConfig   `yaml:"events"`
	Alerting AlertingConfig `yaml:"alerting"`
	Rewards  RewardsConfig  `yaml:"rewards"`
}

// AuthConfig 配置访问令牌校验。
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway"`
}

// StorageConfig 选择订单与积分的存储后端。
type StorageConfig struct {
	// Driver 取值 memory 或 mysql。
	Driver string       `yaml:"driver"`
	MySQL  mysql.Config `yaml:"mysql"`
}

// SettingsConfig 选择汇率与配额的来源。
type SettingsConfig struct {
	// Source 取值 static、file 或 redis。
	Source       string               `yaml:"source"`
	ExchangeRate string               `yaml:"exchange_rate"`
	Quota        QuotaConfig          `yaml:"quota"`
	File         string               `yaml:"file"`
	Redis        settings.RedisConfig `yaml:"redis"`
	// Window 取值 rolling（最近 24 小时）或 calendar（按 Timezone 的自然日）。
	Window   string `yaml:"window"`
	Timezone string `yaml:"timezone"`
}

// QuotaConfig 对应 settings.Quota。
type QuotaConfig struct {
	Enabled   bool `yaml:"enabled"`
	MaxPerDay int  `yaml:"max_per_day"`
	MaxActive int  `yaml:"max_active"`
}

// EventsConfig 配置事件下游，可同时启用多个。
type EventsConfig struct {
	Memory   bool                   `yaml:"memory"`
	Redis    *events.RedisConfig    `yaml:"redis"`
	RabbitMQ *events.RabbitMQConfig `yaml:"rabbitmq"`
}

// AlertingConfig 配置告警渠道，日志渠道始终启用。
type AlertingConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RewardsConfig 配置积分规则。
type RewardsConfig struct {
	PointsPerOrder int64 `yaml:"points_per_order"`
}

// Load 负责解析指定路径的 YAML 配置文件，并应用环境变量覆盖与默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用 RELAY_* 环境变量覆盖连接地址与密钥。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	str("RELAY_HTTP_ADDR", &c.Server.Addr)
	str("RELAY_LOG_LEVEL", &c.Log.Level)
	str("RELAY_JWT_SECRET", &c.Auth.Secret)
	str("RELAY_STORAGE_DRIVER", &c.Storage.Driver)
	str("RELAY_MYSQL_DSN", &c.Storage.MySQL.DSN)
	str("RELAY_SETTINGS_SOURCE", &c.Settings.Source)
	str("RELAY_EXCHANGE_RATE", &c.Settings.ExchangeRate)
	str("RELAY_SETTINGS_REDIS_ADDR", &c.Settings.Redis.Address)
	str("RELAY_SETTINGS_REDIS_PASSWORD", &c.Settings.Redis.Password)
	str("RELAY_ALERT_WEBHOOK_URL", &c.Alerting.WebhookURL)

	if v, ok := lookup("RELAY_EVENTS_REDIS_ADDR"); ok && v != "" {
		if c.Events.Redis == nil {
			c.Events.Redis = &events.RedisConfig{}
		}
		c.Events.Redis.Address = v
	}
	if v, ok := lookup("RELAY_RABBITMQ_URL"); ok && v != "" {
		if c.Events.RabbitMQ == nil {
			c.Events.RabbitMQ = &events.RabbitMQConfig{Durable: true}
		}
		c.Events.RabbitMQ.URL = v
	}
	if v, ok := lookup("RELAY_RATE_LIMIT"); ok && v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RELAY_RATE_LIMIT 无效: %w", err)
		}
		c.Server.RateLimit = limit
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimit > 0 && c.Server.Burst <= 0 {
		c.Server.Burst = int(c.Server.RateLimit) + 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Settings.Source == "" {
		c.Settings.Source = "static"
	}
	if c.Settings.Window == "" {
		c.Settings.Window = "rolling"
	}
	if c.Alerting.Timeout <= 0 {
		c.Alerting.Timeout = 5 * time.Second
	}
	if c.Rewards.PointsPerOrder <= 0 {
		c.Rewards.PointsPerOrder = 1
	}
	if !c.Events.Memory && c.Events.Redis == nil && c.Events.RabbitMQ == nil {
		c.Events.Memory = true
	}
}

// Validate 检查配置组合是否可用。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errors.New("auth.secret 不能为空")
	}
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Settings.Source {
	case "static":
		if _, err := c.Settings.Static(); err != nil {
			return err
		}
	case "file":
		if c.Settings.File == "" {
			return errors.New("settings.file 不能为空")
		}
	case "redis":
		if c.Settings.Redis.Address == "" {
			return errors.New("settings.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的配置来源: %s", c.Settings.Source)
	}
	if _, err := c.Settings.QuotaWindow(); err != nil {
		return err
	}
	return nil
}

// Static 把静态配置转换为 ExchangeSettings。
func (s SettingsConfig) Static() (settings.ExchangeSettings, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.ExchangeRate))
	if err != nil {
		return settings.ExchangeSettings{}, fmt.Errorf("settings.exchange_rate 无效: %w", err)
	}
	out := settings.ExchangeSettings{
		ExchangeRate: rate,
		Quota:        settings.Quota{Enabled: s.Quota.Enabled, MaxPerDay: s.Quota.MaxPerDay, MaxActive: s.Quota.MaxActive},
	}
	if err := out.Validate(); err != nil {
		return settings.ExchangeSettings{}, err
	}
	return out, nil
}

// QuotaWindow 返回配额统计窗口。
func (s SettingsConfig) QuotaWindow() (settings.WindowFunc, error) {
	switch s.Window {
	case "", "rolling":
		return settings.Rolling24h, nil
	case "calendar":
		loc := time.UTC
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, fmt.Errorf("settings.timezone 无效: %w", err)
			}
			loc = l
		}
		return settings.CalendarDay(loc), nil
	}
	return nil, fmt.Errorf("未知的配额窗口: %s", s.Window)
}
