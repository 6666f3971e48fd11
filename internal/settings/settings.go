// Package settings supplies the operator-maintained exchange rate and order
// quota. Providers read them from static config, a YAML file or a Redis hash.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "PurchaseRelay/internal/errors"
)

// Quota 限制请求方的下单频率。
type Quota struct {
	Enabled   bool `json:"enabled"`
	MaxPerDay int  `json:"max_per_day"`
	MaxActive int  `json:"max_active"`
}

// ExchangeSettings 是定价与下单所依赖的外部配置。
type ExchangeSettings struct {
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Quota        Quota           `json:"quota"`
}

// Validate 校验配置是否可用。
func (s ExchangeSettings) Validate() error {
	if !s.ExchangeRate.IsPositive() {
		return xerrors.New(xerrors.CodeConfigFailure, "汇率必须大于 0")
	}
	if s.Quota.MaxPerDay < 0 || s.Quota.MaxActive < 0 {
		return xerrors.New(xerrors.CodeConfigFailure, "配额上限不能为负数")
	}
	return nil
}

// Provider 返回当前生效的配置。
type Provider interface {
	Current(ctx context.Context) (ExchangeSettings, error)
}

// StaticProvider 持有一份内存配置，可在运行时替换。
type StaticProvider struct {
	mu       sync.RWMutex
	settings ExchangeSettings
}

// NewStatic 创建 StaticProvider。
func NewStatic(s ExchangeSettings) (*StaticProvider, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &StaticProvider{settings: s}, nil
}

// Current 实现 Provider。
func (p *StaticProvider) Current(context.Context) (ExchangeSettings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings, nil
}

// Set 替换配置。
func (p *StaticProvider) Set(s ExchangeSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	return nil
}

// WindowFunc 返回配额统计窗口的起点。
type WindowFunc func(now time.Time) time.Time

// Rolling24h 以最近 24 小时作为统计窗口。
func Rolling24h(now time.Time) time.Time { return now.Add(-24 * time.Hour) }

// CalendarDay 以所在时区的当日零点作为统计窗口起点。
func CalendarDay(loc *time.Location) WindowFunc {
	return func(now time.Time) time.Time {
		local := now.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}
}

// Hash field names shared by the Redis provider and the file format.
const (
	fieldExchangeRate = "exchange_rate"
	fieldQuotaEnabled = "quota_enabled"
	fieldMaxPerDay    = "quota_max_per_day"
	fieldMaxActive    = "quota_max_active"
)

func fromFields(fields map[string]string) (ExchangeSettings, error) {
	var s ExchangeSettings
	raw, ok := fields[fieldExchangeRate]
	if !ok {
		return s, xerrors.New(xerrors.CodeConfigFailure, "缺少 exchange_rate")
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return s, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析 exchange_rate 失败")
	}
	s.ExchangeRate = rate
	if v := fields[fieldQuotaEnabled]; v != "" {
		if s.Quota.Enabled, err = strconv.ParseBool(v); err != nil {
			return s, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析 quota_enabled 失败")
		}
	}
	if v := fields[fieldMaxPerDay]; v != "" {
		if s.Quota.MaxPerDay, err = strconv.Atoi(v); err != nil {
			return s, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析 quota_max_per_day 失败")
		}
	}
	if v := fields[fieldMaxActive]; v != "" {
		if s.Quota.MaxActive, err = strconv.Atoi(v); err != nil {
			return s, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析 quota_max_active 失败")
		}
	}
	return s, s.Validate()
}

func toFields(s ExchangeSettings) map[string]any {
	return map[string]any{
		fieldExchangeRate: s.ExchangeRate.String(),
		fieldQuotaEnabled: strconv.FormatBool(s.Quota.Enabled),
		fieldMaxPerDay:    strconv.Itoa(s.Quota.MaxPerDay),
		fieldMaxActive:    strconv.Itoa(s.Quota.MaxActive),
	}
}
