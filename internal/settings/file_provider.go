package settings

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "PurchaseRelay/internal/errors"
)

type fileFormat struct {
	ExchangeRate string `yaml:"exchange_rate"`
	Quota        struct {
		Enabled   bool `yaml:"enabled"`
		MaxPerDay int  `yaml:"max_per_day"`
		MaxActive int  `yaml:"max_active"`
	} `yaml:"quota"`
}

// FileProvider 从 YAML 文件读取配置，文件修改时间变化时重新加载。
type FileProvider struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  ExchangeSettings
}

// NewFileProvider 创建 FileProvider 并立即加载一次。
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if _, err := p.Current(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Current 实现 Provider。
func (p *FileProvider) Current(context.Context) (ExchangeSettings, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return ExchangeSettings{}, xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取配置文件信息失败")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.modTime.IsZero() && info.ModTime().Equal(p.modTime) {
		return p.cached, nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return ExchangeSettings{}, xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取配置文件失败")
	}
	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ExchangeSettings{}, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析配置文件失败")
	}
	s, err := fromFields(map[string]string{
		fieldExchangeRate: raw.ExchangeRate,
		fieldQuotaEnabled: strconv.FormatBool(raw.Quota.Enabled),
		fieldMaxPerDay:    strconv.Itoa(raw.Quota.MaxPerDay),
		fieldMaxActive:    strconv.Itoa(raw.Quota.MaxActive),
	})
	if err != nil {
		return ExchangeSettings{}, err
	}
	p.cached = s
	p.modTime = info.ModTime()
	return s, nil
}
