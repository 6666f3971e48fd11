package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"PurchaseRelay/internal/api"
	"PurchaseRelay/internal/auth"
	"PurchaseRelay/internal/config"
	"PurchaseRelay/internal/events"
	"PurchaseRelay/internal/observability/alerting"
	"PurchaseRelay/internal/order"
	"PurchaseRelay/internal/rewards"
	"PurchaseRelay/internal/settings"
	"PurchaseRelay/internal/settlement"
	"PurchaseRelay/internal/storage/mysql"
	"PurchaseRelay/internal/visibility"
	"PurchaseRelay/pkg/logger"
)

// main 是结算服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("relayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	configPath := os.Getenv("RELAY_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.L().Warn("释放资源失败", slog.Any("error", err))
			}
		}
	}()

	orders, ledgerStore, err := openStores(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	provider, err := openSettings(cfg, &closers)
	if err != nil {
		return err
	}
	window, err := cfg.Settings.QuotaWindow()
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: cfg.Alerting.Timeout},
		})
	}
	alerts := alerting.NewFanout(notifiers...)

	publisher, err := openPublishers(cfg.Events)
	if err != nil {
		return err
	}
	emitter := events.NewEmitter(publisher, alerts)
	closers = append(closers, emitter)

	ledger := rewards.NewLedger(ledgerStore, rewards.WithEmitter(emitter))

	points := cfg.Rewards.PointsPerOrder
	engine, err := settlement.NewEngine(orders, provider, ledger,
		settlement.WithEmitter(emitter),
		settlement.WithAlerts(alerts),
		settlement.WithQuotaWindow(window),
		settlement.WithPoints(func(*order.Order) int64 { return points }),
	)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier(auth.VerifierConfig{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	server, err := api.NewServer(cfg.Server, api.Deps{
		Engine:        engine,
		Views:         visibility.New(orders),
		Rewards:       ledger,
		Authenticator: verifier,
	})
	if err != nil {
		return err
	}

	logger.L().Info("relayd 启动",
		slog.String("addr", cfg.Server.Addr),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("settings", cfg.Settings.Source),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStores 按驱动创建订单与积分存储，两者共用一个 MySQL 连接池。
func openStores(ctx context.Context, cfg *config.Config, closers *[]io.Closer) (order.Store, rewards.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return order.NewMemoryStore(), rewards.NewMemoryStore(), nil
	case "mysql":
		db, err := mysql.Open(ctx, cfg.Storage.MySQL)
		if err != nil {
			return nil, nil, err
		}
		*closers = append(*closers, db)
		orders, err := order.NewMySQLStore(db)
		if err != nil {
			return nil, nil, err
		}
		ledger, err := rewards.NewMySQLStore(db)
		if err != nil {
			return nil, nil, err
		}
		return orders, ledger, nil
	}
	return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
}

func openSettings(cfg *config.Config, closers *[]io.Closer) (settings.Provider, error) {
	switch cfg.Settings.Source {
	case "static":
		s, err := cfg.Settings.Static()
		if err != nil {
			return nil, err
		}
		return settings.NewStatic(s)
	case "file":
		return settings.NewFileProvider(cfg.Settings.File)
	case "redis":
		p, err := settings.NewRedisProvider(cfg.Settings.Redis)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, p)
		return p, nil
	}
	return nil, fmt.Errorf("未知的配置来源: %s", cfg.Settings.Source)
}

func openPublishers(cfg config.EventsConfig) (events.Publisher, error) {
	var fanout events.Fanout
	if cfg.Memory {
		bus := events.NewMemoryBus()
		bus.Subscribe(func(_ context.Context, event events.Event) error {
			logger.Named("events").Debug("event",
				slog.String("type", string(event.Type)),
				slog.String("order_id", event.OrderID),
				slog.String("request_id", event.RequestID),
			)
			return nil
		})
		fanout = append(fanout, bus)
	}
	if cfg.Redis != nil {
		p, err := events.NewRedisPublisher(*cfg.Redis)
		if err != nil {
			fanout.Close()
			return nil, err
		}
		fanout = append(fanout, p)
	}
	if cfg.RabbitMQ != nil {
		p, err := events.NewRabbitMQPublisher(*cfg.RabbitMQ)
		if err != nil {
			fanout.Close()
			return nil, err
		}
		fanout = append(fanout, p)
	}
	return fanout, nil
}
