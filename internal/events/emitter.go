package events

import (
	"context"
	"log/slog"

	"PurchaseRelay/internal/observability/alerting"
	"PurchaseRelay/internal/observability/metrics"
	"PurchaseRelay/pkg/logger"
)

// Emitter 在状态写入成功后发布事件。发布失败只记录日志、计数并告警，不向调用方返回。
type Emitter struct {
	publisher Publisher
	alerts    alerting.Dispatcher
	logger    *slog.Logger
}

// NewEmitter 创建 Emitter。publisher 为 nil 时丢弃事件。
func NewEmitter(publisher Publisher, alerts alerting.Dispatcher) *Emitter {
	if publisher == nil {
		publisher = Discard{}
	}
	return &Emitter{publisher: publisher, alerts: alerts, logger: logger.Named("events")}
}

// Emit 发布事件。
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil {
		return
	}
	err := e.publisher.Publish(ctx, event)
	if err == nil {
		return
	}
	metrics.ObservePublishFailure(string(event.Type))
	e.logger.Error("事件发布失败",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("order_id", event.OrderID),
		slog.Any("error", err),
	)
	if e.alerts == nil {
		return
	}
	alert := alerting.FromError(err, event.OrderID, string(event.Type))
	if notifyErr := e.alerts.Notify(ctx, alert); notifyErr != nil {
		e.logger.Warn("发送告警失败", slog.String("event_id", event.ID), slog.Any("error", notifyErr))
	}
}

// Close 关闭底层发布器。
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	return e.publisher.Close()
}
