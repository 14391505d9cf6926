package order

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/messaging"
	ordersvc "github.com/Additional-Code/procura/internal/service/order"
	"github.com/Additional-Code/procura/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/procura/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderDeletedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewAuditHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderDeletedHandler purges attachments left behind by a deletion whose inline purge failed.
// Purging is idempotent, so redelivery is harmless.
func NewOrderDeletedHandler(logger *zap.Logger, orders *ordersvc.Service) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.deleted", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		event, err := decode(msg)
		if err != nil {
			logger.Error("dropping undecodable order deleted event", zap.Error(err), zap.Int64("offset", msg.Offset))
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(attribute.Int64("order.id", event.ID))

		if err := orders.PurgeOrphaned(ctx, event.ID); err != nil {
			logger.Error("attachment purge failed", zap.Int64("id", event.ID), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "purge failed")
			return err
		}
		logger.Info("order attachments purged", zap.Int64("id", event.ID))
		return nil
	}

	return worker.HandlerRegistration{
		EventType: ordersvc.EventDeleted,
		Handler:   handler,
	}
}

// NewAuditHandler logs every other order event.
func NewAuditHandler(logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.audit", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		event, err := decode(msg)
		if err != nil {
			// Redelivering a malformed payload cannot succeed.
			logger.Warn("dropping undecodable order event", zap.Error(err), zap.Int64("offset", msg.Offset))
			return nil
		}
		logger.Info("order event",
			zap.String("type", event.Type),
			zap.Int64("id", event.ID),
			zap.String("po_number", event.PONumber),
			zap.Int64("row_version", event.RowVersion),
			zap.Any("files", event.Files),
		)
		return nil
	}

	return worker.HandlerRegistration{
		EventType: worker.AnyEvent,
		Handler:   handler,
	}
}

func decode(msg messaging.Message) (ordersvc.Event, error) {
	var event ordersvc.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, err
	}
	if event.ID <= 0 {
		return event, errors.New("order event without id")
	}
	return event, nil
}
