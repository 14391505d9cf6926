package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/entity"
	"github.com/Additional-Code/procura/internal/messaging"
)

// Event types published on the order topic.
const (
	EventCreated      = "order.created"
	EventUpdated      = "order.updated"
	EventDeleted      = "order.deleted"
	EventFilesChanged = "order.files_changed"
)

// Event describes a committed order mutation.
type Event struct {
	Type       string            `json:"type"`
	ID         int64             `json:"id"`
	PONumber   string            `json:"po_number,omitempty"`
	RowVersion int64             `json:"row_version,omitempty"`
	Files      map[string]string `json:"files,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventKey is the partition key of every event about order id.
func EventKey(id int64) []byte {
	return []byte(fmt.Sprintf("order-%d", id))
}

func newEvent(eventType string, order *entity.Order) Event {
	return Event{
		Type:       eventType,
		ID:         order.ID,
		PONumber:   order.PONumber,
		RowVersion: order.RowVersion,
		OccurredAt: time.Now().UTC(),
	}
}

// publish never fails the caller: the mutation already committed.
func (s *Service) publish(ctx context.Context, event Event) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	headers := map[string]string{messaging.HeaderEventType: event.Type}
	if err := s.publisher.Publish(ctx, EventKey(event.ID), payload, headers); err != nil {
		s.logger.Error("publish order event",
			zap.String("type", event.Type),
			zap.Int64("id", event.ID),
			zap.Error(err),
		)
	}
}
