package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/cache"
	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/entity"
	"github.com/Additional-Code/procura/internal/messaging"
	repo "github.com/Additional-Code/procura/internal/repository/order"
	"github.com/Additional-Code/procura/internal/storage/filestore"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

const (
	instrumentationName = "github.com/Additional-Code/procura/service/order"
	readRetryDelay      = 50 * time.Millisecond
	conflictRetryDelay  = 5 * time.Millisecond
)

var serviceTracer = otel.Tracer(instrumentationName)

// Purger removes every attachment stored for an order.
type Purger interface {
	PurgeAll(orderID int64) error
}

// Service encapsulates business logic around orders.
type Service struct {
	repo            *repo.Repository
	cache           cache.Store
	cacheTTL        time.Duration
	logger          *zap.Logger
	publisher       messaging.Client
	messaging       messagingConfig
	purger          Purger
	purgeRetries    int
	purgeBackoff    time.Duration
	conflictRetries int
	purgeFailures   metric.Int64Counter
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository    *repo.Repository
	Cache         cache.Store
	Config        config.Config
	Logger        *zap.Logger
	Publisher     messaging.Client
	Files         *filestore.Store
	Purger        Purger               `optional:"true"`
	MeterProvider metric.MeterProvider `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) (*Service, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	purger := p.Purger
	if purger == nil && p.Files != nil {
		purger = p.Files
	}
	if purger == nil {
		return nil, errors.New("order service requires an attachment purger")
	}
	provider := p.MeterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	purgeFailures, err := provider.Meter(instrumentationName).Int64Counter(
		"procura.attachments.purge_failures",
		metric.WithDescription("Order deletions whose attachment purge failed after all retries."),
	)
	if err != nil {
		return nil, fmt.Errorf("create purge failure counter: %w", err)
	}

	backoff := p.Config.Storage.PurgeBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	conflictRetries := p.Config.Storage.UploadConflictRetries
	if conflictRetries <= 0 {
		conflictRetries = 5
	}

	return &Service{
		repo:      p.Repository,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
		},
		purger:          purger,
		purgeRetries:    max(p.Config.Storage.PurgeRetries, 0),
		purgeBackoff:    backoff,
		conflictRetries: conflictRetries,
		purgeFailures:   purgeFailures,
	}, nil
}

// List returns orders newest first, optionally filtered by a free-text query.
func (s *Service) List(ctx context.Context, filter repo.ListFilter) ([]*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.List")
	defer span.End()

	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, errorbank.BadRequest("limit and offset must not be negative")
	}

	var orders []*entity.Order
	err := s.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		orders, err = s.repo.List(ctx, filter)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, nil
}

// Get retrieves an order by id, consulting cache when available.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	var order *entity.Order
	err := s.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.mapRepoError(span, err, "failed to load order")
	}

	s.fillCache(ctx, order)
	return order, nil
}

// Create persists a new order at row version 1.
func (s *Service) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errorbank.BadRequest("order payload is required")
	}
	order.PONumber = strings.TrimSpace(order.PONumber)
	if order.PONumber == "" {
		return errorbank.BadRequest("po_number is required", errorbank.WithDetail("field", "po_number"))
	}
	for _, slot := range entity.Slots() {
		order.SetAttachment(slot, "")
	}
	order.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.String("order.po_number", order.PONumber)))
	defer span.End()

	if err := s.repo.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}

	s.publish(ctx, newEvent(EventCreated, order))
	return nil
}

// Update replaces the editable fields of order id when expected matches the stored row version.
// A mismatch yields a version_conflict error carrying the stored version and writes nothing.
func (s *Service) Update(ctx context.Context, id int64, input *entity.Order, expected int64) (*entity.Order, error) {
	if input == nil {
		return nil, errorbank.BadRequest("order payload is required")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.Update", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("order.expected_version", expected),
	))
	defer span.End()

	next := &entity.Order{ID: id}
	next.CopyEditable(input)
	next.PONumber = strings.TrimSpace(next.PONumber)
	if next.PONumber == "" {
		return nil, errorbank.BadRequest("po_number is required", errorbank.WithDetail("field", "po_number"))
	}

	err := s.repo.Update(ctx, next, expected, entity.EditableColumns)
	s.dropCache(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(span, err, "failed to update order")
	}

	s.publish(ctx, newEvent(EventUpdated, next))
	return next, nil
}

// Delete removes order id and then purges its attachments. The purge is retried with backoff;
// when it still fails the deletion stands, the failure is logged and counted, and the
// order.deleted event lets the worker try again.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Delete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		return s.mapRepoError(span, err, "failed to delete order")
	}
	s.dropCache(ctx, id)
	s.publish(ctx, Event{Type: EventDeleted, ID: id, OccurredAt: time.Now().UTC()})

	if err := s.PurgeAttachments(ctx, id); err != nil {
		span.RecordError(err)
		s.purgeFailures.Add(ctx, 1)
		s.logger.Error("attachment purge failed after delete",
			zap.Int64("id", id),
			zap.Int("attempts", s.purgeRetries+1),
			zap.Error(err),
		)
	}
	return nil
}

// PurgeAttachments removes every stored file of order id, retrying with exponential backoff.
func (s *Service) PurgeAttachments(ctx context.Context, id int64) error {
	backoff := retry.WithMaxRetries(uint64(s.purgeRetries), retry.NewExponential(s.purgeBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.purger.PurgeAll(id); err != nil {
			s.logger.Warn("attachment purge attempt failed", zap.Int64("id", id), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
}

// PurgeOrphaned purges the files of order id unless the order still exists.
func (s *Service) PurgeOrphaned(ctx context.Context, id int64) error {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Warn("skipping purge of existing order", zap.Int64("id", id))
		return nil
	}
	return s.PurgeAttachments(ctx, id)
}

// Exists reports whether order id is stored, reading from the primary.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return false, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return exists, nil
}

// GetPrimary loads order id from the primary, bypassing cache.
func (s *Service) GetPrimary(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.GetPrimary", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := s.repo.GetPrimary(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(span, err, "failed to load order")
	}
	return order, nil
}

// ApplyAttachments points the given slots at new references in a single version bump. An empty
// reference clears its slot. Concurrent writers are resolved by re-reading and retrying, so
// updates to different slots never overwrite each other. The previous references of the
// touched slots are returned alongside the stored order.
func (s *Service) ApplyAttachments(ctx context.Context, id int64, refs map[entity.Slot]string) (*entity.Order, map[entity.Slot]string, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ApplyAttachments", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int("order.slots", len(refs)),
	))
	defer span.End()

	if len(refs) == 0 {
		return nil, nil, errorbank.BadRequest("no attachment slots given")
	}

	var (
		stored   *entity.Order
		previous map[entity.Slot]string
	)
	backoff := retry.WithMaxRetries(uint64(s.conflictRetries), retry.NewExponential(conflictRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := s.repo.GetPrimary(ctx, id)
		if err != nil {
			return err
		}

		patch := *current
		previous = make(map[entity.Slot]string, len(refs))
		columns := make([]string, 0, len(refs))
		for _, slot := range entity.Slots() {
			ref, ok := refs[slot]
			if !ok {
				continue
			}
			previous[slot] = current.Attachment(slot)
			patch.SetAttachment(slot, ref)
			columns = append(columns, slot.Field())
		}
		if len(columns) == 0 {
			return errorbank.BadRequest("unknown attachment slot")
		}

		if err := s.repo.Update(ctx, &patch, current.RowVersion, columns); err != nil {
			var conflict *repo.ConflictError
			if errors.As(err, &conflict) {
				span.AddEvent("row version moved; retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		stored = &patch
		return nil
	})
	s.dropCache(ctx, id)
	if err != nil {
		var appErr *errorbank.AppError
		if errors.As(err, &appErr) {
			return nil, nil, appErr
		}
		return nil, nil, s.mapRepoError(span, err, "failed to update attachments")
	}

	event := newEvent(EventFilesChanged, stored)
	event.Files = make(map[string]string, len(refs))
	for slot := range previous {
		event.Files[slot.Field()] = stored.Attachment(slot)
	}
	s.publish(ctx, event)

	return stored, previous, nil
}

func (s *Service) mapRepoError(span trace.Span, err error, message string) error {
	var conflict *repo.ConflictError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		span.SetStatus(codes.Error, "not found")
		return errorbank.NotFound("order not found")
	case errors.As(err, &conflict):
		span.SetStatus(codes.Error, "version conflict")
		return errorbank.VersionConflict(conflict.Current, errorbank.WithCause(err))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return errorbank.Internal(message, errorbank.WithCause(err))
	}
}

// withReadRetry runs fn and retries it once on failures other than a missing row.
func (s *Service) withReadRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(readRetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, repo.ErrNotFound) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("order read failed; retrying", zap.Error(err))
		return retry.RetryableError(err)
	})
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// fillCache stores order after a read, then checks the writer still holds the same row version.
// Writers only ever drop the key, so a fill that lands after a concurrent update or delete is
// caught by the check and dropped again.
func (s *Service) fillCache(ctx context.Context, order *entity.Order) {
	if s.cache == nil || order == nil {
		return
	}
	bytes, err := json.Marshal(order)
	if err == nil {
		err = s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
	}
	if err != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", order.ID), zap.Error(err))
		return
	}

	current, err := s.repo.Version(ctx, order.ID)
	if err == nil && current == order.RowVersion {
		return
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		s.logger.Warn("orders cache fill check failed", zap.Int64("id", order.ID), zap.Error(err))
	}
	s.dropCache(ctx, order.ID)
}

func (s *Service) dropCache(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}
