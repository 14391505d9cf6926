package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/procura/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// ConflictError reports a failed compare-and-swap along with the version currently stored.
type ConflictError struct {
	ID       int64
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %d: expected row version %d, stored %d", e.ID, e.Expected, e.Current)
}

// ListFilter narrows List results. Zero values list everything.
type ListFilter struct {
	Query  string
	Limit  int
	Offset int
}

// likeEscape is portable across postgres, mysql and sqlite string literal rules.
const likeEscape = "!"

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// List returns orders newest first, optionally filtered by a case-insensitive substring match
// against search_text.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List", trace.WithAttributes(
		attribute.Bool("order.search", filter.Query != ""),
	))
	defer span.End()

	orders := make([]*entity.Order, 0)
	q := r.reader.NewSelect().Model(&orders).
		OrderExpr("?TableAlias.created_at DESC").
		OrderExpr("?TableAlias.id DESC")

	if term := strings.TrimSpace(filter.Query); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where("?TableAlias.search_text LIKE ? ESCAPE '"+likeEscape+"'", pattern)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return orders, nil
}

// Create persists a new order at row version 1 using the write connection.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.po_number", order.PONumber)))
	defer span.End()

	order.ID = 0
	order.RowVersion = 1
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	order.UpdatedAt = order.CreatedAt
	order.SearchText = order.SearchDocument()
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(order).Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches an order by primary key using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	return r.get(ctx, r.reader, id, "OrderRepository.GetByID")
}

// GetPrimary fetches an order from the writer so the row version is not stale.
func (r *Repository) GetPrimary(ctx context.Context, id int64) (*entity.Order, error) {
	return r.get(ctx, r.writer, id, "OrderRepository.GetPrimary")
}

func (r *Repository) get(ctx context.Context, db bun.IDB, id int64, spanName string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, spanName, trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := db.NewSelect().Model(order).Where("?TableAlias.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Update writes the named columns of order when the stored row version equals expected,
// bumping the version by one and stamping updated_at. The comparison and the write happen in a
// single conditional UPDATE so concurrent writers cannot both succeed. On success order is
// refreshed with the stored row; on failure it is left untouched and ErrNotFound or
// *ConflictError is returned.
func (r *Repository) Update(ctx context.Context, order *entity.Order, expected int64, columns []string) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Update", trace.WithAttributes(
		attribute.Int64("order.id", order.ID),
		attribute.Int64("order.expected_version", expected),
	))
	defer span.End()

	next := *order
	next.RowVersion = expected + 1
	next.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	cols := make([]string, 0, len(columns)+3)
	cols = append(cols, columns...)
	if touchesSearch(columns) {
		next.SearchText = next.SearchDocument()
		cols = append(cols, "search_text")
	}
	cols = append(cols, "row_version", "updated_at")

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model(&next).
			Column(cols...).
			Where("id = ?", order.ID).
			Where("row_version = ?", expected).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return r.classifyMiss(ctx, tx, order.ID, expected)
		}

		stored := new(entity.Order)
		if err := tx.NewSelect().Model(stored).Where("?TableAlias.id = ?", order.ID).Scan(ctx); err != nil {
			return err
		}
		*order = *stored
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.Is(err, ErrNotFound):
			span.SetStatus(codes.Error, "not found")
		case errors.As(err, &conflict):
			span.SetAttributes(attribute.Int64("order.stored_version", conflict.Current))
			span.SetStatus(codes.Error, "version conflict")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
		}
	}
	return err
}

func (r *Repository) classifyMiss(ctx context.Context, tx bun.Tx, id, expected int64) error {
	var current int64
	err := tx.NewSelect().Model((*entity.Order)(nil)).
		Column("row_version").
		Where("?TableAlias.id = ?", id).
		Scan(ctx, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &ConflictError{ID: id, Expected: expected, Current: current}
}

// Delete removes an order row; ErrNotFound when nothing matched.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Delete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*entity.Order)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
	}
	return err
}

// Version returns the row version stored on the writer, ErrNotFound when the row is gone.
func (r *Repository) Version(ctx context.Context, id int64) (int64, error) {
	var version int64
	err := r.writer.NewSelect().Model((*entity.Order)(nil)).
		Column("row_version").
		Where("?TableAlias.id = ?", id).
		Scan(ctx, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return version, err
}

// Exists reports whether an order row is present.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	return r.writer.NewSelect().Model((*entity.Order)(nil)).Where("?TableAlias.id = ?", id).Exists(ctx)
}

func touchesSearch(columns []string) bool {
	for _, col := range columns {
		if slices.Contains(entity.SearchableColumns, col) {
			return true
		}
	}
	return false
}

func escapeLike(s string) string {
	return strings.NewReplacer(
		likeEscape, likeEscape+likeEscape,
		"%", likeEscape+"%",
		"_", likeEscape+"_",
	).Replace(s)
}
