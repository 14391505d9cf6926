package order

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/dto"
	"github.com/Additional-Code/procura/internal/presentation/http/response"
	repo "github.com/Additional-Code/procura/internal/repository/order"
	service "github.com/Additional-Code/procura/internal/service/order"
	"github.com/Additional-Code/procura/internal/transport/http/request"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/procura/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.getByID)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	limit, err := request.QueryInt(c, "limit")
	if err != nil {
		return b.WithError(err).Build()
	}
	offset, err := request.QueryInt(c, "offset")
	if err != nil {
		return b.WithError(err).Build()
	}
	filter := repo.ListFilter{Query: c.QueryParam("q"), Limit: limit, Offset: offset}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list", trace.WithAttributes(
		attribute.Bool("order.search", filter.Query != ""),
	))
	defer span.End()

	orders, err := h.svc.List(ctx, filter)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponses(orders)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	id, err := request.ParseID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	var payload dto.OrderRequest
	if err := request.DecodeJSON(c, &payload); err != nil {
		return b.WithError(err).Build()
	}
	order := payload.Entity()

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create")
	span.SetAttributes(
		attribute.String("order.po_number", order.PONumber),
	)
	defer span.End()

	if err := h.svc.Create(ctx, order); err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) update(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	id, err := request.ParseID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload dto.OrderRequest
	if err := request.DecodeJSON(c, &payload); err != nil {
		return b.WithError(err).Build()
	}
	if payload.RowVersion == nil {
		return b.WithError(errorbank.BadRequest("row_version is required", errorbank.WithDetail("field", "row_version"))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.update", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("order.expected_version", *payload.RowVersion),
	))
	defer span.End()

	order, err := h.svc.Update(ctx, id, payload.Entity(), *payload.RowVersion)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) delete(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	id, err := request.ParseID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.delete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if err := h.svc.Delete(ctx, id); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.DeleteResponse{Status: "deleted", ID: id}).Build()
}
