package attachment

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/dto"
	"github.com/Additional-Code/procura/internal/entity"
	"github.com/Additional-Code/procura/internal/presentation/http/response"
	service "github.com/Additional-Code/procura/internal/service/attachment"
	"github.com/Additional-Code/procura/internal/transport/http/request"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/procura/transport/http/attachment")

// singleFileField is the multipart field carrying the file of a single-slot upload.
const singleFileField = "file"

// Handler exposes attachment endpoints over HTTP.
type Handler struct {
	mgr          *service.Manager
	logger       *zap.Logger
	publicPrefix string
}

// NewHandler constructs an attachment Handler.
func NewHandler(mgr *service.Manager, cfg config.Config, logger *zap.Logger) *Handler {
	return &Handler{mgr: mgr, logger: logger, publicPrefix: cfg.Storage.PublicPrefix}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders/:id/files")
	g.POST("", h.upload)
	g.PUT("/:slot", h.uploadSlot)
	g.GET("/:slot", h.downloadSlot)
	g.DELETE("/:slot", h.detach)

	prefix := h.publicPrefix
	if prefix == "" {
		prefix = "/files"
	}
	e.GET(prefix+"/:id/:name", h.serve)
}

// upload stores every recognized slot field of a multipart form. Fields for unknown slots and
// empty file parts are ignored.
func (h *Handler) upload(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	id, err := request.ParseID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "attachments.upload", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	form, err := multipartForm(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var uploads []service.Upload
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	if form != nil {
		for _, slot := range entity.Slots() {
			fh := firstFile(form.File[slot.Field()])
			if fh == nil {
				continue
			}
			f, err := fh.Open()
			if err != nil {
				return b.WithError(errorbank.BadRequest("unreadable file part", errorbank.WithDetail("field", slot.Field()), errorbank.WithCause(err))).Build()
			}
			opened = append(opened, f)
			uploads = append(uploads, service.Upload{Slot: slot, Filename: fh.Filename, Content: f})
		}
	}

	res, err := h.mgr.Upload(ctx, id, uploads)
	if errors.Is(err, service.ErrNothingToUpload) {
		return b.WithData(dto.UploadResponse{Status: "no_files"}).Build()
	}
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.UploadResponse{Status: "ok", Files: res.Files, RowVersion: res.Order.RowVersion}).Build()
}

func (h *Handler) uploadSlot(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	id, slot, err := parseSlotPath(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "attachments.uploadSlot", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("attachment.slot", string(slot)),
	))
	defer span.End()

	form, err := multipartForm(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var fh *multipart.FileHeader
	if form != nil {
		fh = firstFile(form.File[singleFileField])
	}
	if fh == nil {
		return b.WithError(errorbank.BadRequest("multipart field \"file\" with a non-empty file is required", errorbank.WithDetail("field", singleFileField))).Build()
	}
	f, err := fh.Open()
	if err != nil {
		return b.WithError(errorbank.BadRequest("unreadable file part", errorbank.WithCause(err))).Build()
	}
	defer f.Close()

	res, err := h.mgr.Upload(ctx, id, []service.Upload{{Slot: slot, Filename: fh.Filename, Content: f}})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.UploadResponse{Status: "ok", Files: res.Files, RowVersion: res.Order.RowVersion}).Build()
}

func (h *Handler) downloadSlot(c echo.Context) error {
	id, slot, err := parseSlotPath(c)
	if err != nil {
		return response.New(c).WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "attachments.downloadSlot", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("attachment.slot", string(slot)),
	))
	defer span.End()

	f, info, err := h.mgr.OpenSlot(ctx, id, slot)
	if err != nil {
		return response.New(c).WithLogger(h.logger).WithError(err).Build()
	}
	defer f.Close()

	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}

func (h *Handler) detach(c echo.Context) error {
	b := response.New(c).WithLogger(h.logger)

	id, slot, err := parseSlotPath(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "attachments.detach", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("attachment.slot", string(slot)),
	))
	defer span.End()

	order, err := h.mgr.Detach(ctx, id, slot)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

// serve streams a stored file by its public reference. What the order record says is not
// consulted: only presence on disk matters.
func (h *Handler) serve(c echo.Context) error {
	id, err := request.ParseID(c, "id")
	if err != nil {
		return response.New(c).WithError(errorbank.NotFound("file not found")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "attachments.serve", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	f, info, err := h.mgr.Open(ctx, id, c.Param("name"))
	if err != nil {
		return response.New(c).WithLogger(h.logger).WithError(err).Build()
	}
	defer f.Close()

	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}

func parseSlotPath(c echo.Context) (int64, entity.Slot, error) {
	id, err := request.ParseID(c, "id")
	if err != nil {
		return 0, "", err
	}
	slot, ok := entity.ParseSlot(c.Param("slot"))
	if !ok {
		return 0, "", errorbank.BadRequest("unknown attachment slot", errorbank.WithDetail("slot", c.Param("slot")))
	}
	return id, slot, nil
}

// multipartForm parses the request as multipart. A request that is not multipart yields a nil
// form so callers treat it as carrying no files.
func multipartForm(c echo.Context) (*multipart.Form, error) {
	form, err := c.MultipartForm()
	if errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return nil, httpErr
		}
		return nil, errorbank.BadRequest("invalid multipart body", errorbank.WithCause(err))
	}
	return form, nil
}

// firstFile returns the first named, non-empty part; zero-byte parts do not count as uploads.
func firstFile(headers []*multipart.FileHeader) *multipart.FileHeader {
	for _, fh := range headers {
		if fh != nil && fh.Filename != "" && fh.Size > 0 {
			return fh
		}
	}
	return nil
}
