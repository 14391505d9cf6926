package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/pkg/errorbank"
)

// Builder helps construct consistent HTTP responses. Success bodies are the bare payload;
// error bodies are {"error": kind, "message": text} merged with the error details.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	logger *zap.Logger
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithError records an error to be rendered.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithLogger reports server-side failures before they are rendered.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build finalises and emits the HTTP response.
func (b *Builder) Build() error {
	if b.err != nil {
		return b.buildError()
	}
	return b.buildSuccess()
}

func (b *Builder) buildSuccess() error {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	if b.data == nil {
		return b.ctx.NoContent(b.status)
	}
	return b.ctx.JSON(b.status, b.data)
}

func (b *Builder) buildError() error {
	var appErr *errorbank.AppError
	status := b.status
	var he *echo.HTTPError
	if errors.As(b.err, &he) {
		appErr = errorbank.New(KindForStatus(he.Code), fmt.Sprint(he.Message), errorbank.WithCause(he.Internal))
		status = he.Code
	} else {
		appErr = errorbank.From(b.err)
	}
	if status < 400 {
		status = appErr.StatusCode()
	}

	if status >= http.StatusInternalServerError && b.logger != nil {
		req := b.ctx.Request()
		b.logger.Error("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
			zap.Error(appErr.Unwrap()),
			zap.String("message", appErr.Message()),
		)
	}

	payload := make(map[string]any, len(appErr.Details())+2)
	for k, v := range appErr.Details() {
		payload[k] = v
	}
	payload["error"] = string(appErr.Kind())
	payload["message"] = appErr.Message()

	return b.ctx.JSON(status, payload)
}

// KindForStatus maps a router-level HTTP status to the closest error kind.
func KindForStatus(status int) errorbank.Kind {
	switch {
	case status == http.StatusNotFound:
		return errorbank.KindNotFound
	case status == http.StatusConflict:
		return errorbank.KindConflict
	case status == http.StatusUnprocessableEntity:
		return errorbank.KindUnprocessableEntity
	case status >= http.StatusInternalServerError:
		return errorbank.KindInternal
	default:
		return errorbank.KindBadRequest
	}
}
