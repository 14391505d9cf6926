package http_test

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/Additional-Code/procura/internal/server/http"
	"github.com/Additional-Code/procura/internal/testutil"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

func TestPingAndHealth(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	conns := testutil.NewConnections(t)
	e := httpserver.NewEcho(httpserver.Params{Config: cfg, Logger: testutil.Logger(t), Database: conns})

	rec := testutil.Do(e, http.MethodGet, "/ping", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = testutil.Do(e, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	require.NoError(t, conns.Close())
	rec = testutil.Do(e, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterErrorsUseErrorShape(t *testing.T) {
	cfg := testutil.Config(t.TempDir())
	cfg.HTTP.BodyLimit = "1K"
	e := httpserver.NewEcho(httpserver.Params{Config: cfg, Logger: testutil.Logger(t)})
	e.POST("/echo", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec := testutil.Do(e, http.MethodGet, "/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := testutil.DecodeBody(t, rec)
	assert.Equal(t, "not_found", body["error"])
	assert.Contains(t, body, "message")

	rec = testutil.Do(e, http.MethodPost, "/echo", bytes.NewBufferString(strings.Repeat("x", 4096)), "text/plain")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, testutil.DecodeBody(t, rec), "error")

	e.GET("/panic", func(c echo.Context) error { panic("boom") })
	rec = testutil.Do(e, http.MethodGet, "/panic", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", testutil.DecodeBody(t, rec)["error"])
}

type sample struct {
	PONumber  string            `json:"po_number" validate:"required,max=8"`
	OrderDate string            `json:"order_date" validate:"omitempty,datetime=2006-01-02"`
	Extra     map[string]string `json:"attributes" validate:"omitempty,dive,keys,max=4,endkeys"`
}

func TestValidatorReportsJSONFieldNames(t *testing.T) {
	v := httpserver.NewValidator()

	require.NoError(t, v.Validate(&sample{PONumber: "PO-1", OrderDate: "2024-01-31"}))

	err := v.Validate(&sample{OrderDate: "31/01/2024", Extra: map[string]string{"toolong": "x"}})
	require.Error(t, err)
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest))

	var appErr *errorbank.AppError
	require.ErrorAs(t, err, &appErr)
	fields, ok := appErr.Details()["fields"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "required", fields["po_number"])
	assert.Equal(t, "datetime=2006-01-02", fields["order_date"])
	assert.Equal(t, "max=4", fields["attributes[toolong]"])
}
