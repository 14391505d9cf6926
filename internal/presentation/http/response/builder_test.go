package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/procura/internal/presentation/http/response"
	"github.com/Additional-Code/procura/pkg/errorbank"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSuccessRendersBarePayload(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, response.New(c).WithStatus(http.StatusCreated).WithData(map[string]int{"id": 7}).Build())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":7}`, rec.Body.String())

	c, rec = newContext()
	require.NoError(t, response.New(c).WithStatus(http.StatusNoContent).Build())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestVersionConflictCarriesStoredVersion(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, response.New(c).WithError(errorbank.VersionConflict(5)).Build())

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "version_conflict", body["error"])
	assert.EqualValues(t, 5, body["db_version"])
	assert.NotEmpty(t, body["message"])
}

func TestDetailsAreMergedFlat(t *testing.T) {
	c, rec := newContext()
	err := errorbank.BadRequest("unknown field", errorbank.WithDetail("field", "colour"))
	require.NoError(t, response.New(c).WithError(err).Build())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "bad_request", "message": "unknown field", "field": "colour"}, decode(t, rec))
}

func TestEchoErrorsKeepTheirStatus(t *testing.T) {
	c, rec := newContext()
	require.NoError(t, response.New(c).WithError(echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large")).Build())

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "bad_request", body["error"])
	assert.Equal(t, "Request Entity Too Large", body["message"])

	c, rec = newContext()
	require.NoError(t, response.New(c).WithError(echo.ErrNotFound).Build())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}

func TestUnexpectedErrorsAreHiddenAndLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	c, rec := newContext()
	require.NoError(t, response.New(c).WithLogger(zap.New(core)).WithError(errors.New("disk on fire")).Build())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "internal", body["error"])
	assert.NotContains(t, rec.Body.String(), "disk on fire")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request failed", entry.Message)
	assert.Equal(t, "disk on fire", entry.ContextMap()["error"])
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, errorbank.KindNotFound, response.KindForStatus(http.StatusNotFound))
	assert.Equal(t, errorbank.KindConflict, response.KindForStatus(http.StatusConflict))
	assert.Equal(t, errorbank.KindUnprocessableEntity, response.KindForStatus(http.StatusUnprocessableEntity))
	assert.Equal(t, errorbank.KindInternal, response.KindForStatus(http.StatusBadGateway))
	assert.Equal(t, errorbank.KindBadRequest, response.KindForStatus(http.StatusMethodNotAllowed))
}
