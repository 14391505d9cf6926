package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	httpserver "github.com/Additional-Code/procura/internal/server/http"
	attachmenttransport "github.com/Additional-Code/procura/internal/transport/http/attachment"
	ordertransport "github.com/Additional-Code/procura/internal/transport/http/order"
)

// NewRouter builds the HTTP router with every order and attachment route over stack.
func NewRouter(t *testing.T, stack *Stack) *echo.Echo {
	t.Helper()
	logger := Logger(t)
	e := httpserver.NewEcho(httpserver.Params{Config: stack.Config, Logger: logger, Database: stack.Conns})
	ordertransport.Register(e, ordertransport.NewHandler(stack.Orders, logger))
	attachmenttransport.Register(e, attachmenttransport.NewHandler(stack.Attachments, stack.Config, logger))
	return e
}

// Do sends a request through handler and returns the recorded response.
func Do(handler http.Handler, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// DoJSON sends body encoded as JSON. Strings are sent verbatim.
func DoJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	return Do(handler, method, target, reader, echo.MIMEApplicationJSON)
}

// FilePart is one file of a multipart body.
type FilePart struct {
	Field    string
	Filename string
	Content  string
}

// Multipart encodes parts as a multipart/form-data body and returns it with its content type.
func Multipart(t *testing.T, parts ...FilePart) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.Field, p.Filename)
		if err != nil {
			t.Fatalf("multipart part: %v", err)
		}
		if _, err := io.WriteString(fw, p.Content); err != nil {
			t.Fatalf("multipart write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}
	return &buf, w.FormDataContentType()
}

// DecodeBody unmarshals a recorded JSON response into a generic map.
func DecodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}
