// Package request holds decoding helpers shared by the HTTP handlers.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/procura/pkg/errorbank"
)

// DecodeJSON strictly decodes the request body into dst: unknown fields, type mismatches and
// trailing data are rejected. The result is then validated with the router's validator.
func DecodeJSON(c echo.Context, dst any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errorbank.BadRequest("request body must contain a single JSON object")
	}
	if err := c.Validate(dst); err != nil {
		return err
	}
	return nil
}

// ParseID reads a positive int64 path parameter.
func ParseID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid "+name, errorbank.WithDetail("value", raw))
	}
	return id, nil
}

// QueryInt reads a non-negative integer query parameter, zero when absent.
func QueryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errorbank.BadRequest(name+" must be a non-negative integer", errorbank.WithDetail("value", raw))
	}
	return v, nil
}

func decodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, io.EOF):
		return errorbank.BadRequest("request body is required")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return errorbank.BadRequest("malformed JSON", errorbank.WithCause(err))
	case errors.As(err, &typeErr) && typeErr.Field == "":
		return errorbank.BadRequest("request body must be a JSON object", errorbank.WithCause(err))
	case errors.As(err, &typeErr):
		return errorbank.BadRequest(
			fmt.Sprintf("field %s must be %s", typeErr.Field, typeErr.Type),
			errorbank.WithDetail("field", typeErr.Field),
			errorbank.WithCause(err),
		)
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return errorbank.BadRequest("unknown field "+field, errorbank.WithDetail("field", field))
	default:
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
}
