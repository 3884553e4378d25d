// Package httpx holds the small request helpers shared by the domain handlers.
package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
)

// ParamID parses a positive integer path parameter.
func ParamID(c echo.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s: %q", name, raw)
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter. A blank value yields nil.
func QueryInt(c echo.Context, name string) (*int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Validation("invalid %s: %q", name, raw)
	}
	return &v, nil
}

// Bind decodes the request body into v and reports malformed input as a
// validation error.
func Bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		msg := "invalid request body"
		if he, ok := err.(*echo.HTTPError); ok {
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			}
		}
		return apperr.Validation("%s", msg)
	}
	return nil
}

// RawJSON reads the request body as-is. An empty body yields nil; anything
// else must be valid JSON.
func RawJSON(c echo.Context) (json.RawMessage, error) {
	body := c.Request().Body
	if body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, apperr.Validation("read request body: %v", err)
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	if !json.Valid(b) {
		return nil, apperr.Validation("request body is not valid JSON")
	}
	return json.RawMessage(b), nil
}
