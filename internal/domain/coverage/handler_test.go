package coverage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func TestHandler_Quote(t *testing.T) {
	h, repo, e := newTestHandler()
	repo.CreateRule(context.Background(), rule(0, nil, nil, CalcRate, f(7600)))

	body := `{"right_name":"บัตรทอง","adjrw":"1.5","rate_year":2026}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coverage/quote", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Quote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap RateSnapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.CoverageGroup != "UC" || snap.CalculatedAmount == nil || *snap.CalculatedAmount != 11400 {
		t.Errorf("unexpected quote %+v", snap)
	}
}

func TestHandler_Quote_BadAdjrw(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"right_code":"UC","adjrw":"abc"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	if err := h.Quote(c); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_CreateAndListRules(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"coverage_group":"SSS","rate_year":"2026","adjrw_max":1.99,"calc_type":"ACTUAL","rate_per_adjrw":""}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateRule(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/?year=2026", nil)
	rec = httptest.NewRecorder()
	if err := h.ListRules(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rules []Rule
	json.Unmarshal(rec.Body.Bytes(), &rules)
	if len(rules) != 1 || rules[0].CalcType != CalcActual || rules[0].RatePerAdjrw != nil {
		t.Errorf("unexpected rules %+v", rules)
	}
}

func TestHandler_DeleteRule_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("12")
	if err := h.DeleteRule(c); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_RegisterRoutes_RoleGuard(t *testing.T) {
	h, _, e := newTestHandler()
	api := e.Group("/api/v1")
	api.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), 2, "coder1", auth.RoleCoder)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/coverage/mappings", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("coder read: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/coverage/rules/1", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("coder delete: expected 403, got %d", rec.Code)
	}
}
