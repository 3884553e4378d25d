package adjrw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/noosi159/Hospital1-backend/internal/platform/apperr"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
)

func TestHandler_ApplyAdjrw(t *testing.T) {
	svc, repo, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rw":"1.2","post_adjrw":"1.5"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithIdentity(req.Context(), 5, "coder", auth.RoleCoder))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.ApplyAdjrw(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res Result
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Adjrw != 1.5 || res.RW == nil || *res.RW != 1.2 {
		t.Errorf("unexpected result %+v", res)
	}
	if *repo.history[0].UpdatedBy != 5 {
		t.Errorf("actor not recorded: %v", repo.history[0].UpdatedBy)
	}
}

func TestHandler_ApplyAdjrw_Invalid(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"adjrw":"1,5"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("1")

	if err := h.ApplyAdjrw(c); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_GetLatestState(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.GetLatestState(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"adjrw":0`) || !strings.Contains(rec.Body.String(), `"rw":null`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
