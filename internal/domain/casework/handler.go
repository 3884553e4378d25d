package casework

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noosi159/Hospital1-backend/internal/domain/snapshot"
	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
	"github.com/noosi159/Hospital1-backend/internal/platform/httpx"
	"github.com/noosi159/Hospital1-backend/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/cases", h.ListCases)
	admin.GET("/cases/counts", h.CountByStatus)
	admin.POST("/cases/assign", h.AssignAuditor)

	read := api.Group("", auth.RequireRole(auth.RoleAuditor, auth.RoleCoder))
	read.GET("/cases/:id", h.GetCase)
	read.GET("/cases/:id/diagnoses", h.ListDiagnoses)
	read.GET("/cases/:id/assignments", h.ListAssignments)

	auditor := api.Group("/auditor", auth.RequireRole(auth.RoleAuditor))
	auditor.GET("/cases", h.ListAuditorCases)
	auditor.POST("/cases/:id/save", h.SaveAuditorSnapshot)
	auditor.GET("/cases/:id/draft", h.getDraft(snapshot.RoleAuditor))
	auditor.POST("/cases/:id/draft", h.SaveAuditorDraft)
	auditor.DELETE("/cases/:id/draft", h.deleteDraft(snapshot.RoleAuditor))
	auditor.PATCH("/cases/:id/case-info", h.UpdateCaseInfo)
	auditor.PUT("/cases/:id/diagnoses", h.ReplaceDiagnoses)
	auditor.DELETE("/diagnoses/:id", h.DeleteDiagnosis)
	auditor.POST("/cases/:id/return", h.ReturnCase)
	auditor.POST("/cases/:id/export-to-coder", h.ExportToCoder)
	auditor.POST("/cases/:id/confirm", h.ConfirmCase)
	auditor.GET("/cases/:id/review", h.LoadAuditorReview)

	coder := api.Group("/coder", auth.RequireRole(auth.RoleCoder))
	coder.GET("/cases", h.ListCoderCases)
	coder.GET("/cases/available", h.ListAvailable)
	coder.POST("/cases/:id/claim", h.ClaimCase)
	coder.GET("/cases/:id/form", h.LoadCoderForm)
	coder.GET("/cases/:id/draft", h.getDraft(snapshot.RoleCoder))
	coder.POST("/cases/:id/draft", h.SaveCoderDraft)
	coder.DELETE("/cases/:id/draft", h.deleteDraft(snapshot.RoleCoder))
	coder.POST("/cases/:id/save", h.SaveCoderSnapshot)
	coder.POST("/cases/:id/export-to-auditor", h.ExportToAuditor)
}

func actorOf(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{ID: auth.UserIDFromContext(ctx), Role: auth.RoleFromContext(ctx)}
}

// -- Admin --

func (h *Handler) ListCases(c echo.Context) error {
	return h.list(c, ListFilter{Status: c.QueryParam("status")})
}

func (h *Handler) ListAuditorCases(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	return h.list(c, ListFilter{Status: c.QueryParam("status"), AuditorID: &id})
}

func (h *Handler) ListCoderCases(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	return h.list(c, ListFilter{Status: c.QueryParam("status"), CoderID: &id})
}

func (h *Handler) list(c echo.Context, f ListFilter) error {
	p := pagination.FromContext(c)
	f.Limit, f.Offset = p.Limit, p.Offset
	items, total, err := h.svc.ListCases(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) CountByStatus(c echo.Context) error {
	counts, err := h.svc.CountByStatus(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) AssignAuditor(c echo.Context) error {
	var in AssignInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	tr, err := h.svc.AssignAuditor(c.Request().Context(), in, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tr)
}

// -- Shared reads --

func (h *Handler) GetCase(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetCase(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	out, err := h.svc.ListDiagnoses(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	out, err := h.svc.ListAssignments(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Auditor --

// withBody runs fn with the path id and the raw JSON body.
func withBody(c echo.Context, fn func(id int64, body []byte) (interface{}, error)) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	body, err := httpx.RawJSON(c)
	if err != nil {
		return err
	}
	out, err := fn(id, body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func withID(c echo.Context, fn func(id int64) (interface{}, error)) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	out, err := fn(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SaveAuditorSnapshot(c echo.Context) error {
	return withBody(c, func(id int64, body []byte) (interface{}, error) {
		return h.svc.SaveAuditorSnapshot(c.Request().Context(), id, body, actorOf(c))
	})
}

func (h *Handler) SaveAuditorDraft(c echo.Context) error {
	return withBody(c, func(id int64, body []byte) (interface{}, error) {
		return h.svc.SaveAuditorDraft(c.Request().Context(), id, body, actorOf(c))
	})
}

func (h *Handler) UpdateCaseInfo(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var in CaseInfoInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	info, err := h.svc.UpdateCaseInfo(c.Request().Context(), id, in, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

type diagnosesBody struct {
	Diagnoses []DiagnosisInput `json:"diagnoses"`
}

func (h *Handler) ReplaceDiagnoses(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var body diagnosesBody
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	out, err := h.svc.ReplaceDiagnoses(c.Request().Context(), id, body.Diagnoses, actorOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) DeleteDiagnosis(c echo.Context) error {
	return withID(c, func(id int64) (interface{}, error) {
		caseID, err := h.svc.DeleteDiagnosis(c.Request().Context(), id, actorOf(c))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": true, "id": id, "case_id": caseID}, nil
	})
}

func (h *Handler) ReturnCase(c echo.Context) error {
	return withID(c, func(id int64) (interface{}, error) {
		return h.svc.ReturnCase(c.Request().Context(), id, actorOf(c))
	})
}

func (h *Handler) ExportToCoder(c echo.Context) error {
	return withBody(c, func(id int64, body []byte) (interface{}, error) {
		return h.svc.ExportToCoder(c.Request().Context(), id, body, actorOf(c))
	})
}

func (h *Handler) ConfirmCase(c echo.Context) error {
	return withID(c, func(id int64) (interface{}, error) {
		return h.svc.ConfirmCase(c.Request().Context(), id, actorOf(c))
	})
}

func (h *Handler) LoadAuditorReview(c echo.Context) error {
	return withID(c, func(id int64) (interface{}, error) {
		return h.svc.LoadAuditorReview(c.Request().Context(), id)
	})
}

// -- Coder --

func (h *Handler) ListAvailable(c echo.Context) error {
	items, err := h.svc.ListAvailableForCoder(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ClaimCase(c echo.Context) error {
	return withID(c, func(id int64) (interface{}, error) {
		return h.svc.ClaimCase(c.Request().Context(), id, actorOf(c))
	})
}

func (h *Handler) LoadCoderForm(c echo.Context) error {
	return withID(c, func(id int64) (interface{}, error) {
		return h.svc.LoadCoderForm(c.Request().Context(), id)
	})
}

func (h *Handler) SaveCoderDraft(c echo.Context) error {
	return withBody(c, func(id int64, body []byte) (interface{}, error) {
		return h.svc.SaveCoderDraft(c.Request().Context(), id, body, actorOf(c))
	})
}

func (h *Handler) SaveCoderSnapshot(c echo.Context) error {
	return withBody(c, func(id int64, body []byte) (interface{}, error) {
		return h.svc.SaveCoderSnapshot(c.Request().Context(), id, body, actorOf(c))
	})
}

func (h *Handler) ExportToAuditor(c echo.Context) error {
	return withBody(c, func(id int64, body []byte) (interface{}, error) {
		return h.svc.ExportToAuditor(c.Request().Context(), id, body, actorOf(c))
	})
}

// -- Drafts --

func (h *Handler) getDraft(role string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		d, err := h.svc.GetDraft(c.Request().Context(), id, role)
		if err != nil {
			return err
		}
		if d == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, d)
	}
}

func (h *Handler) deleteDraft(role string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := httpx.ParamID(c, "id")
		if err != nil {
			return err
		}
		if err := h.svc.DeleteDraft(c.Request().Context(), id, role); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}
