package coverage

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
	"github.com/noosi159/Hospital1-backend/internal/platform/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/coverage", auth.RequireRole(auth.RoleAuditor, auth.RoleCoder))
	read.GET("/rules", h.ListRules)
	read.GET("/rules/:id", h.GetRule)
	read.GET("/mappings", h.ListMappings)
	read.GET("/resolve", h.ResolveGroup)
	read.POST("/quote", h.Quote)

	admin := api.Group("/coverage", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/rules", h.CreateRule)
	admin.PATCH("/rules/:id", h.UpdateRule)
	admin.DELETE("/rules/:id", h.DeleteRule)
	admin.PUT("/mappings", h.UpsertMapping)
	admin.DELETE("/mappings/:id", h.DeleteMapping)
}

func (h *Handler) ListRules(c echo.Context) error {
	year, err := httpx.QueryInt(c, "year")
	if err != nil {
		return err
	}
	rules, err := h.svc.ListRules(c.Request().Context(), year)
	if err != nil {
		return err
	}
	if rules == nil {
		rules = []*Rule{}
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *Handler) GetRule(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	rule, err := h.svc.GetRule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) CreateRule(c echo.Context) error {
	var in RuleInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	rule, err := h.svc.CreateRule(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rule)
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var in RuleInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	rule, err := h.svc.UpdateRule(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRule(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMappings(c echo.Context) error {
	mappings, err := h.svc.ListMappings(c.Request().Context())
	if err != nil {
		return err
	}
	if mappings == nil {
		mappings = []*Mapping{}
	}
	return c.JSON(http.StatusOK, mappings)
}

func (h *Handler) UpsertMapping(c echo.Context) error {
	var body struct {
		RightPrefix   string `json:"right_prefix"`
		CoverageGroup string `json:"coverage_group"`
	}
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	m, err := h.svc.UpsertMapping(c.Request().Context(), body.RightPrefix, body.CoverageGroup)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMapping(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMapping(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ResolveGroup answers GET /coverage/resolve?right_code=..&right_name=..
func (h *Handler) ResolveGroup(c echo.Context) error {
	group, err := h.svc.ResolveGroup(c.Request().Context(), c.QueryParam("right_code"), c.QueryParam("right_name"))
	if err != nil {
		return err
	}
	var out *string
	if group != "" {
		out = &group
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"coverage_group": out})
}

func (h *Handler) Quote(c echo.Context) error {
	var in QuoteInput
	if err := httpx.Bind(c, &in); err != nil {
		return err
	}
	snap, err := h.svc.Quote(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}
