package adjrw

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noosi159/Hospital1-backend/internal/platform/auth"
	"github.com/noosi159/Hospital1-backend/internal/platform/httpx"
	"github.com/noosi159/Hospital1-backend/internal/platform/normalize"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAuditor, auth.RoleCoder))
	read.GET("/cases/:id/adjrw", h.GetLatestState)
	read.GET("/cases/:id/adjrw/history", h.History)

	coder := api.Group("/coder", auth.RequireRole(auth.RoleCoder))
	coder.POST("/cases/:id/adjrw", h.ApplyAdjrw)
}

type applyBody struct {
	RW        normalize.Number `json:"rw"`
	Adjrw     normalize.Number `json:"adjrw"`
	PostAdjrw normalize.Number `json:"post_adjrw"`
}

func (h *Handler) ApplyAdjrw(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var body applyBody
	if err := httpx.Bind(c, &body); err != nil {
		return err
	}
	value := body.Adjrw
	if !value.Present {
		value = body.PostAdjrw
	}
	res, err := h.svc.ApplyAdjrw(c.Request().Context(), ApplyInput{
		CaseID:  id,
		RW:      body.RW,
		Adjrw:   value,
		ActorID: auth.UserIDFromContext(c.Request().Context()),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetLatestState(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.svc.GetLatestState(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) History(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	limit, err := httpx.QueryInt(c, "limit")
	if err != nil {
		return err
	}
	n := 0
	if limit != nil {
		n = *limit
	}
	entries, err := h.svc.History(c.Request().Context(), id, n)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*HistoryEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
