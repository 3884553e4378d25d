package snapshot

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
	read := api.Group("", auth.RequireRole(auth.RoleAuditor, auth.RoleCoder))
	read.GET("/cases/:id/snapshots", h.ListSnapshots)
	read.GET("/snapshots/:id", h.GetSnapshot)
}

// ListSnapshots answers GET /cases/:id/snapshots?role=&action=&limit=
func (h *Handler) ListSnapshots(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	limit, err := httpx.QueryInt(c, "limit")
	if err != nil {
		return err
	}
	f := Filter{Role: c.QueryParam("role"), Action: c.QueryParam("action")}
	if limit != nil {
		f.Limit = *limit
	}
	snaps, err := h.svc.History(c.Request().Context(), id, f)
	if err != nil {
		return err
	}
	if snaps == nil {
		snaps = []*Snapshot{}
	}
	return c.JSON(http.StatusOK, snaps)
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	snap, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}
