package hissync

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
	admin := api.Group("/his", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/sync", h.Sync)
}

func (h *Handler) Sync(c echo.Context) error {
	var q Query
	if err := httpx.Bind(c, &q); err != nil {
		return err
	}
	res, err := h.svc.Sync(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
