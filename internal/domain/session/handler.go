package session

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/portal/internal/domain/profile"
)

// Handler exposes the reconciled session to the portal UI.
type Handler struct {
	manager  *Manager
	profiles *profile.Service
}

func NewHandler(manager *Manager, profiles *profile.Service) *Handler {
	return &Handler{manager: manager, profiles: profiles}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/session", h.GetSession)
	api.PUT("/session/profile", h.UpdateProfile)
	api.POST("/auth/signout", h.SignOut)
}

// GetSession returns the current snapshot. While the bootstrap is still
// running it answers 202 so the UI keeps its loading state instead of
// rendering from a half-built session.
func (h *Handler) GetSession(c echo.Context) error {
	bundle, _ := h.manager.Acquire(c)
	snap := bundle.Reconciler.Snapshot()
	if snap.Bootstrapping {
		return c.JSON(http.StatusAccepted, snap)
	}
	return c.JSON(http.StatusOK, snap)
}

type updateProfileRequest struct {
	FullName string `json:"full_name"`
}

// UpdateProfile applies display-field edits to both sides of the
// identity: the provider metadata (so future tokens carry the new name)
// and the profile row. Role is not editable here.
func (h *Handler) UpdateProfile(c echo.Context) error {
	bundle := h.manager.Peek(c)
	if bundle == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no active session")
	}
	snap := bundle.Reconciler.Snapshot()
	if snap.Bootstrapping {
		return c.JSON(http.StatusAccepted, snap)
	}
	if !snap.Authenticated() {
		return echo.NewHTTPError(http.StatusUnauthorized, "not signed in")
	}

	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FullName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "full_name is required")
	}

	ctx := c.Request().Context()
	if err := bundle.Client.UpdateIdentityMetadata(ctx, map[string]any{"full_name": req.FullName}); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	p, err := h.profiles.Update(ctx, *snap.Identity, map[string]any{"full_name": req.FullName})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

// SignOut revokes the provider session. The reconciler clears every
// channel when the SIGNED_OUT notification arrives, regardless of which
// channel had been active.
func (h *Handler) SignOut(c echo.Context) error {
	bundle := h.manager.Peek(c)
	if bundle == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if err := bundle.Password.SignOut(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
