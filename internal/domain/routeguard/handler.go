package routeguard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/portal/internal/domain/session"
)

// Handler exposes the guard decision to the portal UI and as middleware
// for server-rendered portal areas.
type Handler struct {
	guard   *Guard
	manager *session.Manager
}

func NewHandler(guard *Guard, manager *session.Manager) *Handler {
	return &Handler{guard: guard, manager: manager}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/guard/decide", h.Decide)
}

// Decide answers the UI's pre-navigation check. While the session is
// still bootstrapping it returns 202 so the UI holds its loading state;
// the guard is never consulted against a half-built snapshot.
func (h *Handler) Decide(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" || path[0] != '/' {
		return echo.NewHTTPError(http.StatusBadRequest, "path query parameter must be an absolute path")
	}

	bundle, _ := h.manager.Acquire(c)
	snap := bundle.Reconciler.Snapshot()
	if snap.Bootstrapping {
		return c.JSON(http.StatusAccepted, snap)
	}
	return c.JSON(http.StatusOK, h.guard.Decide(path, snap))
}

// Middleware guards server-rendered routes: denied navigations are
// answered with a redirect to the channel-appropriate login page.
func (h *Handler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bundle, _ := h.manager.Acquire(c)
			snap := bundle.Reconciler.Snapshot()
			if snap.Bootstrapping {
				return c.JSON(http.StatusAccepted, snap)
			}
			d := h.guard.Decide(c.Request().URL.Path, snap)
			if !d.Allow {
				return c.Redirect(http.StatusFound, d.RedirectTo)
			}
			return next(c)
		}
	}
}
