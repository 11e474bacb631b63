package redirect

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// Handler terminates provider redirect flows. Browsers do not send
// fragments to servers, so the SPA's callback shim relays
// location.hash in the `fragment` query parameter; everything after
// that point is server-side and testable.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/callback", h.Callback)
	e.GET(ErrorRoute, h.ErrorPage)
}

// Callback inspects the relayed fragment and performs the one-time
// redirect to the error route when the provider reported an error.
// Clean callbacks continue to the portal landing page.
func (h *Handler) Callback(c echo.Context) error {
	u := &url.URL{
		Path:     "/auth/callback",
		Fragment: c.QueryParam("fragment"),
	}
	if target, ok := Inspect(u); ok {
		return c.Redirect(http.StatusFound, target)
	}
	return c.Redirect(http.StatusFound, "/")
}

// ErrorPage renders the normalized provider error. Malformed or absent
// parameters degrade to a generic error payload; navigation is never
// blocked.
func (h *Handler) ErrorPage(c echo.Context) error {
	p := Params{
		Error:       c.QueryParam("error"),
		Code:        c.QueryParam("error_code"),
		Description: c.QueryParam("error_description"),
	}
	if p.Error == "" {
		p.Error = "unknown_error"
	}
	return c.JSON(http.StatusOK, p)
}
