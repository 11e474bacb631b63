package channel

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/carebridge/portal/internal/domain/identity"
	"github.com/carebridge/portal/internal/domain/otp"
	"github.com/carebridge/portal/internal/platform/provider"
)

// BundleResolver gives the handler access to the request's channel
// stores without importing the session package (which imports this
// one).
type BundleResolver interface {
	PasswordStore(c echo.Context) *PasswordStore
	OTPStore(c echo.Context, ch otp.Channel) *OTPStore
}

// Handler exposes the channel operations to the portal UI.
type Handler struct {
	resolver BundleResolver
}

func NewHandler(resolver BundleResolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/password/signin", h.PasswordSignIn)
	api.POST("/auth/password/signup", h.PasswordSignUp)
	api.POST("/auth/password/reset", h.PasswordReset)
	api.POST("/auth/password/resend-verification", h.ResendVerification)
	api.GET("/auth/oauth/:provider/url", h.OAuthURL)
	api.POST("/auth/otp/:channel/send", h.OTPSend)
	api.POST("/auth/otp/:channel/verify", h.OTPVerify)
	api.POST("/auth/otp/:channel/resend", h.OTPResend)
	api.POST("/auth/otp/:channel/reset", h.OTPReset)
}

type passwordCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type otpSendRequest struct {
	Destination string `json:"destination"`
	FullName    string `json:"full_name"`
	Role        string `json:"role"`
}

type otpVerifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) PasswordSignIn(c echo.Context) error {
	var req passwordCredentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	store := h.resolver.PasswordStore(c)
	if _, err := store.SignIn(c.Request().Context(), req.Email, req.Password); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PasswordSignUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	store := h.resolver.PasswordStore(c)
	sess, err := store.SignUp(c.Request().Context(), req.Email, req.Password, map[string]any{
		"full_name": req.FullName,
		"role":      role.String(),
	})
	if err != nil {
		return httpError(c, err)
	}
	if sess == nil {
		// Confirmation required before a session exists.
		return c.JSON(http.StatusAccepted, map[string]string{"status": "confirmation_sent"})
	}
	return c.NoContent(http.StatusCreated)
}

func (h *Handler) PasswordReset(c echo.Context) error {
	var req passwordCredentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if err := h.resolver.PasswordStore(c).ResetPassword(c.Request().Context(), req.Email); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResendVerification(c echo.Context) error {
	var req passwordCredentials
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if err := h.resolver.PasswordStore(c).ResendVerification(c.Request().Context(), req.Email); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) OAuthURL(c echo.Context) error {
	providerName := c.Param("provider")
	redirectURI := c.QueryParam("redirect_uri")
	state := c.QueryParam("state")
	if redirectURI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "redirect_uri is required")
	}

	u, err := h.resolver.PasswordStore(c).OAuthSignInURL(providerName, redirectURI, state)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": u})
}

func (h *Handler) OTPSend(c echo.Context) error {
	store, err := h.otpStore(c)
	if err != nil {
		return err
	}
	var req otpSendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Destination == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "destination is required")
	}

	metadata := map[string]any{}
	if req.FullName != "" {
		metadata["full_name"] = req.FullName
	}
	if req.Role != "" {
		role, err := identity.ParseRole(req.Role)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		metadata["role"] = role.String()
	}

	if err := store.SendCode(c.Request().Context(), req.Destination, metadata); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) OTPVerify(c echo.Context) error {
	store, err := h.otpStore(c)
	if err != nil {
		return err
	}
	var req otpVerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	if _, err := store.VerifyCode(c.Request().Context(), req.Code); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) OTPResend(c echo.Context) error {
	store, err := h.otpStore(c)
	if err != nil {
		return err
	}
	if err := store.ResendCode(c.Request().Context()); err != nil {
		if provider.KindOf(err) == provider.KindRateLimited {
			if retry := store.ResendRetryAfter(c.Request().Context()); retry > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
			}
		}
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) OTPReset(c echo.Context) error {
	store, err := h.otpStore(c)
	if err != nil {
		return err
	}
	store.ResetChallenge()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) otpStore(c echo.Context) (*OTPStore, error) {
	switch c.Param("channel") {
	case "phone":
		return h.resolver.OTPStore(c, otp.ChannelPhone), nil
	case "email":
		return h.resolver.OTPStore(c, otp.ChannelEmail), nil
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, "channel must be phone or email")
	}
}

// httpError maps channel-store failures onto HTTP statuses. Every
// outcome is a structured payload the UI shows as a single
// notification; nothing here is fatal to the portal.
func httpError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	kind := provider.KindOf(err)

	switch {
	case errors.Is(err, otp.ErrNotSent), errors.Is(err, otp.ErrAlreadySent),
		errors.Is(err, otp.ErrVerifyInFlight), errors.Is(err, otp.ErrReset):
		status = http.StatusConflict
		kind = "challenge_state"
	case errors.Is(err, otp.ErrCodeExpired):
		status = http.StatusBadRequest
		kind = provider.KindInvalidOrExpiredCode
	case kind == provider.KindInvalidCredentials:
		status = http.StatusUnauthorized
	case kind == provider.KindEmailOrPhoneNotConfirmed:
		status = http.StatusForbidden
	case kind == provider.KindRateLimited:
		status = http.StatusTooManyRequests
	case kind == provider.KindInvalidOrExpiredCode:
		status = http.StatusBadRequest
	case kind == provider.KindProviderUnavailable:
		status = http.StatusBadGateway
	}

	return c.JSON(status, map[string]string{
		"kind":    string(kind),
		"message": err.Error(),
	})
}
