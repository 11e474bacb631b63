package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the root of the hosted auth API, e.g.
	// https://project.example.com/auth/v1.
	BaseURL string
	// APIKey is sent as the apikey header on every request.
	APIKey string
	// OAuthProviders maps provider names ("google", "azure") to their
	// authorization-code endpoints. Client credentials stay with the
	// hosted platform; the portal only builds the authorize URL.
	OAuthProviders map[string]oauth2.Endpoint
	// Verifier checks provider-issued access tokens when set. Verified
	// claims take precedence over the response body for the sign-in
	// method (the token's amr entries are authoritative).
	Verifier *TokenVerifier
	// HTTPClient overrides the default client (10s timeout) when set.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPClient talks to a hosted GoTrue-style auth API. It owns the
// current session for one portal browser session and fans session-change
// events out to subscribers, the way hosted-platform SDKs do: events are
// emitted locally when the client's own calls change auth state, and
// remote events may be attached via a websocket stream (see stream.go).
type HTTPClient struct {
	cfg  HTTPConfig
	http *http.Client
	log  zerolog.Logger

	mu      sync.Mutex
	session *Session

	lmu       sync.RWMutex
	listeners map[int]func(Event)
	nextID    int
}

// NewHTTPClient builds a client for the given hosted auth API.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		cfg:       cfg,
		http:      hc,
		log:       cfg.Logger.With().Str("component", "provider").Logger(),
		listeners: make(map[int]func(Event)),
	}
}

// -- session-change subscription --

type httpSubscription struct {
	once   sync.Once
	cancel func()
}

func (s *httpSubscription) Unsubscribe() { s.once.Do(s.cancel) }

// OnSessionChange registers fn for session-change events and returns the
// handle that releases the registration. Events are delivered
// synchronously in registration order.
func (c *HTTPClient) OnSessionChange(fn func(Event)) Subscription {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return &httpSubscription{cancel: func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}}
}

func (c *HTTPClient) emit(ev Event) {
	c.lmu.RLock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *HTTPClient) setSession(s *Session, ev EventType) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.emit(Event{Type: ev, Session: s})
}

// -- password channel --

func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var out tokenResponse
	err := c.post(ctx, "/token?grant_type=password", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	if err != nil {
		return nil, err
	}
	sess, err := c.sessionFrom(&out, MethodPassword)
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventSignedIn)
	return sess, nil
}

func (c *HTTPClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	var out tokenResponse
	err := c.post(ctx, "/signup", map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}, &out, "")
	if err != nil {
		return nil, err
	}
	// Providers requiring email confirmation return a user without
	// tokens; no session exists until the address is confirmed.
	if out.AccessToken == "" {
		return nil, nil
	}
	sess, err := c.sessionFrom(&out, MethodPassword)
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventSignedIn)
	return sess, nil
}

func (c *HTTPClient) ResetPasswordForEmail(ctx context.Context, email string) error {
	return c.post(ctx, "/recover", map[string]any{"email": email}, nil, "")
}

func (c *HTTPClient) ResendVerificationEmail(ctx context.Context, email string) error {
	return c.post(ctx, "/resend", map[string]any{"type": "signup", "email": email}, nil, "")
}

// OAuthAuthorizeURL builds the authorization-code URL for an external
// OAuth provider. The grant differs but the resulting session comes back
// through the same provider callback as password sign-in.
func (c *HTTPClient) OAuthAuthorizeURL(providerName, redirectURI, state string) (string, error) {
	ep, ok := c.cfg.OAuthProviders[providerName]
	if !ok {
		return "", NewAuthError(KindUnknown, fmt.Sprintf("unknown oauth provider %q", providerName), nil)
	}
	conf := &oauth2.Config{
		ClientID:    c.cfg.APIKey,
		Endpoint:    ep,
		RedirectURL: redirectURI,
		Scopes:      []string{"openid", "email", "profile"},
	}
	return conf.AuthCodeURL(state), nil
}

// -- one-time-code channel --

func (c *HTTPClient) SendOneTimeCode(ctx context.Context, ch CodeChannel, destination string, metadata map[string]any) error {
	body := map[string]any{"data": metadata}
	if ch == ChannelPhone {
		body["phone"] = destination
	} else {
		body["email"] = destination
	}
	return c.post(ctx, "/otp", body, nil, "")
}

func (c *HTTPClient) VerifyOneTimeCode(ctx context.Context, ch CodeChannel, destination, code string) (*Session, error) {
	body := map[string]any{"token": code}
	if ch == ChannelPhone {
		body["phone"] = destination
		body["type"] = "sms"
	} else {
		body["email"] = destination
		body["type"] = "email"
	}
	var out tokenResponse
	if err := c.post(ctx, "/verify", body, &out, ""); err != nil {
		return nil, err
	}
	sess, err := c.sessionFrom(&out, MethodForChannel(ch))
	if err != nil {
		return nil, err
	}
	c.setSession(sess, EventSignedIn)
	return sess, nil
}

// -- session lifecycle --

// GetSession returns the current session, refreshing it through the
// refresh-token grant when the access token has expired. It returns
// (nil, nil) when no session exists.
func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if !sess.Expired(time.Now()) {
		return sess, nil
	}

	var out tokenResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", map[string]any{
		"refresh_token": sess.RefreshToken,
	}, &out, "")
	if err != nil {
		// A rejected refresh token means the provider no longer
		// recognizes the session.
		if KindOf(err) == KindInvalidCredentials {
			c.setSession(nil, EventSignedOut)
			return nil, nil
		}
		return nil, err
	}
	refreshed, err := c.sessionFrom(&out, sess.Method)
	if err != nil {
		return nil, err
	}
	c.setSession(refreshed, EventTokenRefreshed)
	return refreshed, nil
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	token := ""
	if sess != nil {
		token = sess.AccessToken
	}
	err := c.post(ctx, "/logout", nil, nil, token)
	// Local state is cleared even when the revocation call fails; the
	// user asked to be signed out and the tokens will age out remotely.
	c.setSession(nil, EventSignedOut)
	if err != nil && KindOf(err) != KindInvalidCredentials {
		return err
	}
	return nil
}

func (c *HTTPClient) UpdateIdentityMetadata(ctx context.Context, fields map[string]any) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return NewAuthError(KindInvalidCredentials, "no active session", nil)
	}

	var out struct {
		User User `json:"user"`
	}
	if err := c.put(ctx, "/user", map[string]any{"data": fields}, &out, sess.AccessToken); err != nil {
		return err
	}

	c.mu.Lock()
	updated := *sess
	if out.User.ID != "" {
		updated.User = out.User
	}
	c.session = &updated
	c.mu.Unlock()
	c.emit(Event{Type: EventUserUpdated, Session: &updated})
	return nil
}

// restoreSession seeds the client with a previously issued session,
// used when a stream event or persisted state carries tokens.
func (c *HTTPClient) restoreSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// -- transport --

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

func (t *tokenResponse) session(m Method) *Session {
	return &Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(t.ExpiresIn) * time.Second),
		Method:       m,
		User:         t.User,
	}
}

// sessionFrom builds a Session from a token response. When a verifier is
// configured the access token must validate, and the token's amr claims
// override the fallback method.
func (c *HTTPClient) sessionFrom(t *tokenResponse, fallback Method) (*Session, error) {
	sess := t.session(fallback)
	if c.cfg.Verifier == nil {
		return sess, nil
	}

	claims, err := c.cfg.Verifier.Verify(t.AccessToken)
	if err != nil {
		return nil, NewAuthError(KindUnknown, "access token failed verification", err)
	}
	if m := claims.SessionMethod(); m != "" {
		sess.Method = m
	}
	if sess.User.Email == "" {
		sess.User.Email = claims.Email
	}
	if sess.User.Phone == "" {
		sess.User.Phone = claims.Phone
	}
	if sess.User.ID == "" {
		sess.User.ID = claims.Subject
	}
	if len(sess.User.UserMetadata) == 0 && len(claims.UserMetadata) > 0 {
		sess.User.UserMetadata = claims.UserMetadata
	}
	return sess, nil
}

type apiError struct {
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Code             any    `json:"code"`
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any, bearer string) error {
	return c.do(ctx, http.MethodPost, path, body, out, bearer)
}

func (c *HTTPClient) put(ctx context.Context, path string, body any, out any, bearer string) error {
	return c.do(ctx, http.MethodPut, path, body, out, bearer)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any, bearer string) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return NewAuthError(KindUnknown, "encode request", err)
		}
		payload = bytes.NewReader(buf)
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return NewAuthError(KindUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewAuthError(KindProviderUnavailable, "decode response", err)
	}
	return nil
}

func (c *HTTPClient) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var ae apiError
	if err := json.Unmarshal(raw, &ae); err != nil {
		c.log.Debug().Int("status", resp.StatusCode).Msg("undecodable provider error body")
		return classify(resp.StatusCode, "", http.StatusText(resp.StatusCode))
	}

	code := ae.ErrorCode
	if code == "" {
		code = ae.Error
	}
	if code == "" {
		if s, ok := ae.Code.(string); ok {
			code = s
		}
	}
	desc := ae.ErrorDescription
	if desc == "" {
		desc = ae.Msg
	}
	if desc == "" {
		desc = ae.Error
	}
	return classify(resp.StatusCode, code, desc)
}

var _ Client = (*HTTPClient)(nil)
