package session

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/domain/channel"
	"github.com/carebridge/portal/internal/domain/otp"
)

type closeRecorder struct{ closed int }

func (c *closeRecorder) Close() { c.closed++ }

func newTestFactory() (Factory, *fakeProvider) {
	fp := &fakeProvider{}
	return func() *Bundle {
		password := channel.NewPasswordStore(fp)
		otpPhone := channel.NewOTPStore(fp, otp.ChannelPhone, otp.NewChallenge(fp, otp.ChannelPhone, 0), nil)
		otpEmail := channel.NewOTPStore(fp, otp.ChannelEmail, otp.NewChallenge(fp, otp.ChannelEmail, 0), nil)
		return &Bundle{
			Client:     fp,
			Reconciler: New(fp, password, otpPhone, otpEmail, nil, zerolog.New(io.Discard)),
			Password:   password,
			OTPPhone:   otpPhone,
			OTPEmail:   otpEmail,
		}
	}, fp
}

func ctxWithCookies(e *echo.Echo, cookies []*http.Cookie) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestManager_AcquireCreatesAndReuses(t *testing.T) {
	factory, _ := newTestFactory()
	m := NewManager(factory, ManagerConfig{}, zerolog.New(io.Discard))
	t.Cleanup(m.Close)
	e := echo.New()

	c1, rec1 := ctxWithCookies(e, nil)
	b1, id1 := m.Acquire(c1)
	if b1 == nil || id1 == "" {
		t.Fatal("expected a fresh bundle and id")
	}

	cookies := rec1.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName || cookies[0].Value != id1 {
		t.Fatalf("expected the %s cookie to be set, got %+v", DefaultCookieName, cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie must be http-only")
	}
	if m.Len() != 1 {
		t.Errorf("expected one live session, got %d", m.Len())
	}

	// The same cookie resolves to the same bundle
	c2, rec2 := ctxWithCookies(e, cookies)
	b2, id2 := m.Acquire(c2)
	if b2 != b1 || id2 != id1 {
		t.Error("expected the existing bundle to be reused")
	}
	if len(rec2.Result().Cookies()) != 0 {
		t.Error("reuse must not reissue the cookie")
	}
}

func TestManager_UnknownCookieGetsFreshBundle(t *testing.T) {
	factory, _ := newTestFactory()
	m := NewManager(factory, ManagerConfig{}, zerolog.New(io.Discard))
	t.Cleanup(m.Close)
	e := echo.New()

	// A cookie from before a gateway restart no longer maps to a bundle
	c, rec := ctxWithCookies(e, []*http.Cookie{{Name: DefaultCookieName, Value: "stale-id"}})
	b, id := m.Acquire(c)
	if b == nil || id == "stale-id" {
		t.Error("expected a fresh bundle under a fresh id")
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("expected the replacement cookie to be set")
	}
}

func TestManager_Peek(t *testing.T) {
	factory, _ := newTestFactory()
	m := NewManager(factory, ManagerConfig{}, zerolog.New(io.Discard))
	t.Cleanup(m.Close)
	e := echo.New()

	c, _ := ctxWithCookies(e, nil)
	if m.Peek(c) != nil {
		t.Error("peek without a cookie must not create a session")
	}
	if m.Len() != 0 {
		t.Errorf("peek must not create entries, got %d", m.Len())
	}

	c1, rec1 := ctxWithCookies(e, nil)
	b, _ := m.Acquire(c1)

	c2, _ := ctxWithCookies(e, rec1.Result().Cookies())
	if m.Peek(c2) != b {
		t.Error("peek with the cookie must return the bundle")
	}
}

func TestManager_RemoveClosesBundle(t *testing.T) {
	factory, fp := newTestFactory()
	stream := &closeRecorder{}
	m := NewManager(func() *Bundle {
		b := factory()
		b.Stream = stream
		return b
	}, ManagerConfig{}, zerolog.New(io.Discard))
	t.Cleanup(m.Close)
	e := echo.New()

	c, _ := ctxWithCookies(e, nil)
	_, id := m.Acquire(c)

	m.Remove(id)
	if m.Len() != 0 {
		t.Errorf("expected zero live sessions, got %d", m.Len())
	}
	if stream.closed != 1 {
		t.Errorf("teardown must close the event stream, got %d closes", stream.closed)
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.unsubs != 1 {
		t.Errorf("teardown must release the provider subscription, got %d", fp.unsubs)
	}

	m.Remove(id) // already gone; no panic
}

func TestManager_SweepClosesIdleSessions(t *testing.T) {
	factory, _ := newTestFactory()
	m := NewManager(factory, ManagerConfig{IdleTTL: time.Hour}, zerolog.New(io.Discard))
	t.Cleanup(m.Close)
	e := echo.New()

	c1, rec1 := ctxWithCookies(e, nil)
	m.Acquire(c1)
	c2, _ := ctxWithCookies(e, nil)
	_, idleID := m.Acquire(c2)

	// Backdate the second session past the idle cutoff
	m.mu.Lock()
	m.entries[idleID].lastSeen = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	m.sweep()
	if m.Len() != 1 {
		t.Errorf("expected the idle session to be swept, got %d live", m.Len())
	}

	// The surviving session is still resolvable
	c3, _ := ctxWithCookies(e, rec1.Result().Cookies())
	if m.Peek(c3) == nil {
		t.Error("active session must survive the sweep")
	}
}

func TestManager_ResolverContract(t *testing.T) {
	factory, _ := newTestFactory()
	m := NewManager(factory, ManagerConfig{}, zerolog.New(io.Discard))
	t.Cleanup(m.Close)

	var _ channel.BundleResolver = m

	e := echo.New()
	c, rec := ctxWithCookies(e, nil)
	ps := m.PasswordStore(c)
	if ps == nil {
		t.Fatal("expected a password store")
	}

	// Every resolver call on the same browser session lands on the same
	// bundle
	c2, _ := ctxWithCookies(e, rec.Result().Cookies())
	phone := m.OTPStore(c2, otp.ChannelPhone)
	email := m.OTPStore(c2, otp.ChannelEmail)
	if phone.Name() != channel.OTPPhone || email.Name() != channel.OTPEmail {
		t.Errorf("unexpected store names %q/%q", phone.Name(), email.Name())
	}
	if m.Len() != 1 {
		t.Errorf("resolver calls must share one session, got %d", m.Len())
	}
}
