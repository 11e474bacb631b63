package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/domain/channel"
	"github.com/carebridge/portal/internal/domain/otp"
	"github.com/carebridge/portal/internal/platform/provider"
)

// DefaultCookieName is the gateway's browser-session cookie.
const DefaultCookieName = "cb_session"

// DefaultIdleTTL is how long an untouched browser session survives
// before the sweeper closes it.
const DefaultIdleTTL = 12 * time.Hour

// Bundle groups one browser session's reconciler with its channel
// stores. Each browser gets its own provider client, mirroring how a
// hosted-platform SDK instance lives per client.
type Bundle struct {
	Client     provider.Client
	Reconciler *Reconciler
	Password   *channel.PasswordStore
	OTPPhone   *channel.OTPStore
	OTPEmail   *channel.OTPStore

	// Stream is the provider's server-push event stream, when one is
	// attached. The bundle owns it and closes it on teardown.
	Stream interface{ Close() }
}

// Close tears the bundle down, releasing the provider subscription.
func (b *Bundle) Close() {
	b.OTPPhone.ResetChallenge()
	b.OTPEmail.ResetChallenge()
	if b.Stream != nil {
		b.Stream.Close()
	}
	b.Reconciler.Close()
}

type entry struct {
	bundle   *Bundle
	lastSeen time.Time
}

// Factory builds a fresh bundle for a new browser session.
type Factory func() *Bundle

// Manager keys reconciler bundles by the gateway session cookie,
// creating them lazily and sweeping idle ones.
type Manager struct {
	factory    Factory
	cookieName string
	idleTTL    time.Duration
	secure     bool
	log        zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	sweepOnce sync.Once
	sweepStop chan struct{}
}

// ManagerConfig configures a Manager. Zero values fall back to the
// package defaults.
type ManagerConfig struct {
	CookieName   string
	IdleTTL      time.Duration
	SecureCookie bool
}

// NewManager builds a Manager around the bundle factory.
func NewManager(factory Factory, cfg ManagerConfig, log zerolog.Logger) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Manager{
		factory:    factory,
		cookieName: cfg.CookieName,
		idleTTL:    cfg.IdleTTL,
		secure:     cfg.SecureCookie,
		log:        log.With().Str("component", "session_manager").Logger(),
		entries:    make(map[string]*entry),
		sweepStop:  make(chan struct{}),
	}
}

// Acquire returns the bundle for the request's browser session,
// creating one (and setting the cookie) when none exists yet.
func (m *Manager) Acquire(c echo.Context) (*Bundle, string) {
	id := ""
	if ck, err := c.Cookie(m.cookieName); err == nil && ck.Value != "" {
		id = ck.Value
	}

	m.mu.Lock()
	if id != "" {
		if e, ok := m.entries[id]; ok {
			e.lastSeen = time.Now()
			m.mu.Unlock()
			return e.bundle, id
		}
	}

	id = uuid.NewString()
	bundle := m.factory()
	m.entries[id] = &entry{bundle: bundle, lastSeen: time.Now()}
	m.mu.Unlock()

	bundle.Reconciler.Start(context.Background())

	c.SetCookie(&http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return bundle, id
}

// Peek returns the existing bundle for the request, or nil without
// creating one.
func (m *Manager) Peek(c echo.Context) *Bundle {
	ck, err := c.Cookie(m.cookieName)
	if err != nil || ck.Value == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[ck.Value]; ok {
		e.lastSeen = time.Now()
		return e.bundle
	}
	return nil
}

// Remove closes and forgets a browser session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	delete(m.entries, id)
	m.mu.Unlock()
	if ok {
		e.bundle.Close()
	}
}

// StartSweeper launches the idle-session sweeper. Stopped by Close.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-m.sweepStop:
					return
				case <-ticker.C:
					m.sweep()
				}
			}
		}()
	})
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*Bundle
	for id, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.bundle)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, b := range expired {
		b.Close()
	}
	if len(expired) > 0 {
		m.log.Info().Int("count", len(expired)).Msg("swept idle browser sessions")
	}
}

// Len reports how many browser sessions are live.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// PasswordStore resolves the request's password-channel store,
// creating the browser session when needed. Satisfies the channel
// handler's resolver contract.
func (m *Manager) PasswordStore(c echo.Context) *channel.PasswordStore {
	b, _ := m.Acquire(c)
	return b.Password
}

// OTPStore resolves the request's one-time-code store for ch.
func (m *Manager) OTPStore(c echo.Context, ch otp.Channel) *channel.OTPStore {
	b, _ := m.Acquire(c)
	if ch == otp.ChannelPhone {
		return b.OTPPhone
	}
	return b.OTPEmail
}

// Close stops the sweeper and closes every bundle.
func (m *Manager) Close() {
	close(m.sweepStop)

	m.mu.Lock()
	bundles := make([]*Bundle, 0, len(m.entries))
	for _, e := range m.entries {
		bundles = append(bundles, e.bundle)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, b := range bundles {
		b.Close()
	}
}
