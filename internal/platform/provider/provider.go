// Package provider is the boundary to the hosted identity platform. It
// exposes password and one-time-code authentication, session bootstrap,
// and an asynchronous session-change subscription, and maps every
// provider failure into a small error taxonomy before it can escape.
package provider

import (
	"context"
	"time"
)

// Method identifies which authentication channel produced a session.
type Method string

const (
	MethodPassword Method = "password"
	MethodOTPPhone Method = "otp_phone"
	MethodOTPEmail Method = "otp_email"
	MethodOAuth    Method = "oauth"
)

// CodeChannel selects the delivery channel for one-time codes.
type CodeChannel string

const (
	ChannelPhone CodeChannel = "phone"
	ChannelEmail CodeChannel = "email"
)

// MethodForChannel maps a code delivery channel to the session method it
// yields on successful verification.
func MethodForChannel(ch CodeChannel) Method {
	if ch == ChannelPhone {
		return MethodOTPPhone
	}
	return MethodOTPEmail
}

// User is the provider's view of an account. UserMetadata carries the
// portal role and display attributes; it is parsed into typed values at
// this boundary's callers, never passed through routing as-is.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
}

// Session is an authenticated provider session. Method records the
// channel that produced it so reconciliation can dispatch the identity
// to the matching channel store.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Method       Method    `json:"method"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// EventType enumerates session-change notifications.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event is delivered to session-change subscribers. Session is nil for
// EventSignedOut.
type Event struct {
	Type    EventType `json:"type"`
	Session *Session  `json:"session,omitempty"`
}

// Subscription is the scoped handle for a session-change subscription.
// Unsubscribe is idempotent and must be called on teardown.
type Subscription interface {
	Unsubscribe()
}

// Client is the capability set the portal consumes from the identity
// platform. Implementations must be safe for concurrent use.
type Client interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)
	SignOut(ctx context.Context) error
	GetSession(ctx context.Context) (*Session, error)
	OnSessionChange(fn func(Event)) Subscription
	ResetPasswordForEmail(ctx context.Context, email string) error
	ResendVerificationEmail(ctx context.Context, email string) error
	OAuthAuthorizeURL(providerName, redirectURI, state string) (string, error)
	SendOneTimeCode(ctx context.Context, ch CodeChannel, destination string, metadata map[string]any) error
	VerifyOneTimeCode(ctx context.Context, ch CodeChannel, destination, code string) (*Session, error)
	UpdateIdentityMetadata(ctx context.Context, fields map[string]any) error
}
