// Package otp implements the one-time-code challenge lifecycle shared by
// the phone and email channels. A challenge tracks issuance, expiry, and
// verification attempts; expiry is decided by local clock comparison
// before any provider call is attempted.
package otp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carebridge/portal/internal/platform/provider"
)

// Channel selects the code delivery channel.
type Channel = provider.CodeChannel

const (
	ChannelPhone = provider.ChannelPhone
	ChannelEmail = provider.ChannelEmail
)

// State is the challenge lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateSent      State = "sent"
	StateVerifying State = "verifying"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
)

// DefaultTTL is how long an issued code stays verifiable.
const DefaultTTL = 10 * time.Minute

var (
	// ErrNotSent is returned by Verify when no code is outstanding.
	ErrNotSent = errors.New("no code has been sent")
	// ErrAlreadySent is returned by Send when a challenge is already
	// outstanding; use Resend instead.
	ErrAlreadySent = errors.New("a code is already outstanding")
	// ErrCodeExpired is returned when the outstanding code is past its
	// expiry. No provider call is made in this case.
	ErrCodeExpired = errors.New("code expired")
	// ErrReset is returned to an in-flight Verify whose challenge was
	// reset (navigation away) before the provider answered; the result
	// has been discarded.
	ErrReset = errors.New("challenge was reset")
	// ErrVerifyInFlight is returned when a Verify call is already
	// awaiting the provider.
	ErrVerifyInFlight = errors.New("verification already in progress")
)

// Challenge is the per-channel one-time-code state machine. At most one
// challenge per channel is outstanding; Send replaces nothing and fails
// if a code is already out, Resend reissues, Reset forces Idle from any
// state.
type Challenge struct {
	client  provider.Client
	channel Channel
	ttl     time.Duration
	now     func() time.Time

	mu          sync.Mutex
	state       State
	destination string
	metadata    map[string]any
	issuedAt    time.Time
	expiresAt   time.Time
	attempts    int
	gen         uint64 // bumped by Reset so stale provider answers are discarded
}

// NewChallenge builds an idle challenge for one delivery channel. A
// non-positive ttl falls back to DefaultTTL.
func NewChallenge(client provider.Client, channel Channel, ttl time.Duration) *Challenge {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Challenge{
		client:  client,
		channel: channel,
		ttl:     ttl,
		now:     time.Now,
		state:   StateIdle,
	}
}

// Send requests a new code for destination. Allowed from Idle, Rejected,
// and Expired; a provider failure leaves the prior state untouched.
func (c *Challenge) Send(ctx context.Context, destination string, metadata map[string]any) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateRejected, StateExpired:
	case StateSent:
		c.mu.Unlock()
		return ErrAlreadySent
	default:
		c.mu.Unlock()
		return ErrVerifyInFlight
	}
	gen := c.gen
	c.mu.Unlock()

	if err := c.client.SendOneTimeCode(ctx, c.channel, destination, metadata); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrReset
	}
	now := c.now()
	c.state = StateSent
	c.destination = destination
	c.metadata = metadata
	c.issuedAt = now
	c.expiresAt = now.Add(c.ttl)
	c.attempts = 0
	return nil
}

// Resend reissues a code to the current destination. Allowed from Sent,
// Rejected, and Expired. Rate limiting is the caller's responsibility
// (see Cooldown); the machine itself enforces no interval.
func (c *Challenge) Resend(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateSent, StateRejected, StateExpired:
	case StateIdle:
		c.mu.Unlock()
		return ErrNotSent
	default:
		c.mu.Unlock()
		return ErrVerifyInFlight
	}
	destination := c.destination
	metadata := c.metadata
	gen := c.gen
	c.mu.Unlock()

	if err := c.client.SendOneTimeCode(ctx, c.channel, destination, metadata); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrReset
	}
	now := c.now()
	c.state = StateSent
	c.issuedAt = now
	c.expiresAt = now.Add(c.ttl)
	c.attempts = 0
	return nil
}

// Verify checks code against the outstanding challenge. An expired code
// fails locally without a provider round-trip. On success the machine
// yields the provider session and returns to Idle so the form can be
// reused; on rejection it returns to Sent-equivalent Rejected and the
// code may be retried.
func (c *Challenge) Verify(ctx context.Context, code string) (*provider.Session, error) {
	c.mu.Lock()
	switch c.state {
	case StateSent, StateRejected, StateExpired:
	case StateVerifying:
		c.mu.Unlock()
		return nil, ErrVerifyInFlight
	default:
		c.mu.Unlock()
		return nil, ErrNotSent
	}
	if c.now().After(c.expiresAt) {
		c.state = StateExpired
		c.mu.Unlock()
		return nil, ErrCodeExpired
	}
	destination := c.destination
	gen := c.gen
	c.state = StateVerifying
	c.attempts++
	c.mu.Unlock()

	sess, err := c.client.VerifyOneTimeCode(ctx, c.channel, destination, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// Reset while the provider call was in flight; whatever the
		// provider decided no longer belongs to this form.
		return nil, ErrReset
	}
	if err != nil {
		c.state = StateRejected
		return nil, err
	}
	c.resetLocked()
	return sess, nil
}

// Reset forces the machine back to Idle from any state and invalidates
// any in-flight verification.
func (c *Challenge) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Challenge) resetLocked() {
	c.gen++
	c.state = StateIdle
	c.destination = ""
	c.metadata = nil
	c.issuedAt = time.Time{}
	c.expiresAt = time.Time{}
	c.attempts = 0
}

// State returns the current lifecycle state.
func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Destination returns the address the outstanding code was sent to.
func (c *Challenge) Destination() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destination
}

// Attempts returns how many verification attempts the outstanding
// challenge has consumed.
func (c *Challenge) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// ExpiresAt returns the outstanding code's expiry (zero when idle).
func (c *Challenge) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

// Channel returns the delivery channel this machine serves.
func (c *Challenge) Channel() Channel { return c.channel }
