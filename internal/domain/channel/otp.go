package channel

import (
	"context"

	"github.com/carebridge/portal/internal/domain/otp"
	"github.com/carebridge/portal/internal/platform/provider"
)

// OTPStore is a one-time-code channel identity store, one instance per
// delivery channel. Code lifecycle is delegated to the shared challenge
// machine; resends additionally pass the gateway-level cooldown.
type OTPStore struct {
	state
	client    provider.Client
	challenge *otp.Challenge
	cooldown  *otp.Cooldown
}

// NewOTPStore builds the store for one delivery channel. cooldown may be
// nil, in which case resends are not rate limited.
func NewOTPStore(client provider.Client, ch otp.Channel, challenge *otp.Challenge, cooldown *otp.Cooldown) *OTPStore {
	name := OTPEmail
	if ch == otp.ChannelPhone {
		name = OTPPhone
	}
	return &OTPStore{
		state:     state{name: name},
		client:    client,
		challenge: challenge,
		cooldown:  cooldown,
	}
}

// SendCode issues a fresh one-time code to destination.
func (s *OTPStore) SendCode(ctx context.Context, destination string, metadata map[string]any) error {
	return s.challenge.Send(ctx, destination, metadata)
}

// VerifyCode checks the submitted code. As with password sign-in, the
// identity reaches this store via reconciliation of the SIGNED_IN
// notification the successful verification produces.
func (s *OTPStore) VerifyCode(ctx context.Context, code string) (*provider.Session, error) {
	return s.challenge.Verify(ctx, code)
}

// ResendCode reissues the outstanding code, subject to the per-
// destination cooldown.
func (s *OTPStore) ResendCode(ctx context.Context) error {
	if s.cooldown != nil {
		dest := s.challenge.Destination()
		if dest != "" && !s.cooldown.Allow(ctx, s.challenge.Channel(), dest) {
			return provider.NewAuthError(provider.KindRateLimited,
				"code was recently sent, wait before requesting another", nil)
		}
	}
	return s.challenge.Resend(ctx)
}

// ResendRetryAfter reports the remaining cooldown for the outstanding
// destination, for Retry-After headers.
func (s *OTPStore) ResendRetryAfter(ctx context.Context) int {
	if s.cooldown == nil {
		return 0
	}
	dest := s.challenge.Destination()
	if dest == "" {
		return 0
	}
	return int(s.cooldown.RetryAfter(ctx, s.challenge.Channel(), dest).Seconds())
}

// SignOut revokes the provider session, channel-agnostically.
func (s *OTPStore) SignOut(ctx context.Context) error {
	return s.client.SignOut(ctx)
}

// ResetChallenge returns the code form to its initial state, discarding
// any in-flight verification result. Used when the user navigates away.
func (s *OTPStore) ResetChallenge() {
	s.challenge.Reset()
}

// ChallengeState exposes the lifecycle state for the view layer.
func (s *OTPStore) ChallengeState() otp.State { return s.challenge.State() }

var _ Store = (*OTPStore)(nil)
