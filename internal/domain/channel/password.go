package channel

import (
	"context"

	"github.com/carebridge/portal/internal/platform/provider"
)

// PasswordStore is the password-channel identity store. Besides the
// uniform contract it exposes sign-up, password reset, verification
// resend, and the OAuth sign-in variant, all thin calls into the same
// provider primitives.
type PasswordStore struct {
	state
	client provider.Client
}

// NewPasswordStore builds the password-channel store.
func NewPasswordStore(client provider.Client) *PasswordStore {
	return &PasswordStore{
		state:  state{name: Password},
		client: client,
	}
}

// SignIn authenticates with email and password. The resulting identity
// reaches this store through reconciliation of the provider's SIGNED_IN
// notification, not by this call writing state directly.
func (s *PasswordStore) SignIn(ctx context.Context, email, password string) (*provider.Session, error) {
	return s.client.SignInWithPassword(ctx, email, password)
}

// SignUp registers a new account. The role must already be a member of
// the closed role set; it travels in the identity metadata.
func (s *PasswordStore) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
	return s.client.SignUp(ctx, email, password, metadata)
}

// SignOut revokes the provider session. The reconciler clears this
// store and its siblings when the SIGNED_OUT notification lands.
func (s *PasswordStore) SignOut(ctx context.Context) error {
	return s.client.SignOut(ctx)
}

// ResetPassword asks the provider to send a recovery email.
func (s *PasswordStore) ResetPassword(ctx context.Context, email string) error {
	return s.client.ResetPasswordForEmail(ctx, email)
}

// ResendVerification asks the provider to resend the sign-up
// confirmation email.
func (s *PasswordStore) ResendVerification(ctx context.Context, email string) error {
	return s.client.ResendVerificationEmail(ctx, email)
}

// OAuthSignInURL returns the authorization URL for an external OAuth
// provider. Same provider primitive as password sign-in, different
// grant mechanism.
func (s *PasswordStore) OAuthSignInURL(providerName, redirectURI, stateToken string) (string, error) {
	return s.client.OAuthAuthorizeURL(providerName, redirectURI, stateToken)
}

var _ Store = (*PasswordStore)(nil)
