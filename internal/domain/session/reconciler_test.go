package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/domain/channel"
	"github.com/carebridge/portal/internal/domain/otp"
	"github.com/carebridge/portal/internal/domain/profile"
	"github.com/carebridge/portal/internal/platform/provider"
)

// fakeProvider records the session-change callback so tests can feed
// notifications directly.
type fakeProvider struct {
	provider.Client

	mu          sync.Mutex
	session     *provider.Session
	getErr      error
	getGate     chan struct{} // when set, GetSession blocks until closed
	fn          func(provider.Event)
	unsubs      int
	signOuts    int
	metaUpdates []map[string]any
}

func (f *fakeProvider) UpdateIdentityMetadata(ctx context.Context, fields map[string]any) error {
	f.mu.Lock()
	f.metaUpdates = append(f.metaUpdates, fields)
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	f.emit(provider.Event{Type: provider.EventSignedOut})
	return nil
}

func (f *fakeProvider) GetSession(ctx context.Context) (*provider.Session, error) {
	f.mu.Lock()
	gate := f.getGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeProvider) OnSessionChange(fn func(provider.Event)) provider.Subscription {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return fakeSub{f}
}

func (f *fakeProvider) emit(ev provider.Event) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

type fakeSub struct{ f *fakeProvider }

func (s fakeSub) Unsubscribe() {
	s.f.mu.Lock()
	s.f.unsubs++
	s.f.mu.Unlock()
}

// memRepo is an in-memory profile repository.
type memRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*profile.Profile
	gets int
}

func newMemRepo() *memRepo { return &memRepo{rows: make(map[uuid.UUID]*profile.Profile)} }

func (r *memRepo) GetByIdentityID(ctx context.Context, id uuid.UUID) (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if p, ok := r.rows[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, profile.ErrNotFound
}

func (r *memRepo) Insert(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.IdentityID]; !ok {
		cp := *p
		r.rows[p.IdentityID] = &cp
	}
	return nil
}

func (r *memRepo) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok {
		if name, ok := fields["full_name"].(string); ok {
			p.FullName = name
		}
	}
	return nil
}

type fixture struct {
	provider *fakeProvider
	repo     *memRepo
	rec      *Reconciler
	snaps    chan Snapshot
}

func newFixture(t *testing.T, sess *provider.Session) *fixture {
	t.Helper()
	fp := &fakeProvider{session: sess}
	repo := newMemRepo()
	log := zerolog.New(io.Discard)

	password := channel.NewPasswordStore(fp)
	otpPhone := channel.NewOTPStore(fp, otp.ChannelPhone, otp.NewChallenge(fp, otp.ChannelPhone, 0), nil)
	otpEmail := channel.NewOTPStore(fp, otp.ChannelEmail, otp.NewChallenge(fp, otp.ChannelEmail, 0), nil)

	rec := New(fp, password, otpPhone, otpEmail, profile.NewService(repo, log), log)
	t.Cleanup(rec.Close)

	f := &fixture{provider: fp, repo: repo, rec: rec, snaps: make(chan Snapshot, 16)}
	rec.OnChange(func(s Snapshot) { f.snaps <- s })
	return f
}

func (f *fixture) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-f.snaps:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reconciliation")
		return Snapshot{}
	}
}

func passwordSession(id uuid.UUID) *provider.Session {
	return &provider.Session{
		AccessToken: "at",
		ExpiresAt:   time.Now().Add(time.Hour),
		Method:      provider.MethodPassword,
		User: provider.User{
			ID:           id.String(),
			Email:        "pat@example.com",
			UserMetadata: map[string]any{"role": "patient", "full_name": "Pat Doe"},
		},
	}
}

func TestReconciler_BootstrapWithSession(t *testing.T) {
	id := uuid.New()
	f := newFixture(t, passwordSession(id))

	if !f.rec.Snapshot().Bootstrapping {
		t.Error("pre-start snapshot must report bootstrapping")
	}

	f.rec.Start(context.Background())
	snap := f.next(t)

	if snap.Bootstrapping {
		t.Error("bootstrap snapshot must clear the flag")
	}
	if snap.ActiveChannel != channel.Password {
		t.Errorf("expected password channel, got %q", snap.ActiveChannel)
	}
	if !snap.Authenticated() || snap.Identity.ID != id {
		t.Errorf("expected identity %s, got %+v", id, snap.Identity)
	}
	if snap.Profile == nil || snap.Profile.FullName != "Pat Doe" {
		t.Errorf("expected auto-provisioned profile, got %+v", snap.Profile)
	}
	if snap.Role() != "patient" {
		t.Errorf("expected patient role, got %q", snap.Role())
	}
}

func TestReconciler_BootstrapWithoutSession(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.Start(context.Background())
	snap := f.next(t)

	if snap.Authenticated() {
		t.Error("expected unauthenticated snapshot")
	}
	if snap.ActiveChannel != channel.None {
		t.Errorf("expected no active channel, got %q", snap.ActiveChannel)
	}
	if snap.Role() != "" {
		t.Errorf("expected empty role, got %q", snap.Role())
	}
}

func TestReconciler_QueuesEventsDuringBootstrap(t *testing.T) {
	id := uuid.New()
	f := newFixture(t, passwordSession(id))
	gate := make(chan struct{})
	f.provider.getGate = gate

	f.rec.Start(context.Background())

	// The bootstrap is parked on the provider fetch; these arrive in
	// the meantime and must wait their turn.
	f.provider.emit(provider.Event{Type: provider.EventTokenRefreshed, Session: passwordSession(id)})
	f.provider.emit(provider.Event{Type: provider.EventSignedOut})

	if snap := f.rec.Snapshot(); !snap.Bootstrapping {
		t.Fatal("queued notifications must not reconcile ahead of the bootstrap")
	}

	close(gate)

	first := f.next(t)
	if first.Bootstrapping || !first.Authenticated() {
		t.Fatalf("expected the bootstrap result first, got %+v", first)
	}
	f.repo.mu.Lock()
	getsAfterBootstrap := f.repo.gets
	f.repo.mu.Unlock()

	second := f.next(t)
	if !second.Authenticated() || second.ActiveChannel != channel.Password {
		t.Fatalf("expected the queued refresh second, got %+v", second)
	}
	third := f.next(t)
	if third.Authenticated() {
		t.Fatalf("expected the queued sign-out last, got %+v", third)
	}

	// The refresh carried the identity the bootstrap already resolved,
	// so it reuses the attached profile instead of re-fetching.
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	if f.repo.gets != getsAfterBootstrap {
		t.Errorf("queued refresh must not re-fetch the profile (%d -> %d)",
			getsAfterBootstrap, f.repo.gets)
	}
}

func TestReconciler_ChannelExclusivity(t *testing.T) {
	id := uuid.New()
	f := newFixture(t, passwordSession(id))
	f.rec.Start(context.Background())
	f.next(t)

	if f.rec.password.Identity() == nil {
		t.Fatal("password store should hold the identity after bootstrap")
	}

	// A second sign-in over the phone channel must displace the first
	otpSess := &provider.Session{
		AccessToken: "at2",
		ExpiresAt:   time.Now().Add(time.Hour),
		Method:      provider.MethodOTPPhone,
		User: provider.User{
			ID:           id.String(),
			Phone:        "+15551230000",
			UserMetadata: map[string]any{"role": "patient"},
		},
	}
	f.provider.emit(provider.Event{Type: provider.EventSignedIn, Session: otpSess})
	snap := f.next(t)

	if snap.ActiveChannel != channel.OTPPhone {
		t.Fatalf("expected otp_phone channel, got %q", snap.ActiveChannel)
	}
	if f.rec.password.Identity() != nil {
		t.Error("password store must be cleared when another channel wins")
	}
	if f.rec.otpPhone.Identity() == nil {
		t.Error("otp phone store must hold the identity")
	}
}

func TestReconciler_SignedOutClearsAll(t *testing.T) {
	id := uuid.New()
	f := newFixture(t, passwordSession(id))
	f.rec.Start(context.Background())
	f.next(t)

	f.provider.emit(provider.Event{Type: provider.EventSignedOut})
	snap := f.next(t)

	if snap.Authenticated() {
		t.Error("expected unauthenticated snapshot after sign-out")
	}
	for _, st := range f.rec.stores() {
		if st.Identity() != nil || st.Profile() != nil {
			t.Errorf("store %q not cleared", st.Name())
		}
	}
}

func TestReconciler_RejectsInvalidMetadata(t *testing.T) {
	id := uuid.New()
	f := newFixture(t, passwordSession(id))
	f.rec.Start(context.Background())
	f.next(t)

	bad := passwordSession(id)
	bad.User.UserMetadata = map[string]any{"role": "superuser"}
	f.provider.emit(provider.Event{Type: provider.EventSignedIn, Session: bad})
	snap := f.next(t)

	// An identity that cannot be routed clears the session rather than
	// guessing a role
	if snap.Authenticated() {
		t.Error("expected the invalid identity to be rejected")
	}
	if f.rec.password.Identity() != nil {
		t.Error("previous identity must not survive an invalid one")
	}
}

func TestReconciler_TokenRefreshReusesProfile(t *testing.T) {
	id := uuid.New()
	f := newFixture(t, passwordSession(id))
	f.rec.Start(context.Background())
	f.next(t)

	f.repo.mu.Lock()
	getsAfterBootstrap := f.repo.gets
	f.repo.mu.Unlock()

	f.provider.emit(provider.Event{Type: provider.EventTokenRefreshed, Session: passwordSession(id)})
	snap := f.next(t)

	if snap.Profile == nil {
		t.Fatal("refresh must keep the profile")
	}
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	if f.repo.gets != getsAfterBootstrap {
		t.Errorf("refresh for the same identity must not re-fetch the profile (%d -> %d)",
			getsAfterBootstrap, f.repo.gets)
	}
}

func TestReconciler_BootstrapFetchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.getErr = provider.NewAuthError(provider.KindProviderUnavailable, "down", nil)
	f.rec.Start(context.Background())
	snap := f.next(t)

	// The portal still comes up, just signed out
	if snap.Bootstrapping || snap.Authenticated() {
		t.Errorf("expected a settled unauthenticated snapshot, got %+v", snap)
	}
}

func TestReconciler_CloseReleasesSubscription(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.Start(context.Background())
	f.next(t)

	f.rec.Close()
	f.rec.Close() // idempotent

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if f.provider.unsubs != 1 {
		t.Errorf("expected exactly one unsubscribe, got %d", f.provider.unsubs)
	}
}

func TestReconciler_StartCloseConcurrent(t *testing.T) {
	// The manager's sweeper can close a bundle while a handler is still
	// starting it; neither outcome may hang or double-release.
	log := zerolog.New(io.Discard)
	for i := 0; i < 50; i++ {
		fp := &fakeProvider{}
		password := channel.NewPasswordStore(fp)
		otpPhone := channel.NewOTPStore(fp, otp.ChannelPhone, otp.NewChallenge(fp, otp.ChannelPhone, 0), nil)
		otpEmail := channel.NewOTPStore(fp, otp.ChannelEmail, otp.NewChallenge(fp, otp.ChannelEmail, 0), nil)
		rec := New(fp, password, otpPhone, otpEmail, profile.NewService(newMemRepo(), log), log)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); rec.Start(context.Background()) }()
		go func() { defer wg.Done(); rec.Close() }()
		wg.Wait()
		rec.Close()

		fp.mu.Lock()
		if fp.unsubs > 1 {
			t.Fatalf("subscription released %d times", fp.unsubs)
		}
		fp.mu.Unlock()
	}
}

func TestReconciler_StartAfterCloseIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	f.rec.Close()
	f.rec.Start(context.Background())

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	if f.provider.fn != nil {
		t.Error("a closed reconciler must not subscribe")
	}
}
