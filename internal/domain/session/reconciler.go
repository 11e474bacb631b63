package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/portal/internal/domain/channel"
	"github.com/carebridge/portal/internal/domain/identity"
	"github.com/carebridge/portal/internal/domain/profile"
	"github.com/carebridge/portal/internal/platform/provider"
)

// eventQueueSize bounds how many provider notifications may pile up
// behind the bootstrap or a slow profile fetch before the oldest are
// coalesced away.
const eventQueueSize = 16

// applyTimeout bounds one reconciliation pass, profile round-trip
// included.
const applyTimeout = 15 * time.Second

// Reconciler merges provider session-change notifications into the
// channel stores and the published snapshot. All writes happen on a
// single goroutine: bootstrap runs to completion first, then queued
// notifications are applied in arrival order, so two writers can never
// race on the reconciled state.
type Reconciler struct {
	client   provider.Client
	password *channel.PasswordStore
	otpPhone *channel.OTPStore
	otpEmail *channel.OTPStore
	profiles *profile.Service
	log      zerolog.Logger

	mu   sync.RWMutex
	snap Snapshot

	omu       sync.Mutex
	observers []func(Snapshot)

	events   chan provider.Event
	done     chan struct{}
	loopDone chan struct{}

	// lcMu serializes Start and Close so the two can race safely from
	// different goroutines (the manager sweeps while handlers acquire).
	lcMu    sync.Mutex
	sub     provider.Subscription
	started bool
	closed  bool
}

// New builds a reconciler over the three channel stores. Start must be
// called before the snapshot is meaningful.
func New(client provider.Client, password *channel.PasswordStore, otpPhone, otpEmail *channel.OTPStore,
	profiles *profile.Service, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		client:   client,
		password: password,
		otpPhone: otpPhone,
		otpEmail: otpEmail,
		profiles: profiles,
		log:      log.With().Str("component", "reconciler").Logger(),
		snap:     Snapshot{ActiveChannel: channel.None, Bootstrapping: true},
		events:   make(chan provider.Event, eventQueueSize),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start subscribes to provider session changes and launches the
// reconciliation loop. The subscription is held for the reconciler's
// lifetime and released exactly once by Close. Notifications arriving
// while the bootstrap is still running are queued and applied after it
// finishes. Start after Close is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.lcMu.Lock()
	defer r.lcMu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	r.sub = r.client.OnSessionChange(func(ev provider.Event) {
		select {
		case r.events <- ev:
		case <-r.done:
		default:
			// Queue full: drop the oldest so the latest state wins.
			select {
			case <-r.events:
			default:
			}
			select {
			case r.events <- ev:
			case <-r.done:
			default:
			}
		}
	})
	go r.run(ctx)
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.loopDone)

	r.bootstrap(ctx)

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.handle(ctx, ev)
		}
	}
}

func (r *Reconciler) bootstrap(ctx context.Context) {
	actx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	sess, err := r.client.GetSession(actx)
	if err != nil {
		r.log.Warn().Err(err).Msg("bootstrap: provider session fetch failed")
		sess = nil
	}

	snap := r.apply(actx, sess)
	snap.Bootstrapping = false
	r.publish(snap)
}

func (r *Reconciler) handle(ctx context.Context, ev provider.Event) {
	actx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	var sess *provider.Session
	if ev.Type != provider.EventSignedOut {
		sess = ev.Session
	}

	snap := r.apply(actx, sess)
	r.publish(snap)
}

// apply routes a provider session (or its absence) into the channel
// stores and returns the resulting snapshot. It always resets the
// channels that do not match before setting the one that does, so the
// stores can never be read with two identities populated.
func (r *Reconciler) apply(ctx context.Context, sess *provider.Session) Snapshot {
	if sess == nil {
		r.clearAll()
		return Snapshot{ActiveChannel: channel.None}
	}

	ident, err := identity.FromSession(sess)
	if err != nil {
		// Unknown role or malformed subject: refuse to route on it.
		r.log.Error().Err(err).Msg("rejecting identity with invalid metadata")
		r.clearAll()
		return Snapshot{ActiveChannel: channel.None}
	}

	target := r.storeFor(sess.Method)

	// Overwrite, not union: siblings first, then the winner.
	for _, st := range r.stores() {
		if st.Name() != target.Name() {
			st.Clear()
		}
	}
	target.SetIdentity(&ident)

	prof := r.attachProfile(ctx, target, ident)

	return Snapshot{
		ActiveChannel: target.Name(),
		Identity:      &ident,
		Profile:       prof,
	}
}

// attachProfile fetches or provisions the profile and attaches it to
// the active store. A refresh for the identity we already hold reuses
// the attached row instead of re-fetching. Profile errors are logged,
// not surfaced: the role from identity metadata remains authoritative
// for routing.
func (r *Reconciler) attachProfile(ctx context.Context, target channel.Store, ident identity.Identity) *profile.Profile {
	r.mu.RLock()
	prev := r.snap
	r.mu.RUnlock()

	if prev.Identity != nil && prev.Identity.ID == ident.ID && prev.Profile != nil {
		target.AttachProfile(prev.Profile)
		return prev.Profile
	}

	prof, err := r.profiles.Ensure(ctx, ident)
	if err != nil {
		r.log.Warn().Err(err).Stringer("identity_id", ident.ID).Msg("profile attach failed")
		return nil
	}
	target.AttachProfile(prof)
	return prof
}

func (r *Reconciler) clearAll() {
	for _, st := range r.stores() {
		st.Clear()
	}
}

func (r *Reconciler) stores() []channel.Store {
	return []channel.Store{r.password, r.otpPhone, r.otpEmail}
}

func (r *Reconciler) storeFor(m provider.Method) channel.Store {
	switch m {
	case provider.MethodOTPPhone:
		return r.otpPhone
	case provider.MethodOTPEmail:
		return r.otpEmail
	default:
		// Password and OAuth identities both live on the password
		// channel; they share the grant surface.
		return r.password
	}
}

// publish installs the new snapshot and notifies observers exactly once
// per reconciliation, regardless of how many internal steps it took.
func (r *Reconciler) publish(snap Snapshot) {
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	r.omu.Lock()
	observers := make([]func(Snapshot), len(r.observers))
	copy(observers, r.observers)
	r.omu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// Snapshot returns the current reconciled state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// OnChange registers an observer called once per reconciliation with
// the new snapshot.
func (r *Reconciler) OnChange(fn func(Snapshot)) {
	r.omu.Lock()
	r.observers = append(r.observers, fn)
	r.omu.Unlock()
}

// Close releases the provider subscription exactly once and stops the
// loop. It blocks until the loop has exited.
func (r *Reconciler) Close() {
	r.lcMu.Lock()
	if !r.closed {
		r.closed = true
		if r.sub != nil {
			r.sub.Unsubscribe()
		}
		close(r.done)
	}
	started := r.started
	r.lcMu.Unlock()
	if started {
		<-r.loopDone
	}
}
