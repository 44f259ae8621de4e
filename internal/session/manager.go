package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager derives the current Session from the credential Store,
// restores it at startup, and reacts to credential removal happening in
// other processes sharing the store.
type Manager struct {
	store  Store
	events <-chan string

	mu      sync.Mutex
	current Session
	subs    []chan Session
}

// NewManager creates a Manager on top of a credential store. The store
// subscription is taken here so no change event can slip past before
// Run starts.
func NewManager(store Store) *Manager {
	return &Manager{store: store, events: store.Subscribe()}
}

// Restore recomputes the Session from the persisted credential. It is
// idempotent: calling it twice against the same stored state yields the
// same Session.
func (m *Manager) Restore() (Session, error) {
	cred, ok, err := m.store.Load()
	if err != nil {
		// An unreadable store must not leave a stale authenticated
		// session visible through Current.
		sess := Session{State: Unauthenticated}
		m.mu.Lock()
		m.current = sess
		m.mu.Unlock()
		return sess, err
	}

	sess := Session{State: Unauthenticated}
	if ok {
		sess = Session{State: Authenticated, Email: cred.Email}
	}

	m.mu.Lock()
	// Keep an already-fetched company name when the identity is unchanged.
	if sess.State == Authenticated && m.current.Email == sess.Email {
		sess.CompanyName = m.current.CompanyName
	}
	m.current = sess
	m.mu.Unlock()

	return sess, nil
}

// Persist stores the credential and transitions to Authenticated.
// Called only on successful login or registration.
func (m *Manager) Persist(cred Credential) error {
	if err := m.store.Save(cred); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}
	m.set(Session{State: Authenticated, Email: cred.Email})
	return nil
}

// Clear removes the persisted credential and transitions to
// Unauthenticated.
func (m *Manager) Clear() error {
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	m.set(Session{State: Unauthenticated})
	return nil
}

// Current returns the session as last derived.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Token re-reads the store and returns the current bearer token, or ""
// when unauthenticated. Outbound requests call this at dispatch time so
// they never ride on a stale snapshot.
func (m *Manager) Token() string {
	cred, ok, err := m.store.Load()
	if err != nil || !ok {
		return ""
	}
	return cred.Token
}

// SetIdentity records profile details fetched from the backend. It does
// not change the authentication state.
func (m *Manager) SetIdentity(email, companyName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Email = email
	m.current.CompanyName = companyName
}

// Subscribe returns a channel of session transitions. Sends never
// block; a slow subscriber misses intermediate states.
func (m *Manager) Subscribe() <-chan Session {
	ch := make(chan Session, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run consumes store change events until ctx is cancelled. Observing
// the token removed forces the local session to Unauthenticated without
// any user action here; a removal this manager issued itself is a no-op
// because the session is already Unauthenticated by then.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case token, ok := <-m.events:
			if !ok {
				return
			}
			if token != "" {
				continue
			}
			m.mu.Lock()
			signedIn := m.current.State == Authenticated
			m.mu.Unlock()
			if signedIn {
				slog.Info("credential removed externally, signing out")
				m.set(Session{State: Unauthenticated})
			}
		}
	}
}

func (m *Manager) set(sess Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = sess
	for _, ch := range m.subs {
		select {
		case ch <- sess:
		default:
		}
	}
}
