package authsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/clinicore/authsession/internal/events"
	"github.com/clinicore/authsession/store"
)

const (
	eventOriginManager = "manager"
	eventOriginRefresh = "refresh"
)

// Manager defines a public type used by authsession APIs.
//
// Manager orchestrates startup restoration, login, logout, and profile
// verification. It is the only component allowed to transition the session
// to StatusLoggedOut; every other component that detects a terminal auth
// failure publishes an event that the Manager absorbs exactly once.
//
// Manager instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Manager struct {
	config      Config
	state       *SessionState
	store       store.Store
	api         *apiClient
	coordinator *RefreshCoordinator
	gateway     *RequestGateway
	bus         *events.Bus
	dispatcher  *events.Dispatcher
	metrics     *Metrics
	instanceID  string

	logoutMu sync.Mutex
	verifyWG sync.WaitGroup
}

// Current returns a copy of the in-memory session.
func (m *Manager) Current() Session {
	if m == nil {
		return Session{Status: StatusAnonymous}
	}
	return m.state.Current()
}

// State exposes the observable session state for UI subscriptions.
func (m *Manager) State() *SessionState {
	if m == nil {
		return nil
	}
	return m.state
}

// Gateway returns the request gateway wired to this manager's session.
func (m *Manager) Gateway() *RequestGateway {
	if m == nil {
		return nil
	}
	return m.gateway
}

// Refresher returns the refresh coordinator owned by this manager.
func (m *Manager) Refresher() *RefreshCoordinator {
	if m == nil {
		return nil
	}
	return m.coordinator
}

// InstanceID returns the per-process client instance identifier attached to
// outbound requests for server-side log correlation.
func (m *Manager) InstanceID() string {
	if m == nil {
		return ""
	}
	return m.instanceID
}

// SubscribeEvents registers fn for session events (logout propagation).
// The returned handle must be cancelled when the listener goes away so
// subscriptions are not leaked across login/logout cycles.
func (m *Manager) SubscribeEvents(fn func(SessionEvent)) *EventSubscription {
	if m == nil {
		return &EventSubscription{}
	}
	return m.bus.Subscribe(fn)
}

// Restore performs startup restoration from the credential store.
//
// With a stored credential and cached profile the session turns optimistic
// immediately and verification continues on a background goroutine. With a
// credential but no cached profile, verification blocks: the session only
// unblocks as verified or stays anonymous. Storage read failures degrade to
// an anonymous session; a corrupt store forces a cleanup logout.
//
// Restore may return an error when input validation, dependency calls, or security checks fail.
func (m *Manager) Restore(ctx context.Context) error {
	if m == nil {
		return ErrNotReady
	}

	accessToken, okAccess, err := m.store.Get(ctx, m.config.Storage.AccessTokenKey)
	if err != nil {
		return m.restoreReadFailure(ctx, err)
	}
	refreshToken, _, err := m.store.Get(ctx, m.config.Storage.RefreshTokenKey)
	if err != nil {
		return m.restoreReadFailure(ctx, err)
	}

	if !okAccess || accessToken == "" {
		m.metrics.Inc(MetricRestoreAnonymous)
		return nil
	}

	credential := Credential{AccessToken: accessToken, RefreshToken: refreshToken}

	cached := m.cachedProfile(ctx)
	if cached != nil {
		m.state.apply(func(sess *Session) {
			sess.User = cached
			sess.Credential = &credential
			sess.Status = StatusOptimistic
		})
		m.metrics.Inc(MetricRestoreOptimistic)

		m.verifyWG.Add(1)
		go func() {
			defer m.verifyWG.Done()
			verifyCtx, cancel := context.WithTimeout(context.Background(), m.config.HTTP.Timeout)
			defer cancel()
			_ = m.VerifyNow(verifyCtx)
		}()
		return nil
	}

	// No cached profile: verification blocks before the UI unblocks.
	user, err := m.api.profile(ctx, credential.AccessToken)
	if err != nil {
		if errStatus(err, http.StatusUnauthorized, http.StatusNotFound) {
			m.metrics.Inc(MetricVerifyFailure)
			_, _ = m.logout(ctx, LogoutVerificationFailed, err, true)
			return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		// Server or network trouble, not an auth failure: stay anonymous
		// and keep the stored credential for the next launch.
		m.metrics.Inc(MetricVerifyDeferred)
		return err
	}

	m.persistProfile(ctx, user)
	m.state.apply(func(sess *Session) {
		sess.User = &user
		sess.Credential = &credential
		sess.Status = StatusVerified
	})
	m.metrics.Inc(MetricVerifySuccess)
	return nil
}

// VerifyNow runs profile verification for the current session immediately.
// It is invoked on a background goroutine after an optimistic restore and
// is exposed so callers and tests can force a deterministic outcome.
//
// VerifyNow may return an error when input validation, dependency calls, or security checks fail.
func (m *Manager) VerifyNow(ctx context.Context) error {
	if m == nil {
		return ErrNotReady
	}

	sess := m.state.Current()
	if sess.Status != StatusOptimistic && sess.Status != StatusVerified {
		return nil
	}
	accessToken := sess.AccessToken()
	if accessToken == "" {
		return nil
	}

	user, err := m.api.profile(ctx, accessToken)
	if err != nil {
		if errStatus(err, http.StatusUnauthorized, http.StatusNotFound) {
			m.metrics.Inc(MetricVerifyFailure)
			_, _ = m.logout(ctx, LogoutVerificationFailed, err, true)
			return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		m.metrics.Inc(MetricVerifyDeferred)
		log.Print("authsession: profile verification deferred, keeping optimistic session")
		return err
	}

	m.persistProfile(ctx, user)
	m.state.apply(func(sess *Session) {
		switch sess.Status {
		case StatusOptimistic:
			sess.Status = StatusVerified
			sess.User = &user
		case StatusVerified, StatusRefreshing:
			sess.User = &user
		}
	})
	m.metrics.Inc(MetricVerifySuccess)
	return nil
}

// Login exchanges credentials for a token pair, persists it, and presents
// the session as verified. A persistence failure for either token is fatal:
// a session whose tokens cannot be stored must not be presented as logged
// in.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
func (m *Manager) Login(ctx context.Context, username, password string) (Profile, error) {
	if m == nil {
		return Profile{}, ErrNotReady
	}

	pair, user, err := m.api.login(ctx, username, password)
	if err != nil {
		m.metrics.Inc(MetricLoginFailure)
		if errStatus(err, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			return Profile{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
		}
		return Profile{}, err
	}

	if err := m.store.Set(ctx, m.config.Storage.AccessTokenKey, pair.AccessToken); err != nil {
		m.metrics.Inc(MetricLoginFailure)
		return Profile{}, &StorageError{Key: m.config.Storage.AccessTokenKey, Err: err}
	}
	if err := m.store.Set(ctx, m.config.Storage.RefreshTokenKey, pair.RefreshToken); err != nil {
		m.metrics.Inc(MetricLoginFailure)
		// Half-persisted pairs are worse than none on the next launch.
		if rmErr := m.store.Remove(ctx, m.config.Storage.AccessTokenKey); rmErr != nil {
			log.Print("authsession: rollback of access token after failed login persist failed")
		}
		return Profile{}, &StorageError{Key: m.config.Storage.RefreshTokenKey, Err: err}
	}
	m.persistProfile(ctx, user)

	credential := Credential{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	m.state.apply(func(sess *Session) {
		sess.User = &user
		sess.Credential = &credential
		sess.Status = StatusVerified
	})
	m.metrics.Inc(MetricLoginSuccess)
	return user, nil
}

// Logout ends the session explicitly. Storage cleanup is best-effort per
// key; the in-memory transition to logged_out happens regardless and the
// per-key outcomes are collected in the returned report.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
func (m *Manager) Logout(ctx context.Context) (LogoutReport, error) {
	if m == nil {
		return LogoutReport{}, ErrNotReady
	}
	return m.logout(ctx, LogoutExplicit, nil, true)
}

// logout is the single terminal transition. Idempotent: an already
// logged-out session is a no-op with no storage calls and no second event.
func (m *Manager) logout(ctx context.Context, reason LogoutReason, cause error, emit bool) (LogoutReport, error) {
	m.logoutMu.Lock()
	defer m.logoutMu.Unlock()

	current := m.state.Current()
	if current.Status == StatusLoggedOut {
		return LogoutReport{}, nil
	}

	// Reject queued refresh continuations first so nothing is left pending
	// on a session that is about to end.
	m.coordinator.abort(fmt.Errorf("%w: session logged out", ErrAuthExpired))

	report := LogoutReport{}
	keys := []string{
		m.config.Storage.AccessTokenKey,
		m.config.Storage.RefreshTokenKey,
		m.config.Storage.ProfileKey,
	}
	keys = append(keys, m.config.Storage.CleanupKeys...)
	for _, key := range keys {
		if err := m.store.Remove(ctx, key); err != nil {
			m.metrics.Inc(MetricStorageCleanupFailure)
			report.Failures = append(report.Failures, KeyFailure{Key: key, Err: err})
		}
	}

	m.state.apply(func(sess *Session) {
		sess.User = nil
		sess.Credential = nil
		sess.Status = StatusLoggedOut
	})

	if reason == LogoutExplicit {
		m.metrics.Inc(MetricLogoutExplicit)
	} else {
		m.metrics.Inc(MetricLogoutForced)
	}

	if emit {
		event := events.Event{
			Timestamp: time.Now(),
			EventType: events.EventLogout,
			Reason:    reason,
			Metadata:  map[string]string{"origin": eventOriginManager},
		}
		if current.User != nil {
			event.UserID = current.User.ID
		}
		if cause != nil {
			event.Error = cause.Error()
		}
		m.bus.Publish(event)
	}
	return report, nil
}

// handleEvent absorbs logout events published by other components (today:
// the refresh coordinator). Events the manager emitted itself are skipped;
// reacting to them would re-enter the logout path it just completed.
func (m *Manager) handleEvent(event SessionEvent) {
	if event.EventType != events.EventLogout {
		return
	}
	if event.Metadata["origin"] == eventOriginManager {
		return
	}

	var cause error
	if event.Error != "" {
		cause = errors.New(event.Error)
	}
	logoutCtx, cancel := context.WithTimeout(context.Background(), m.config.HTTP.Timeout)
	defer cancel()
	_, _ = m.logout(logoutCtx, event.Reason, cause, false)
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return m.metrics.Snapshot()
}

// EventsDropped reports sink deliveries dropped under backpressure.
func (m *Manager) EventsDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.dispatcher.Dropped()
}

// Close waits for background verification, drains the event dispatcher,
// and drops all bus subscriptions.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.verifyWG.Wait()
	if m.dispatcher != nil {
		m.dispatcher.Close()
	}
	m.bus.Close()
}

func (m *Manager) cachedProfile(ctx context.Context) *Profile {
	raw, ok, err := m.store.Get(ctx, m.config.Storage.ProfileKey)
	if err != nil || !ok || raw == "" {
		return nil
	}
	var user Profile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Print("authsession: cached profile unreadable, falling back to blocking verification")
		return nil
	}
	return &user
}

func (m *Manager) persistProfile(ctx context.Context, user Profile) {
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := m.store.Set(ctx, m.config.Storage.ProfileKey, string(raw)); err != nil {
		log.Print("authsession: caching profile failed")
	}
}

func (m *Manager) restoreReadFailure(ctx context.Context, err error) error {
	if errors.Is(err, store.ErrCorrupt) {
		_, _ = m.logout(ctx, LogoutStorageCorrupted, err, true)
		return &StorageError{Key: m.config.Storage.AccessTokenKey, Err: err}
	}
	// Backend unavailable: restoration is best-effort, stay anonymous and
	// leave whatever is stored for the next launch.
	m.metrics.Inc(MetricRestoreAnonymous)
	log.Print("authsession: credential store unavailable during restore, starting anonymous")
	return nil
}
