package authsession

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/clinicore/authsession/internal/events"
	"github.com/clinicore/authsession/store"
)

// refreshOutcome settles one queued continuation: either the exact access
// token produced by the refresh the waiter joined, or that refresh's error.
type refreshOutcome struct {
	token string
	err   error
}

// RefreshCoordinator defines a public type used by authsession APIs.
//
// RefreshCoordinator guarantees at most one in-flight token-refresh
// exchange per process. Callers that arrive while an exchange is
// outstanding are queued FIFO and settled with that exchange's outcome —
// never a later one. The coordinator is owned by a single Manager
// composition; it keeps no module-global state, so tests get isolated
// instances.
type RefreshCoordinator struct {
	api     *apiClient
	state   *SessionState
	store   store.Store
	keys    StorageConfig
	bus     *events.Bus
	metrics *Metrics

	mu       sync.Mutex
	inflight bool
	episode  uint64
	waiters  []chan refreshOutcome
}

func newRefreshCoordinator(api *apiClient, state *SessionState, st store.Store, keys StorageConfig, bus *events.Bus, metrics *Metrics) *RefreshCoordinator {
	return &RefreshCoordinator{
		api:     api,
		state:   state,
		store:   st,
		keys:    keys,
		bus:     bus,
		metrics: metrics,
	}
}

// Resolve describes the resolve operation and its observable behavior.
//
// Resolve returns an access token confirmed by the backend: if a refresh is
// already in flight the call joins its queue, otherwise it performs the
// exchange itself. The refresh endpoint is called at most once per failure
// episode; every failure is terminal and publishes a single refresh_failed
// logout event.
//
// Resolve may return an error when input validation, dependency calls, or security checks fail.
// Resolve does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *RefreshCoordinator) Resolve(ctx context.Context) (string, error) {
	if c == nil {
		return "", ErrNotReady
	}

	c.mu.Lock()
	if c.inflight {
		ch := make(chan refreshOutcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		c.metrics.Inc(MetricRefreshCoalesced)

		select {
		case out := <-ch:
			return out.token, out.err
		case <-ctx.Done():
			// The queued slot stays buffered; the flush will not block on it.
			return "", ctx.Err()
		}
	}

	refreshToken := c.state.refreshToken()
	if refreshToken == "" {
		c.mu.Unlock()
		c.metrics.Inc(MetricRefreshFailure)
		// An already-ended session must not produce a second logout event.
		if c.state.Current().Status != StatusLoggedOut {
			c.publishLogout(LogoutRefreshFailed, ErrNoRefreshToken)
		}
		return "", ErrNoRefreshToken
	}

	c.inflight = true
	episode := c.episode
	c.mu.Unlock()

	prior := c.state.Current().Status
	c.state.setStatus(StatusRefreshing)

	// The exchange settles every queued waiter, not just the leader's
	// caller, so it must not die with that caller's context. The HTTP
	// client timeout still bounds the detached call.
	pair, err := c.api.refresh(context.WithoutCancel(ctx), refreshToken)
	if err != nil {
		failure := classifyRefreshError(err)
		c.metrics.Inc(MetricRefreshFailure)
		waiters, ok := c.claim(episode)
		if !ok {
			return "", failure
		}
		c.state.apply(func(sess *Session) {
			sess.Credential = nil
		})
		flush(waiters, refreshOutcome{err: failure})
		c.publishLogout(LogoutRefreshFailed, failure)
		return "", failure
	}

	credential := Credential{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}

	waiters, ok := c.claim(episode)
	if !ok {
		// Logged out while the exchange was in flight; the waiters were
		// already rejected by abort and the late result is discarded
		// without touching state or storage.
		return "", fmt.Errorf("%w: session ended during refresh", ErrRefreshFailed)
	}

	// Persistence is best-effort here: the confirmed pair lives in memory
	// either way, and a stale stored pair is recovered on next launch by
	// the ordinary 401 path.
	if err := c.store.Set(ctx, c.keys.AccessTokenKey, credential.AccessToken); err != nil {
		log.Print("authsession: persisting refreshed access token failed")
	}
	if err := c.store.Set(ctx, c.keys.RefreshTokenKey, credential.RefreshToken); err != nil {
		log.Print("authsession: persisting refreshed refresh token failed")
	}

	c.state.apply(func(sess *Session) {
		sess.Credential = &credential
		if sess.Status == StatusRefreshing {
			sess.Status = prior
		}
	})

	c.metrics.Inc(MetricRefreshSuccess)
	flush(waiters, refreshOutcome{token: credential.AccessToken})
	return credential.AccessToken, nil
}

// claim ends the in-flight episode and takes ownership of its waiter queue.
// It reports false when abort superseded the episode.
func (c *RefreshCoordinator) claim(episode uint64) ([]chan refreshOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.episode != episode {
		return nil, false
	}
	c.inflight = false
	waiters := c.waiters
	c.waiters = nil
	return waiters, true
}

// flush settles waiters in FIFO order. Every channel is buffered, so a
// waiter that gave up on its context does not block the queue.
func flush(waiters []chan refreshOutcome, out refreshOutcome) {
	for _, ch := range waiters {
		ch <- out
	}
}

// abort rejects every queued waiter and invalidates the in-flight episode.
// Called during logout so no continuation is left pending.
func (c *RefreshCoordinator) abort(err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.episode++
	c.inflight = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshOutcome{err: err}
	}
}

func (c *RefreshCoordinator) publishLogout(reason LogoutReason, cause error) {
	event := events.Event{
		Timestamp: time.Now(),
		EventType: events.EventLogout,
		Reason:    reason,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	c.bus.Publish(event)
}

// classifyRefreshError maps a refresh exchange failure onto the error
// taxonomy: a 4xx answer means the refresh token itself was rejected, any
// other failure is a terminal refresh error.
func classifyRefreshError(err error) error {
	if errStatus(err, http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest) {
		return fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
}
