package authsession

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// Many requests hitting 401 at once must coalesce into a single refresh
// exchange, and every retried request must carry the refreshed token.
func TestRefreshSingleFlight(t *testing.T) {
	backend := newAuthBackend()
	backend.refreshDelay = 50 * time.Millisecond

	manager, _, cleanup := newTestManager(t, backend, nil)
	defer cleanup()
	mustLogin(t, manager)

	// Invalidate the served token so every protected call 401s first.
	backend.mu.Lock()
	backend.accessToken = "rotated-away"
	backend.mu.Unlock()

	client := manager.Gateway().Client()

	const workers = 8
	var wg sync.WaitGroup
	statuses := make([]int, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(backend.baseURL + "/api/notes")
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: request failed: %v", i, errs[i])
		}
		if statuses[i] != http.StatusOK {
			t.Fatalf("worker %d: status = %d, want 200", i, statuses[i])
		}
	}

	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", calls)
	}

	session := manager.Current()
	if session.AccessToken() != "xyz" {
		t.Fatalf("access token = %q, want refreshed token", session.AccessToken())
	}
	if session.Credential.RefreshToken != "rt2" {
		t.Fatalf("refresh token = %q, want rotated token", session.Credential.RefreshToken)
	}

	snap := manager.MetricsSnapshot()
	if snap.Counters[MetricRefreshSuccess] != 1 {
		t.Fatalf("refresh success counter = %d, want 1", snap.Counters[MetricRefreshSuccess])
	}
	if snap.Counters[MetricRefreshCoalesced] == 0 {
		t.Fatalf("expected at least one coalesced waiter")
	}
}

// Waiters queued behind an in-flight refresh must all receive the token of
// that refresh, never one from a later episode.
func TestRefreshWaitersGetEpisodeToken(t *testing.T) {
	backend := newAuthBackend()
	backend.refreshRelease = make(chan struct{})

	manager, _, cleanup := newTestManager(t, backend, nil)
	defer cleanup()
	mustLogin(t, manager)

	coordinator := manager.Refresher()
	ctx := context.Background()

	type result struct {
		token string
		err   error
	}
	results := make(chan result, 4)

	// Initiator: blocks inside the refresh exchange until released.
	go func() {
		tok, err := coordinator.Resolve(ctx)
		results <- result{tok, err}
	}()

	// Wait for the initiator to register as in-flight, then queue waiters.
	waitFor(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return coordinator.inflight
	})

	for i := 0; i < 3; i++ {
		go func() {
			tok, err := coordinator.Resolve(ctx)
			results <- result{tok, err}
		}()
	}
	waitFor(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.waiters) == 3
	})

	close(backend.refreshRelease)

	for i := 0; i < 4; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				t.Fatalf("resolve failed: %v", r.err)
			}
			if r.token != "xyz" {
				t.Fatalf("resolved token = %q, want token from the shared episode", r.token)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for resolve results")
		}
	}

	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", calls)
	}
}

// A failed refresh rejects every queued waiter, clears the session exactly
// once, and emits a single logout event.
func TestRefreshFailureRejectsAllWaiters(t *testing.T) {
	backend := newAuthBackend()
	backend.refreshStatus = http.StatusUnauthorized
	backend.refreshRelease = make(chan struct{})

	received := make(chan SessionEvent, 16)
	manager, _, cleanup := newTestManager(t, backend, nil)
	defer cleanup()
	sub := manager.SubscribeEvents(func(event SessionEvent) {
		received <- event
	})
	defer sub.Cancel()

	mustLogin(t, manager)

	coordinator := manager.Refresher()
	ctx := context.Background()

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = coordinator.Resolve(ctx)
	}()
	waitFor(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return coordinator.inflight
	})

	for i := 1; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coordinator.Resolve(ctx)
		}(i)
	}
	waitFor(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.waiters) == workers-1
	})

	close(backend.refreshRelease)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("worker %d: expected error from failed refresh", i)
		}
		if !errors.Is(err, ErrAuthInvalid) {
			t.Fatalf("worker %d: error = %v, want ErrAuthInvalid", i, err)
		}
	}

	if got := manager.Current().Status; got != StatusLoggedOut {
		t.Fatalf("status = %v, want logged out", got)
	}

	// Exactly one logout event regardless of how many waiters failed.
	var logouts int
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case event := <-received:
			if event.EventType == "logout" {
				logouts++
				if event.Reason != LogoutRefreshFailed {
					t.Fatalf("logout reason = %q, want refresh_failed", event.Reason)
				}
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if logouts != 1 {
		t.Fatalf("logout events = %d, want exactly 1", logouts)
	}

	if calls := backend.refreshCalls.Load(); calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", calls)
	}
}

// Cancelling the caller that happens to lead the exchange must not end the
// session: the exchange outcome is shared by every queued waiter, so it runs
// detached from the leader's context.
func TestRefreshLeaderCancelDoesNotEndSession(t *testing.T) {
	backend := newAuthBackend()
	backend.refreshRelease = make(chan struct{})

	received := make(chan SessionEvent, 16)
	manager, _, cleanup := newTestManager(t, backend, nil)
	defer cleanup()
	sub := manager.SubscribeEvents(func(event SessionEvent) {
		received <- event
	})
	defer sub.Cancel()

	mustLogin(t, manager)

	coordinator := manager.Refresher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := coordinator.Resolve(ctx)
		done <- err
	}()

	waitFor(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return coordinator.inflight
	})

	// The leader's caller gives up mid-exchange while the backend is healthy.
	cancel()
	close(backend.refreshRelease)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("resolve failed after caller cancellation: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for resolve")
	}

	session := manager.Current()
	if session.Status != StatusVerified {
		t.Fatalf("status = %v, want verified after caller-local cancellation", session.Status)
	}
	if session.AccessToken() != "xyz" {
		t.Fatalf("access token = %q, want refreshed token", session.AccessToken())
	}

	select {
	case event := <-received:
		t.Fatalf("unexpected session event %+v after caller-local cancellation", event)
	default:
	}
}

// Queued waiters are settled strictly in enqueue order. Each channel is
// unbuffered here so an out-of-order settlement stalls instead of passing
// silently.
func TestRefreshFlushSettlesInEnqueueOrder(t *testing.T) {
	const queued = 5
	waiters := make([]chan refreshOutcome, queued)
	for i := range waiters {
		waiters[i] = make(chan refreshOutcome)
	}

	done := make(chan struct{})
	go func() {
		flush(waiters, refreshOutcome{token: "xyz"})
		close(done)
	}()

	for i, ch := range waiters {
		select {
		case out := <-ch:
			if out.err != nil {
				t.Fatalf("waiter %d: unexpected error %v", i, out.err)
			}
			if out.token != "xyz" {
				t.Fatalf("waiter %d: token = %q, want xyz", i, out.token)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d not settled in enqueue order", i)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not return after all waiters settled")
	}
}

// Resolve without a refresh token fails fast and clears the session.
func TestResolveWithoutRefreshToken(t *testing.T) {
	backend := newAuthBackend()
	manager, _, cleanup := newTestManager(t, backend, nil)
	defer cleanup()

	_, err := manager.Refresher().Resolve(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("error = %v, want ErrNoRefreshToken", err)
	}
	if calls := backend.refreshCalls.Load(); calls != 0 {
		t.Fatalf("refresh calls = %d, want 0", calls)
	}
}

// Logging out while a refresh is in flight aborts the episode: waiters are
// rejected and the late result does not resurrect the session.
func TestLogoutAbortsInflightRefresh(t *testing.T) {
	backend := newAuthBackend()
	backend.refreshRelease = make(chan struct{})

	manager, mem, cleanup := newTestManager(t, backend, nil)
	defer cleanup()
	mustLogin(t, manager)

	coordinator := manager.Refresher()
	done := make(chan error, 1)
	go func() {
		_, err := coordinator.Resolve(context.Background())
		done <- err
	}()

	waitFor(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return coordinator.inflight
	})

	report, err := manager.Logout(context.Background())
	if err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("logout report not clean: %v", report.Failures)
	}

	close(backend.refreshRelease)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected aborted refresh to fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for aborted refresh")
	}

	if got := manager.Current().Status; got != StatusLoggedOut {
		t.Fatalf("status = %v, want logged out", got)
	}

	// The late refresh result must not be flushed to storage.
	if _, ok, _ := mem.Get(context.Background(), DefaultConfig().Storage.AccessTokenKey); ok {
		t.Fatal("access token written back after logout")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
