package authsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinicore/authsession/store"
)

// authBackend is an in-process stand-in for the product API: login, refresh,
// profile verification, and one protected endpoint that demands the current
// access token.
type authBackend struct {
	mu sync.Mutex

	baseURL      string
	accessToken  string
	refreshToken string
	user         Profile

	refreshCalls  atomic.Int64
	profileCalls  atomic.Int64
	protectedSeen []string

	refreshStatus   int           // 0 means succeed
	refreshDelay    time.Duration // hold the refresh exchange open
	refreshRelease  chan struct{} // optional gate, released by the test
	profileStatus   int           // 0 means succeed
	protectedStatus int           // 0 means token check decides

	lastProtectedHeaders http.Header

	nextAccess  string
	nextRefresh string
}

func newAuthBackend() *authBackend {
	return &authBackend{
		accessToken:  "abc",
		refreshToken: "rt1",
		user:         Profile{ID: "u1", Username: "alice", FullName: "Alice Moreau"},
		nextAccess:   "xyz",
		nextRefresh:  "rt2",
	}
}

func (b *authBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", b.handleLogin)
	mux.HandleFunc("/auth/refresh", b.handleRefresh)
	mux.HandleFunc("/auth/me", b.handleProfile)
	mux.HandleFunc("/api/notes", b.handleProtected)
	return mux
}

func (b *authBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("username") != b.user.Username || r.PostFormValue("password") != "correct-password-123" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, map[string]any{
		"access_token":  b.accessToken,
		"refresh_token": b.refreshToken,
		"user":          b.user,
	})
}

func (b *authBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	if b.refreshRelease != nil {
		<-b.refreshRelease
	}
	if b.refreshDelay > 0 {
		time.Sleep(b.refreshDelay)
	}
	if b.refreshStatus != 0 {
		http.Error(w, "refresh rejected", b.refreshStatus)
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		http.Error(w, "bad refresh", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.accessToken = b.nextAccess
	b.refreshToken = b.nextRefresh
	access, refresh := b.accessToken, b.refreshToken
	b.mu.Unlock()

	writeJSON(w, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (b *authBackend) handleProfile(w http.ResponseWriter, r *http.Request) {
	b.profileCalls.Add(1)
	if b.profileStatus != 0 {
		http.Error(w, "verification rejected", b.profileStatus)
		return
	}
	b.mu.Lock()
	current := "Bearer " + b.accessToken
	user := b.user
	b.mu.Unlock()
	if r.Header.Get("Authorization") != current {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, user)
}

func (b *authBackend) handleProtected(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	b.mu.Lock()
	b.protectedSeen = append(b.protectedSeen, auth)
	b.lastProtectedHeaders = r.Header.Clone()
	current := "Bearer " + b.accessToken
	b.mu.Unlock()
	if b.protectedStatus != 0 {
		http.Error(w, "forced", b.protectedStatus)
		return
	}
	if auth != current {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"ok": "true"})
}

func (b *authBackend) seenProtected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.protectedSeen...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestManager(t *testing.T, backend *authBackend, mutate func(*Config)) (*Manager, *store.Memory, func()) {
	t.Helper()
	mem := store.NewMemory()
	manager, cleanup := newManagerWithStore(t, backend, mem, mutate)
	return manager, mem, cleanup
}

func newManagerWithStore(t *testing.T, backend *authBackend, st store.Store, mutate func(*Config)) (*Manager, func()) {
	t.Helper()

	server := httptest.NewServer(backend.handler())
	backend.baseURL = server.URL

	cfg := DefaultConfig()
	cfg.HTTP.BaseURL = server.URL
	cfg.HTTP.Timeout = 5 * time.Second
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	manager, err := New().
		WithConfig(cfg).
		WithStore(st).
		Build()
	if err != nil {
		server.Close()
		t.Fatalf("build failed: %v", err)
	}

	return manager, func() {
		manager.Close()
		server.Close()
	}
}

func mustLogin(t *testing.T, manager *Manager) Profile {
	t.Helper()
	user, err := manager.Login(context.Background(), "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return user
}

// flakyStore wraps a Memory store and fails selected operations per key.
type flakyStore struct {
	inner     *store.Memory
	failGet   map[string]error
	failSet   map[string]error
	failRemov map[string]error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		inner:     store.NewMemory(),
		failGet:   map[string]error{},
		failSet:   map[string]error{},
		failRemov: map[string]error{},
	}
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := f.failGet[key]; err != nil {
		return "", false, err
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	if err := f.failSet[key]; err != nil {
		return err
	}
	return f.inner.Set(ctx, key, value)
}

func (f *flakyStore) Remove(ctx context.Context, key string) error {
	if err := f.failRemov[key]; err != nil {
		return err
	}
	return f.inner.Remove(ctx, key)
}
