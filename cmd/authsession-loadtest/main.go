// Command authsession-loadtest measures gateway throughput and refresh
// coalescing under concurrency against an in-process stub API.
//
// Two phases run back to back: a steady phase where the access token stays
// valid, and a storm phase where the stub rotates its accepted token on a
// fixed interval so concurrent workers keep hitting 401 and pile onto the
// refresh coordinator. The interesting numbers are the refresh counters:
// refreshes should stay near rotations, not near ops.
//
// The credential store backend is Redis (miniredis by default, or a real
// instance via -redis-addr) so the load also exercises store round-trips.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authsession "github.com/clinicore/authsession"
	"github.com/clinicore/authsession/store"
)

func main() {
	var (
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "requests per phase (steady + storm)")
		rotateEvery = flag.Duration("rotate-every", 50*time.Millisecond, "token rotation interval during the storm phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authsession-loadtest", "credential store key prefix")
	)
	flag.Parse()

	if *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	backend := newStubBackend()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
		os.Exit(1)
	}
	server := &http.Server{Handler: backend.routes()}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	baseURL := "http://" + listener.Addr().String()

	manager, err := authsession.New().
		WithBaseURL(baseURL).
		WithStore(store.NewRedis(client, *prefix)).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "manager build failed: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	if _, err := manager.Login(ctx, "loadtest", "loadtest-password"); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	httpClient := manager.Gateway().Client()

	steadyStats := runPhase(httpClient, baseURL, *ops, *concurrency)

	stopRotation := make(chan struct{})
	var rotations int64
	go func() {
		ticker := time.NewTicker(*rotateEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				backend.rotateToken()
				atomic.AddInt64(&rotations, 1)
			case <-stopRotation:
				return
			}
		}
	}()
	stormStats := runPhase(httpClient, baseURL, *ops, *concurrency)
	close(stopRotation)

	fmt.Println("---- results ----")
	printStats("steady", steadyStats)
	printStats("storm", stormStats)

	snap := manager.MetricsSnapshot()
	fmt.Printf("rotations=%d refreshes=%d coalesced=%d retries=%d\n",
		atomic.LoadInt64(&rotations),
		snap.Counters[authsession.MetricRefreshSuccess],
		snap.Counters[authsession.MetricRefreshCoalesced],
		snap.Counters[authsession.MetricGatewayRetry],
	)
}

func runPhase(client *http.Client, baseURL string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				resp, err := client.Get(baseURL + "/api/notes")
				d := time.Since(t0)
				if err != nil || resp.StatusCode != http.StatusOK {
					atomic.AddInt64(&failures, 1)
				}
				if resp != nil {
					resp.Body.Close()
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

// ---------------------------------------------------------------------------
// Stub backend
// ---------------------------------------------------------------------------

type stubBackend struct {
	generation atomic.Int64
}

func newStubBackend() *stubBackend {
	return &stubBackend{}
}

func (b *stubBackend) currentAccess() string {
	return fmt.Sprintf("access-%d", b.generation.Load())
}

func (b *stubBackend) currentRefresh() string {
	return fmt.Sprintf("refresh-%d", b.generation.Load())
}

func (b *stubBackend) rotateToken() {
	b.generation.Add(1)
}

func (b *stubBackend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.login)
	mux.HandleFunc("POST /auth/refresh", b.refresh)
	mux.HandleFunc("GET /auth/me", b.me)
	mux.HandleFunc("GET /api/notes", b.notes)
	return mux
}

func (b *stubBackend) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"access_token":  b.currentAccess(),
		"refresh_token": b.currentRefresh(),
		"user": map[string]string{
			"id":       "load-1",
			"username": r.PostFormValue("username"),
		},
	})
}

func (b *stubBackend) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	// Any refresh token from a previous generation is accepted; the tool
	// measures coalescing, not rotation strictness.
	writeJSON(w, map[string]string{
		"access_token":  b.currentAccess(),
		"refresh_token": b.currentRefresh(),
	})
}

func (b *stubBackend) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"id": "load-1", "username": "loadtest"})
}

func (b *stubBackend) notes(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+b.currentAccess() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"note": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
