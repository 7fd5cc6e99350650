package authsession

import (
	"net/http"
	"time"

	"github.com/clinicore/authsession/token"
)

// RequestGateway defines a public type used by authsession APIs.
//
// RequestGateway wraps every outbound API call: it attaches the bearer
// token read from SessionState at send time, detects 401 responses, and
// delegates to the RefreshCoordinator before deciding to retry or fail.
// Auth-exempt endpoints (login, refresh, profile verification) bypass the
// refresh path entirely so a rejected credential cannot loop.
type RequestGateway struct {
	base        http.RoundTripper
	state       *SessionState
	coordinator *RefreshCoordinator
	exempt      map[string]struct{}
	skew        time.Duration
	userAgent   string
	instanceID  string
	metrics     *Metrics
}

// Do describes the do operation and its observable behavior.
//
// Do sends the request with the most recently confirmed access token. On a
// 401 from a non-exempt endpoint it resolves a refresh and replays the
// request exactly once with the token that refresh produced; a second 401
// is returned as-is. Refresh rejections propagate unchanged; transport
// errors bubble unchanged to the caller.
//
// Do may return an error when input validation, dependency calls, or security checks fail.
// Do does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *RequestGateway) Do(req *http.Request) (*http.Response, error) {
	if g == nil {
		return nil, ErrNotReady
	}

	exempt := g.isExempt(req.URL.Path)
	accessToken := g.state.accessToken()

	// Pre-flight: a token already past exp minus skew is a guaranteed 401;
	// refresh before spending the round-trip.
	if !exempt && accessToken != "" && token.ExpiresWithin(accessToken, g.skew) {
		refreshed, err := g.coordinator.Resolve(req.Context())
		if err != nil {
			return nil, err
		}
		accessToken = refreshed
	}

	resp, err := g.send(req, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || exempt {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// The body was consumed by the first attempt and cannot be
		// replayed; the caller sees the 401.
		return resp, nil
	}
	if accessToken == "" && g.state.refreshToken() == "" {
		// Anonymous request: there is nothing to refresh.
		return resp, nil
	}

	refreshed, err := g.coordinator.Resolve(req.Context())
	if err != nil {
		drainClose(resp.Body)
		return nil, err
	}

	drainClose(resp.Body)
	g.metrics.Inc(MetricGatewayRetry)

	retryResp, err := g.send(req, refreshed)
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		g.metrics.Inc(MetricGatewayAuthExpired)
	}
	return retryResp, nil
}

// RoundTrip describes the roundtrip operation and its observable behavior.
//
// RoundTrip lets the gateway back an [http.Client] transport so existing
// request code picks up bearer attachment and refresh-on-401 unchanged.
func (g *RequestGateway) RoundTrip(req *http.Request) (*http.Response, error) {
	return g.Do(req)
}

// Client returns an [http.Client] whose transport is this gateway.
func (g *RequestGateway) Client() *http.Client {
	return &http.Client{Transport: g}
}

func (g *RequestGateway) send(req *http.Request, accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}

	if accessToken != "" {
		out.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if g.userAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", g.userAgent)
	}
	if g.instanceID != "" {
		out.Header.Set(clientInstanceHeader, g.instanceID)
	}

	base := g.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}

func (g *RequestGateway) isExempt(path string) bool {
	_, ok := g.exempt[path]
	return ok
}
