package authsession

import (
	"io"

	"github.com/clinicore/authsession/internal/events"
	internalmetrics "github.com/clinicore/authsession/internal/metrics"
)

// Status represents the lifecycle state of the in-memory session.
type Status uint8

const (
	// StatusAnonymous is an exported constant or variable used by the session client.
	StatusAnonymous Status = iota
	// StatusOptimistic is an exported constant or variable used by the session client.
	StatusOptimistic
	// StatusVerified is an exported constant or variable used by the session client.
	StatusVerified
	// StatusRefreshing is an exported constant or variable used by the session client.
	StatusRefreshing
	// StatusLoggedOut is an exported constant or variable used by the session client.
	StatusLoggedOut
)

// String describes the string operation and its observable behavior.
func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusOptimistic:
		return "optimistic"
	case StatusVerified:
		return "verified"
	case StatusRefreshing:
		return "refreshing"
	case StatusLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Credential is the opaque bearer token pair issued by the backend. The
// access token is a JWT whose payload may be decoded for the expiry
// pre-check but is never verified client-side.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Profile carries the user identity fields returned by the backend. It is
// cached alongside the credential so callers can render an identity before
// verification completes.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// Session is the single in-memory source of truth: current user, current
// credential, and status. Values returned by [Manager.Current] are copies;
// mutating them has no effect on the live session.
type Session struct {
	User       *Profile
	Credential *Credential
	Status     Status
}

// AccessToken returns the current access token, or "" when anonymous.
func (s Session) AccessToken() string {
	if s.Credential == nil {
		return ""
	}
	return s.Credential.AccessToken
}

// LogoutReason classifies why a session ended.
//
//	Docs: docs/events.md
type LogoutReason = events.Reason

const (
	// LogoutExplicit is an exported constant or variable used by the session client.
	LogoutExplicit = events.ReasonExplicit
	// LogoutRefreshFailed is an exported constant or variable used by the session client.
	LogoutRefreshFailed = events.ReasonRefreshFailed
	// LogoutVerificationFailed is an exported constant or variable used by the session client.
	LogoutVerificationFailed = events.ReasonVerificationFailed
	// LogoutStorageCorrupted is an exported constant or variable used by the session client.
	LogoutStorageCorrupted = events.ReasonStorageCorrupted
)

// SessionEvent is a structured event emitted on session transitions.
//
//	Docs: docs/events.md
type SessionEvent = events.Event

// EventSink receives [SessionEvent] values from the manager's dispatcher.
//
//	Docs: docs/events.md
type EventSink = events.Sink

// NoOpSink is an [EventSink] that silently discards all events.
type NoOpSink = events.NoOpSink

// ChannelSink is a buffered channel-based [EventSink].
//
//	Docs: docs/events.md
type ChannelSink = events.ChannelSink

// JSONWriterSink is an [EventSink] that writes JSON-encoded events to an
// [io.Writer].
//
//	Docs: docs/events.md
type JSONWriterSink = events.JSONWriterSink

// EventSubscription is the disposable handle returned by
// [Manager.SubscribeEvents].
type EventSubscription = events.Subscription

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return events.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return events.NewJSONWriterSink(w)
}

// KeyFailure records one storage key that could not be cleared during
// logout cleanup.
type KeyFailure struct {
	Key string
	Err error
}

// LogoutReport collects the per-key outcomes of logout cleanup. Cleanup is
// best-effort per key: one key's failure never prevents attempting the
// others, and never blocks the in-memory transition to logged_out.
type LogoutReport struct {
	Failures []KeyFailure
}

// Clean describes the clean operation and its observable behavior.
//
// Clean reports whether every storage key was removed successfully.
func (r LogoutReport) Clean() bool {
	return len(r.Failures) == 0
}

// Warning returns a single user-facing warning line when cleanup was
// incomplete, or "" when it was clean.
func (r LogoutReport) Warning() string {
	if r.Clean() {
		return ""
	}
	return "some locally stored data could not be cleared; manual data clearing may be required"
}

// MetricID identifies a specific counter in the in-process metrics system.
//
//	Docs: docs/metrics.md
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess is an exported constant or variable used by the session client.
	MetricLoginSuccess = MetricID(internalmetrics.MetricLoginSuccess)
	// MetricLoginFailure is an exported constant or variable used by the session client.
	MetricLoginFailure = MetricID(internalmetrics.MetricLoginFailure)
	// MetricRestoreOptimistic is an exported constant or variable used by the session client.
	MetricRestoreOptimistic = MetricID(internalmetrics.MetricRestoreOptimistic)
	// MetricRestoreAnonymous is an exported constant or variable used by the session client.
	MetricRestoreAnonymous = MetricID(internalmetrics.MetricRestoreAnonymous)
	// MetricVerifySuccess is an exported constant or variable used by the session client.
	MetricVerifySuccess = MetricID(internalmetrics.MetricVerifySuccess)
	// MetricVerifyFailure is an exported constant or variable used by the session client.
	MetricVerifyFailure = MetricID(internalmetrics.MetricVerifyFailure)
	// MetricVerifyDeferred is an exported constant or variable used by the session client.
	MetricVerifyDeferred = MetricID(internalmetrics.MetricVerifyDeferred)
	// MetricRefreshSuccess is an exported constant or variable used by the session client.
	MetricRefreshSuccess = MetricID(internalmetrics.MetricRefreshSuccess)
	// MetricRefreshFailure is an exported constant or variable used by the session client.
	MetricRefreshFailure = MetricID(internalmetrics.MetricRefreshFailure)
	// MetricRefreshCoalesced is an exported constant or variable used by the session client.
	MetricRefreshCoalesced = MetricID(internalmetrics.MetricRefreshCoalesced)
	// MetricGatewayRetry is an exported constant or variable used by the session client.
	MetricGatewayRetry = MetricID(internalmetrics.MetricGatewayRetry)
	// MetricGatewayAuthExpired is an exported constant or variable used by the session client.
	MetricGatewayAuthExpired = MetricID(internalmetrics.MetricGatewayAuthExpired)
	// MetricLogoutExplicit is an exported constant or variable used by the session client.
	MetricLogoutExplicit = MetricID(internalmetrics.MetricLogoutExplicit)
	// MetricLogoutForced is an exported constant or variable used by the session client.
	MetricLogoutForced = MetricID(internalmetrics.MetricLogoutForced)
	// MetricStorageCleanupFailure is an exported constant or variable used by the session client.
	MetricStorageCleanupFailure = MetricID(internalmetrics.MetricStorageCleanupFailure)

	metricIDCount = internalmetrics.MetricIDCount
)

// Metrics holds atomic counters.
//
//	Docs: docs/metrics.md
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
//
//	Docs: docs/metrics.md
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled: cfg.Enabled,
	})
}
