package internaldefs

import (
	authsession "github.com/clinicore/authsession"
)

// CounterDef defines a public type used by authsession APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   authsession.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the session client.
var CounterDefs = []CounterDef{
	{ID: authsession.MetricLoginSuccess, Name: "authsession_login_success_total", Help: "Successful login exchanges."},
	{ID: authsession.MetricLoginFailure, Name: "authsession_login_failure_total", Help: "Failed login exchanges."},
	{ID: authsession.MetricRestoreOptimistic, Name: "authsession_restore_optimistic_total", Help: "Startup restorations presented optimistically from cached state."},
	{ID: authsession.MetricRestoreAnonymous, Name: "authsession_restore_anonymous_total", Help: "Startup restorations that found no usable credential."},
	{ID: authsession.MetricVerifySuccess, Name: "authsession_verify_success_total", Help: "Successful profile verifications."},
	{ID: authsession.MetricVerifyFailure, Name: "authsession_verify_failure_total", Help: "Profile verifications rejected by the backend."},
	{ID: authsession.MetricVerifyDeferred, Name: "authsession_verify_deferred_total", Help: "Profile verifications deferred on network or server trouble."},
	{ID: authsession.MetricRefreshSuccess, Name: "authsession_refresh_success_total", Help: "Successful token refresh exchanges."},
	{ID: authsession.MetricRefreshFailure, Name: "authsession_refresh_failure_total", Help: "Failed token refresh exchanges."},
	{ID: authsession.MetricRefreshCoalesced, Name: "authsession_refresh_coalesced_total", Help: "Refresh callers coalesced onto an in-flight exchange."},
	{ID: authsession.MetricGatewayRetry, Name: "authsession_gateway_retry_total", Help: "Requests replayed after a refresh."},
	{ID: authsession.MetricGatewayAuthExpired, Name: "authsession_gateway_auth_expired_total", Help: "Requests still unauthorized after one replay."},
	{ID: authsession.MetricLogoutExplicit, Name: "authsession_logout_explicit_total", Help: "User-initiated logouts."},
	{ID: authsession.MetricLogoutForced, Name: "authsession_logout_forced_total", Help: "Logouts forced by terminal auth failures."},
	{ID: authsession.MetricStorageCleanupFailure, Name: "authsession_storage_cleanup_failure_total", Help: "Storage keys that failed to clear during logout."},
}
