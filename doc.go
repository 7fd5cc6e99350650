// Package authsession provides the client-side authentication session and
// token-refresh coordinator for clinicore clients: secure credential
// persistence, optimistic session restoration at startup, single-flight
// coordination of token refresh under concurrent request load, and
// cross-cutting logout propagation.
//
// The package is designed for concurrent client workloads: Manager and
// RequestGateway methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authsession is the public surface. It exposes [Manager], [Builder],
// [Config], [RequestGateway], [RefreshCoordinator], and value types
// (Session, Credential, Profile, LogoutReport, etc.). All internal
// coordination — event fan-out, dispatcher buffering, metric storage —
// lives under internal/ and is never exported. Storage backends live in
// store/ behind the single store.Store capability interface, selected once
// at composition time.
//
// # What this package must NOT do
//
//   - Verify token signatures client-side; the unsigned payload is decoded
//     only for the pre-expiry check (see token package).
//   - Coordinate sessions across processes; each process owns an
//     independent refresh coordinator.
//   - Let any component other than Manager perform a terminal transition
//     to StatusLoggedOut.
//
// # Performance contract
//
// Reading the current session ([Manager.Current], token attach in the
// gateway) is the hot path: it takes a read lock and copies a small struct,
// no I/O. Login, Restore, Refresh, and Logout are allowed network and
// storage round-trips.
package authsession
