// Package store provides the credential persistence backends used by
// authsession.
//
// The session client addresses storage through the single [Store] capability
// interface; the concrete backend is chosen once at composition time via the
// root Builder rather than branched on inside session logic.
//
// # Backends
//
//   - [Memory]: per-process map, nothing survives exit (tab-scoped clients,
//     tests).
//   - [File]: single encrypted file, argon2id + XChaCha20-Poly1305 (the
//     secure-keystore analogue for native clients).
//   - [Redis]: go-redis backed slots for headless multi-worker deployments.
//
// # What this package must NOT do
//
//   - Interpret slot contents; values are opaque strings to every backend.
//   - Import authsession or any sibling package.
package store
