// Package token inspects the unsigned payload of JWT access tokens.
//
// The client never verifies token signatures — that is a server
// responsibility. The only legitimate client-side use of the payload is the
// cheap pre-expiry check performed by the request gateway before attaching a
// bearer token, which this package provides via [ExpiresWithin].
//
// # What this package must NOT do
//
//   - Verify signatures or accept tokens as proof of identity.
//   - Import authsession or any sibling package.
package token
