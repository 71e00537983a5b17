// Package clinicauth is the authentication and session-security core of
// the BrightDent clinic backend: credential verification, signed
// access/refresh token pairs, a per-account session registry, lockout and
// suspicion scoring, and an append-only security event log — all carried
// on a single persistent account aggregate.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// clinicauth is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (Account, Session, SecurityEvent, Profile).
// Durable state lives behind the injected [AccountProvider]; outbound
// notification goes through the injected [Mailer]; login throttling goes
// through the injected ratelimit.Limiter. The engine keeps no hidden
// global state.
//
// # What this package must NOT do
//
//   - Expose password hashes, two-factor secrets, or backup codes through
//     any client-facing type (see [Profile]).
//   - Let risk scoring deny a login. High suspicion notifies, never blocks.
//   - Conflate store infrastructure failures with authentication failures.
package clinicauth
