// Package middleware exposes HTTP adapters for the clinicauth engine.
//
// [Guard] reads the Authorization bearer token, attaches the caller's IP
// and User-Agent to the request context, calls Engine.Authenticate, and
// injects the validated result for downstream handlers. Optional role
// arguments turn it into a role gate; [RequireStaff] and [RequireAdmin]
// are the two common presets.
//
// This package translates HTTP semantics into engine calls. It does not
// implement authentication or authorization logic itself.
package middleware
