// Package middleware adapts bearer-token validation and per-route authorization
// declarations to net/http and chi.
//
// # Guards
//
//   - [Authenticate]: requires a valid bearer token and stores its claims in the
//     request context.
//   - [Enforce]: fail-closed guard. Every route the router can match must be
//     declared with [AllowAnonymous] or [Authorize] in a [Policies] registry.
//     A matched but undeclared route answers 500 so the omission surfaces during
//     development instead of silently exposing the handler.
//
// Register handlers through [Handle] so the route and its declaration cannot
// drift apart:
//
//	policies := middleware.NewPolicies()
//	r := chi.NewRouter()
//	r.Use(middleware.Enforce(r, policies, engine, logger))
//	middleware.Handle(r, policies, http.MethodGet, "/me", middleware.Authorize(), meHandler)
//
// # Architecture boundaries
//
// This package translates HTTP semantics into [Validator] calls. Token parsing
// and signature checks belong to the validator.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly.
//   - Touch the nonce store.
//   - Echo validation error details to clients.
package middleware
