// Package authkit wires passwordless nonce exchange, self-issued bearer tokens
// and route-level authorization into one [Engine].
//
// A typical login flow:
//
//	nonce, _ := engine.GenerateNonce(ctx, "user-42") // deliver out of band
//	res, err := engine.ExchangeNonce(ctx, nonce)      // res.Token is a bearer token
//
// Engine methods are safe to call from multiple goroutines once [Builder.Build]
// returns.
//
// # Architecture boundaries
//
// authkit is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([MetricsSnapshot], [TokenResult]). Nonce derivation lives in
// passwordless, storage in cache and its subpackages, token handling in jwt,
// and HTTP enforcement in middleware.
//
// # What this package must NOT do
//
//   - Log or audit raw nonces. Only short hashed references leave the Engine.
//   - Retry store failures or keep shadow copies of bindings.
//   - Import middleware or metrics/export. Those packages sit on top of Engine.
package authkit
