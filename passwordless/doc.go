// Package passwordless binds short-lived nonces to application keys for
// out-of-band login flows.
//
// A caller asks for a nonce bound to a key (a user id, an email address, a
// pending session id), delivers the nonce to the user over another channel, and
// later exchanges the nonce back for the key exactly once:
//
//	nonce, err := svc.GenerateNonce(ctx, "user-42")
//	// ... email nonce ...
//	key, ok, err := svc.GetKeyFromNonce(ctx, nonce)
//
// # Guarantees
//
//   - A binding is redeemable at most once. Redemption is a single atomic take on
//     the backing [cache.Cache], so concurrent redeemers of one nonce see the key
//     at most once between them.
//   - A binding is unreachable once its TTL (default 10 minutes) has elapsed.
//     Expiry belongs to the store; this package runs no timers.
//   - Unknown, expired and already-redeemed nonces are indistinguishable: all
//     three return ok == false with a nil error.
//
// Nonces are lowercase hex prefixes of SHA-256 over 16 random bytes. The default
// 8 characters give a 32-bit space, so uniqueness is probabilistic and a
// collision overwrites the earlier binding; raise the length with
// [WithNonceLength] for high issuance rates.
//
// # Architecture boundaries
//
// This package owns nonce derivation and the redeem-once contract. It does NOT
// deliver nonces, issue tokens, or rate-limit callers.
//
// # What this package must NOT do
//
//   - Retry store failures or cache bindings in process memory.
//   - Log nonces or keys.
package passwordless
