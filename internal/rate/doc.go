// Package rate limits failed nonce redemptions per client.
//
// # Window semantics
//
// Fixed-window counters: the first attempt in a window starts it and sets its
// expiry; later attempts only increment. Each redemption reserves an attempt
// before the nonce is looked up and releases it again unless the lookup
// missed, so only misses stay counted. A subject is limited once its count
// would exceed the configured maximum and stays limited until the window
// expires.
//
// Counters live in Redis (one Lua script does INCR and sets PEXPIRE whenever
// the key has no TTL, key prefix "rf:") or in process memory for the other
// backends.
package rate
