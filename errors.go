package authkit

import "errors"

var (
	// ErrUnauthorized is returned by ExchangeNonce for unknown, expired and
	// already-redeemed nonces alike.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidKey is returned when a nonce is requested for an empty key.
	ErrInvalidKey = errors.New("invalid nonce key")
	// ErrRateLimited is returned when a client has used up its failed
	// redemption budget.
	ErrRateLimited = errors.New("too many failed redemptions")
	// ErrNonceStoreUnavailable is returned when the nonce backing store fails.
	ErrNonceStoreUnavailable = errors.New("nonce store unavailable")
	// ErrTokenInvalid wraps every token verification failure.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenIssueFailed is returned when a token cannot be signed.
	ErrTokenIssueFailed = errors.New("token issue failed")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUndeclaredRoute marks a route served without an authorization declaration.
	ErrUndeclaredRoute = errors.New("route has no authorization declaration")
	// ErrInvalidConfig wraps every Config.Validate failure.
	ErrInvalidConfig = errors.New("invalid config")
)
