package passwordless

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/torutek/authkit/cache"
)

const (
	// DefaultTTL is how long a binding stays redeemable.
	DefaultTTL = 10 * time.Minute
	// DefaultNonceLength is the number of hex characters in a nonce.
	DefaultNonceLength = 8
	// DefaultKeyPrefix namespaces bindings inside a shared store.
	DefaultKeyPrefix = "pwl:"

	// MaxNonceLength is the full hex length of a SHA-256 digest.
	MaxNonceLength = sha256.Size * 2

	seedSize = 16
)

var (
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("passwordless store unavailable")
	// ErrEmptyKey is returned by GenerateNonce for an empty key.
	ErrEmptyKey = errors.New("passwordless key must not be empty")
	// ErrInvalidOption is returned by NewService for out-of-range options.
	ErrInvalidOption = errors.New("invalid passwordless option")
)

// Option configures a Service.
type Option func(*Service)

// WithTTL sets how long a binding stays redeemable.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithNonceLength sets the number of hex characters per nonce (1..64).
func WithNonceLength(n int) Option {
	return func(s *Service) { s.nonceLength = n }
}

// WithRandom replaces crypto/rand.Reader as the seed source. The reader must
// be safe for concurrent use if the Service is shared.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

// WithKeyPrefix sets the store key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *Service) { s.prefix = prefix }
}

// WithStrictFormat makes GetKeyFromNonce reject malformed nonces without a
// store round trip. Off by default so that lookup timing does not depend on
// the shape of the input.
func WithStrictFormat(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// Service issues and redeems nonce bindings. It holds no mutable state and is
// safe for concurrent use when its store and random source are.
type Service struct {
	store       cache.Cache
	random      io.Reader
	ttl         time.Duration
	nonceLength int
	prefix      string
	strict      bool
}

// NewService returns a Service over store.
func NewService(store cache.Cache, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidOption)
	}

	s := &Service{
		store:       store,
		random:      rand.Reader,
		ttl:         DefaultTTL,
		nonceLength: DefaultNonceLength,
		prefix:      DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrInvalidOption)
	}
	if s.nonceLength < 1 || s.nonceLength > MaxNonceLength {
		return nil, fmt.Errorf("%w: nonce length must be between 1 and %d", ErrInvalidOption, MaxNonceLength)
	}
	if s.random == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidOption)
	}

	return s, nil
}

// TTL reports how long bindings stay redeemable.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// NonceLength reports the number of hex characters per nonce.
func (s *Service) NonceLength() int {
	return s.nonceLength
}

// GenerateNonce creates a nonce, binds it to key for the configured TTL and
// returns it. A colliding nonce silently replaces the older binding.
func (s *Service) GenerateNonce(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	var seed [seedSize]byte
	if _, err := io.ReadFull(s.random, seed[:]); err != nil {
		return "", fmt.Errorf("generating nonce seed: %w", err)
	}
	nonce := deriveNonce(seed[:], s.nonceLength)

	if err := s.store.Set(ctx, s.prefix+nonce, []byte(key), s.ttl); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return nonce, nil
}

// GetKeyFromNonce redeems nonce. It returns the bound key and ok == true the
// first time a live nonce is presented; every other case (unknown, expired,
// already redeemed) yields ok == false and a nil error.
func (s *Service) GetKeyFromNonce(ctx context.Context, nonce string) (string, bool, error) {
	if s.strict && !s.wellFormed(nonce) {
		return "", false, nil
	}

	value, ok, err := s.store.Take(ctx, s.prefix+nonce)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		return "", false, nil
	}

	return string(value), true, nil
}

func (s *Service) wellFormed(nonce string) bool {
	if len(nonce) != s.nonceLength {
		return false
	}
	for i := 0; i < len(nonce); i++ {
		c := nonce[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// deriveNonce hashes seed and keeps the first length lowercase hex characters.
func deriveNonce(seed []byte, length int) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])[:length]
}
