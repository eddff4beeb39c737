package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// DefaultIssuedAtBackdate is subtracted from iat so freshly issued tokens are
// never "issued in the future" on a verifier with a slightly slow clock.
const DefaultIssuedAtBackdate = 5 * time.Second

const minHS256KeyLength = 32

var (
	// ErrReservedClaim is returned when extra claims try to set a registered name.
	ErrReservedClaim = errors.New("claim name is reserved")
	// ErrInvalidValidity is returned for non-positive token lifetimes.
	ErrInvalidValidity = errors.New("token validity must be > 0")
	// ErrNoSigningKey is returned by IssueToken on a verify-only Manager.
	ErrNoSigningKey = errors.New("signing key not configured")
)

var reservedClaims = map[string]struct{}{
	"sub": {}, "jti": {}, "iat": {}, "nbf": {}, "exp": {}, "iss": {}, "aud": {},
}

// Config controls issuance and verification.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or the ed25519 private key
	// (raw or PEM) for ed25519.
	PrivateKey []byte
	// PublicKey is the ed25519 public key (raw or PEM). Unused for hs256.
	PublicKey []byte
	Issuer    string
	// Audience defaults to Issuer.
	Audience string
	KeyID    string
	// VerifyKeys maps kid to verification key, for key rotation.
	VerifyKeys map[string][]byte
	// IssuedAtBackdate defaults to DefaultIssuedAtBackdate. Negative disables it.
	IssuedAtBackdate time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager issues and parses tokens. It is immutable after NewManager and safe
// for concurrent use.
type Manager struct {
	config Config
}

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	ID        string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
	// Extra holds every non-registered claim.
	Extra map[string]any
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("audience must not be blank")
	}
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}
	if cfg.IssuedAtBackdate == 0 {
		cfg.IssuedAtBackdate = DefaultIssuedAtBackdate
	}
	if cfg.IssuedAtBackdate < 0 {
		cfg.IssuedAtBackdate = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHS256KeyLength && len(cfg.VerifyKeys) == 0 {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHS256KeyLength)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if cfg.SigningMethod == MethodEd25519 {
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// Issuer reports the configured issuer.
func (j *Manager) Issuer() string {
	return j.config.Issuer
}

// CanSign reports whether the Manager holds a signing key. Managers built
// from VerifyKeys or a public key alone can only parse tokens.
func (j *Manager) CanSign() bool {
	return len(j.config.PrivateKey) > 0
}

// IssueToken signs a token for subject valid for validFor, carrying extra as
// additional private claims.
func (j *Manager) IssueToken(subject string, validFor time.Duration, extra map[string]any) (string, error) {
	if validFor <= 0 {
		return "", ErrInvalidValidity
	}

	now := j.config.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"jti": uuid.NewString(),
		"iat": jwt.NewNumericDate(now.Add(-j.config.IssuedAtBackdate)),
		"nbf": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(validFor)),
		"iss": j.config.Issuer,
		"aud": j.config.Audience,
	}
	for name, value := range extra {
		if _, reserved := reservedClaims[name]; reserved {
			return "", fmt.Errorf("%w: %s", ErrReservedClaim, name)
		}
		claims[name] = value
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

// ParseToken verifies tokenStr and returns its claims.
func (j *Manager) ParseToken(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithIssuer(j.config.Issuer),
		jwt.WithAudience(j.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(j.config.Now),
	)

	mapClaims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenStr, mapClaims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return j.keyBytesToVerifyKey(key)
		}

		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return j.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claimsFromMap(mapClaims)
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	out := &Claims{Extra: make(map[string]any)}

	var err error
	if out.Subject, err = m.GetSubject(); err != nil {
		return nil, err
	}
	if out.Issuer, err = m.GetIssuer(); err != nil {
		return nil, err
	}
	aud, err := m.GetAudience()
	if err != nil {
		return nil, err
	}
	out.Audience = []string(aud)

	if out.IssuedAt, err = numericTime(m.GetIssuedAt()); err != nil {
		return nil, err
	}
	if out.NotBefore, err = numericTime(m.GetNotBefore()); err != nil {
		return nil, err
	}
	if out.ExpiresAt, err = numericTime(m.GetExpirationTime()); err != nil {
		return nil, err
	}
	if jti, ok := m["jti"]; ok {
		s, ok := jti.(string)
		if !ok {
			return nil, jwt.ErrInvalidType
		}
		out.ID = s
	}

	for name, value := range m {
		if _, reserved := reservedClaims[name]; !reserved {
			out.Extra[name] = value
		}
	}

	return out, nil
}

func numericTime(d *jwt.NumericDate, err error) (time.Time, error) {
	if err != nil {
		return time.Time{}, err
	}
	if d == nil {
		return time.Time{}, nil
	}
	return d.Time, nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		if len(j.config.PrivateKey) == 0 {
			return nil, ErrNoSigningKey
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, ErrNoSigningKey
		}
		return j.config.PrivateKey, nil
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(j.config.PublicKey)
	default:
		return j.config.PrivateKey, nil
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(key)
	default:
		return key, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
