package token

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ---- Public types ----

// AccessClaims is the payload of a locally-signed access token minted at login.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type Keyring struct {
	Alg        string
	Keys       map[string][]byte // kid -> secret
	CurrentKID string
	Issuer     string
	SkewSec    int
	// MaxTTL caps Sign() so no access token outlives the policy window.
	MaxTTL time.Duration

	nowFunc func() time.Time
}

// ---- Errors (exported for callers/tests) ----

var (
	ErrEmptyToken     = errors.New("empty token")
	ErrMissingKID     = errors.New("missing kid")
	ErrUnknownKID     = errors.New("unknown kid")
	ErrIssuerMismatch = errors.New("issuer mismatch")
	ErrSubjectMissing = errors.New("sub missing")
	ErrExpMissing     = errors.New("exp missing")
	ErrNbfInFuture    = errors.New("nbf in the future")
	ErrTTLTooLarge    = errors.New("token lifetime exceeds max")
)

// ---- Constructors ----

// NewKeyring loads base64url secrets and prepares a signing/verification keyring.
// alg must be an HMAC algorithm ("HS256" recommended).
func NewKeyring(alg string, keys map[string]string, current, iss string, skew int) (*Keyring, error) {
	switch alg {
	case "HS256", "HS384", "HS512":
	default:
		return nil, errors.New("unsupported alg (expected HS256/384/512)")
	}
	kr := &Keyring{
		Alg:     alg,
		Keys:    make(map[string][]byte, len(keys)),
		Issuer:  iss,
		SkewSec: skew,
		MaxTTL:  24 * time.Hour,
		nowFunc: time.Now,
	}
	for kid, b64 := range keys {
		dec, err := base64.RawURLEncoding.DecodeString(b64)
		if err != nil {
			return nil, err
		}
		if len(dec) < 16 {
			return nil, errors.New("signing key too short; need >=16 bytes")
		}
		kr.Keys[kid] = dec
	}
	if _, ok := kr.Keys[current]; !ok {
		return nil, errors.New("current_kid not found in keys")
	}
	kr.CurrentKID = current
	if kr.Issuer == "" {
		kr.Issuer = "trailchat"
	}
	return kr, nil
}

// ---- Operations ----

// Sign mints an access token for the given subject with bounded TTL and the
// configured issuer. If ttl > MaxTTL, it is clamped to MaxTTL.
func (k *Keyring) Sign(sub, email, role string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", ErrSubjectMissing
	}
	if ttl <= 0 {
		ttl = time.Hour // safe default
	}
	if ttl > k.MaxTTL {
		ttl = k.MaxTTL // clamp instead of error to avoid caller surprises
	}
	now := k.nowFunc()
	claims := AccessClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.Issuer,
			Subject:   sub,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(k.Alg), claims)
	t.Header["kid"] = k.CurrentKID
	secret := k.Keys[k.CurrentKID]
	if len(secret) == 0 {
		return "", errors.New("missing signing key for current_kid")
	}
	return t.SignedString(secret)
}

// Verify checks signature, issuer, and time-based claims without any network
// call. On success it returns the claims; Remaining reports the validity left.
func (k *Keyring) Verify(tok string) (*AccessClaims, error) {
	if tok == "" {
		return nil, ErrEmptyToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{k.Alg}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(k.nowFunc),
		jwt.WithLeeway(time.Duration(k.SkewSec)*time.Second),
	)
	var claims AccessClaims

	// Signature & alg enforcement via parser; select key by kid.
	token, err := parser.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		kidVal, ok := t.Header["kid"]
		if !ok {
			return nil, ErrMissingKID
		}
		kid, _ := kidVal.(string)
		secret, ok := k.Keys[kid]
		if !ok {
			return nil, ErrUnknownKID
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}

	// Issuer check (constant-time).
	if subtle.ConstantTimeCompare([]byte(claims.Issuer), []byte(k.Issuer)) != 1 {
		return nil, ErrIssuerMismatch
	}
	if claims.Subject == "" {
		return nil, ErrSubjectMissing
	}

	now := k.nowFunc()
	skew := time.Duration(k.SkewSec) * time.Second

	// NotBefore (optional)
	if claims.NotBefore != nil && now.Add(skew).Before(claims.NotBefore.Time) {
		return nil, ErrNbfInFuture
	}

	// ExpiresAt (required)
	if claims.ExpiresAt == nil {
		return nil, ErrExpMissing
	}

	// Enforce maximum life window.
	if claims.IssuedAt != nil {
		lifetime := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time)
		if lifetime > k.MaxTTL+skew {
			return nil, ErrTTLTooLarge
		}
	}

	return &claims, nil
}

// Remaining reports the validity left on verified claims, floored at zero.
func (k *Keyring) Remaining(claims *AccessClaims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	left := claims.ExpiresAt.Time.Sub(k.nowFunc())
	if left < 0 {
		return 0
	}
	return left
}
