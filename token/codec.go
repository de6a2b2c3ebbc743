package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Method selects the HMAC signing method.
type Method string

const (
	// MethodHS256 signs with HMAC-SHA256. It is the default.
	MethodHS256 Method = "hs256"
	// MethodHS384 signs with HMAC-SHA384.
	MethodHS384 Method = "hs384"
	// MethodHS512 signs with HMAC-SHA512.
	MethodHS512 Method = "hs512"
)

// MinSecretBytes is the shortest accepted signing secret.
const MinSecretBytes = 32

var (
	// ErrMalformed is returned when a token cannot be parsed or lacks required claims.
	ErrMalformed = errors.New("token malformed")
	// ErrSignatureMismatch is returned when the signature does not verify.
	ErrSignatureMismatch = errors.New("token signature mismatch")
	// ErrExpired is returned when the issuance time is outside the freshness window.
	ErrExpired = errors.New("token expired")
)

// Config defines codec keys and freshness bounds.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Secret []byte
	Method Method
	Issuer string
	// TTL bounds how long after issuance a token is accepted.
	TTL time.Duration
	// Skew is the tolerated clock difference in both directions.
	Skew time.Duration
	// KeyID is stamped into the kid header of issued tokens.
	KeyID string
	// VerifyKeys holds every secret still accepted for verification, by kid.
	// When set, KeyID must be one of its entries.
	VerifyKeys map[string][]byte
	Now        func() time.Time
}

// Claims is the verified content of a round token.
type Claims struct {
	SessionID  string
	RoundIndex uint32
	Nonce      string
	IssuedAt   time.Time
}

type roundClaims struct {
	SID   string `json:"sid"`
	Round uint32 `json:"rnd"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Codec signs and verifies round tokens. A Codec is safe for concurrent use.
type Codec struct {
	config Config
	method jwt.SigningMethod
	parser *jwt.Parser
}

// NewCodec validates cfg and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid token TTL")
	}
	if cfg.Skew < 0 || cfg.Skew > 5*time.Minute {
		return nil, errors.New("invalid token skew")
	}
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.Method == "" {
		cfg.Method = MethodHS256
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	var method jwt.SigningMethod
	switch cfg.Method {
	case MethodHS256:
		method = jwt.SigningMethodHS256
	case MethodHS384:
		method = jwt.SigningMethodHS384
	case MethodHS512:
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.New("unsupported token signing method")
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinSecretBytes {
			return nil, fmt.Errorf("verify key for kid %q is shorter than %d bytes", kid, MinSecretBytes)
		}
	}
	if len(cfg.VerifyKeys) > 0 {
		if cfg.KeyID == "" {
			return nil, errors.New("KeyID is required when VerifyKeys is set")
		}
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Skew > 0 {
		options = append(options, jwt.WithLeeway(cfg.Skew))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Codec{
		config: cfg,
		method: method,
		parser: jwt.NewParser(options...),
	}, nil
}

// Issue signs a token for the given session round.
func (c *Codec) Issue(sessionID string, roundIndex uint32, nonce string) (string, error) {
	if sessionID == "" || nonce == "" {
		return "", ErrMalformed
	}

	now := c.config.Now()
	claims := roundClaims{
		SID:   sessionID,
		Round: roundIndex,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.TTL)),
		},
	}

	tok := jwt.NewWithClaims(c.method, claims)
	if c.config.KeyID != "" {
		tok.Header["kid"] = c.config.KeyID
	}

	return tok.SignedString(c.config.Secret)
}

// Verify checks signature and freshness and returns the bound claims.
//
// The returned error is one of ErrMalformed, ErrSignatureMismatch or
// ErrExpired, wrapping the underlying parser error.
func (c *Codec) Verify(raw string) (Claims, error) {
	if raw == "" || len(raw) > maxTokenLength {
		return Claims{}, ErrMalformed
	}

	parsed, err := c.parser.ParseWithClaims(raw, &roundClaims{}, c.keyFunc)
	if err != nil {
		return Claims{}, classify(err)
	}

	claims, ok := parsed.Claims.(*roundClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrMalformed
	}
	if claims.SID == "" || claims.Nonce == "" || claims.IssuedAt == nil {
		return Claims{}, ErrMalformed
	}

	return Claims{
		SessionID:  claims.SID,
		RoundIndex: claims.Round,
		Nonce:      claims.Nonce,
		IssuedAt:   claims.IssuedAt.Time,
	}, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(c.config.VerifyKeys) > 0 {
		key, ok := c.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if c.config.KeyID != "" && kid != c.config.KeyID {
		return nil, errors.New("unknown kid")
	}

	return c.config.Secret, nil
}

// maxTokenLength caps parser work on hostile input.
const maxTokenLength = 2048

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// RoundID derives the short public identifier of a round. It is echoed by
// clients next to the token and must match the token's claims.
func RoundID(sessionID string, roundIndex uint32, nonce string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatUint(uint64(roundIndex), 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
