package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are issued by the identity provider for back-office users. OrgID scopes
// every tenant request.
type Claims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type VerifierConfig struct {
	// HMACSecret enables HS256 tokens (local development and tests).
	HMACSecret string
	// JWKS enables RS256 tokens signed by the identity provider.
	JWKS     *JWKSClient
	Issuer   string
	Audience string
}

type Verifier struct {
	cfg     VerifierConfig
	methods []string
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	var methods []string
	if cfg.HMACSecret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.JWKS != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	if len(methods) == 0 {
		return nil, errors.New("auth: either an HMAC secret or a JWKS url is required")
	}
	return &Verifier{cfg: cfg, methods: methods}, nil
}

func (v *Verifier) keyfunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(v.cfg.HMACSecret), nil
	case *jwt.SigningMethodRSA:
		return v.cfg.JWKS.Keyfunc(token)
	}
	return nil, ErrInvalidToken
}

// Verify checks signature, expiry and the configured issuer and audience.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyfunc, opts...)
	if err != nil || !token.Valid {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.OrgID == "" {
		return nil, errors.Join(ErrInvalidToken, errors.New("token has no org_id"))
	}
	return claims, nil
}

// SignHS256 issues a development token.
func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
