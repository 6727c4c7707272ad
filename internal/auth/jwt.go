package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/austindbirch/activitylogger/internal/config"
	"github.com/austindbirch/activitylogger/internal/enrich"
)

var (
	ErrNotConfigured = errors.New("auth: no jwt key configured")
	ErrMissingToken  = errors.New("auth: missing bearer token")
)

// Claims are the token claims a principal is built from.
type Claims struct {
	Email         string `json:"email,omitempty"`
	PrincipalType string `json:"principal_type,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates bearer tokens signed with an RSA key or an HMAC secret.
type JWTValidator struct {
	key           any
	methods       []string
	issuer        string
	audience      string
	principalType string
}

// NewJWTValidator creates an RS256 validator from a PEM public key.
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	key, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{
		key:      key,
		methods:  []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodRS384.Alg(), jwt.SigningMethodRS512.Alg()},
		issuer:   issuer,
		audience: audience,
	}, nil
}

// NewHMACValidator creates an HS256 validator from a shared secret.
func NewHMACValidator(secret, issuer, audience string) (*JWTValidator, error) {
	if secret == "" {
		return nil, fmt.Errorf("hmac secret is empty")
	}
	return &JWTValidator{
		key:      []byte(secret),
		methods:  []string{jwt.SigningMethodHS256.Alg()},
		issuer:   issuer,
		audience: audience,
	}, nil
}

// FromConfig picks RSA when a public key is set, else HMAC. It returns
// ErrNotConfigured when neither is set.
func FromConfig(cfg config.JWT) (*JWTValidator, error) {
	var (
		v   *JWTValidator
		err error
	)
	switch {
	case cfg.PublicKeyPEM != "":
		v, err = NewJWTValidator(cfg.PublicKeyPEM, cfg.Issuer, cfg.Audience)
	case cfg.Secret != "":
		v, err = NewHMACValidator(cfg.Secret, cfg.Issuer, cfg.Audience)
	default:
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	v.principalType = cfg.PrincipalType
	return v, nil
}

func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err == nil {
		return publicKey, nil
	}
	// Try parsing as PKIX
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	publicKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return publicKey, nil
}

// ValidateToken verifies signature, expiry, issuer and audience and returns the claims.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	return claims, nil
}

// Resolve validates token and returns the principal it names.
func (v *JWTValidator) Resolve(_ context.Context, token string) (enrich.Principal, error) {
	claims, err := v.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	typ := claims.PrincipalType
	if typ == "" {
		typ = v.principalType
	}
	return &enrich.User{ID: claims.Subject, Type: typ, EmailAddr: claims.Email}, nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return strings.TrimSpace(token), nil
}
