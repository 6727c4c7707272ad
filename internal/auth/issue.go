package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs tokens that a matching JWTValidator accepts.
type Issuer struct {
	method   jwt.SigningMethod
	key      any
	keyID    string
	issuer   string
	audience string
	now      func() time.Time
}

// NewHMACIssuer signs HS256 tokens with a shared secret.
func NewHMACIssuer(secret, issuer, audience string) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("hmac secret is empty")
	}
	return &Issuer{method: jwt.SigningMethodHS256, key: []byte(secret), issuer: issuer, audience: audience, now: time.Now}, nil
}

// NewRSAIssuer signs RS256 tokens with a PEM private key (PKCS1 or PKCS8).
func NewRSAIssuer(privateKeyPEM, keyID, issuer, audience string) (*Issuer, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		if key, ok = parsed.(*rsa.PrivateKey); !ok {
			return nil, errors.New("private key is not RSA")
		}
	}
	return &Issuer{method: jwt.SigningMethodRS256, key: key, keyID: keyID, issuer: issuer, audience: audience, now: time.Now}, nil
}

// Issue signs a token for subject. ttl defaults to one hour.
func (i *Issuer) Issue(subject, email, principalType string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := i.now()
	claims := Claims{
		Email:         email,
		PrincipalType: principalType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	token := jwt.NewWithClaims(i.method, claims)
	if i.keyID != "" {
		token.Header["kid"] = i.keyID
	}
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
