package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"
)

func TestIssuer_HMAC(t *testing.T) {
	iss, err := NewHMACIssuer("s3cret", "activitylogger", "app")
	if err != nil {
		t.Fatal(err)
	}
	token, err := iss.Issue("42", "ada@example.com", "admin", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	v, _ := NewHMACValidator("s3cret", "activitylogger", "app")
	claims, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "42" || claims.Email != "ada@example.com" || claims.PrincipalType != "admin" {
		t.Errorf("claims = %+v", claims)
	}

	other, _ := NewHMACValidator("different", "activitylogger", "app")
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token validated with the wrong secret")
	}
}

func TestIssuer_RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, _ := x509.MarshalPKIXPublicKey(&key.PublicKey)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	iss, err := NewRSAIssuer(string(privPEM), "key-1", "activitylogger", "")
	if err != nil {
		t.Fatalf("NewRSAIssuer() error = %v", err)
	}
	token, err := iss.Issue("7", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewJWTValidator(string(pubPEM), "activitylogger", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.ValidateToken(token); err != nil {
		t.Errorf("ValidateToken() error = %v", err)
	}
}

func TestIssuer_Errors(t *testing.T) {
	if _, err := NewHMACIssuer("", "", ""); err == nil {
		t.Error("NewHMACIssuer(\"\") error = nil")
	}
	if _, err := NewRSAIssuer("not pem", "", "", ""); err == nil {
		t.Error("NewRSAIssuer(garbage) error = nil")
	}
	iss, _ := NewHMACIssuer("x", "", "")
	if _, err := iss.Issue("", "", "", time.Minute); err == nil {
		t.Error("Issue without subject error = nil")
	}

	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := iss.Issue("1", "", "", time.Minute)
	v, _ := NewHMACValidator("x", "", "")
	if _, err := v.ValidateToken(expired); err == nil {
		t.Error("expired token validated")
	}
}
