// Package session implements the SessionStore port as a stateless JWT
// cookie. The gateway never persists sessions server-side; everything
// needed to readmit a browser lives in the signed token itself.
package session

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// CookieSessionStore mints and verifies RS256-signed session tokens.
type CookieSessionStore struct {
	privateKey *rsa.PrivateKey
	duration   time.Duration
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"uid"`
	UserName string `json:"name"`
	IdPID    int64  `json:"idp"`
}

// NewCookieSessionStore returns a store that signs tokens with privateKey
// and stamps them with the given lifetime.
func NewCookieSessionStore(privateKey *rsa.PrivateKey, duration time.Duration) *CookieSessionStore {
	return &CookieSessionStore{
		privateKey: privateKey,
		duration:   duration,
	}
}

// Create signs a token carrying the user identity and the IdP that
// authenticated it.
func (s *CookieSessionStore) Create(session *domain.Session) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
		},
		UserID:   session.UserID,
		UserName: session.UserName,
		IdPID:    session.IdPID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
}

// Get verifies the token signature and expiry. Any verification failure
// maps to ErrSessionNotFound; the caller treats a bad token exactly like
// no token at all.
func (s *CookieSessionStore) Get(token string) (*domain.Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return &s.privateKey.PublicKey, nil
	})
	if err != nil {
		return nil, ports.ErrSessionNotFound
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ports.ErrSessionNotFound
	}

	return &domain.Session{
		UserID:    claims.UserID,
		UserName:  claims.UserName,
		IdPID:     claims.IdPID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Delete is a no-op; stateless tokens expire on their own and the HTTP
// layer clears the cookie.
func (s *CookieSessionStore) Delete(token string) error {
	return nil
}

// LoadPrivateKey reads an RSA private key from a PEM file, accepting
// PKCS#8 or PKCS#1 encoding.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not RSA")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// LoadCertificate reads an X.509 certificate from a PEM file.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in certificate file")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

var _ ports.SessionStore = (*CookieSessionStore)(nil)
