// Package idp runs a throwaway SAML Identity Provider for tests,
// wrapping crewjam/saml/samlidp behind a small fixture API.
package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/crewjam/saml/samlidp"
)

// TestIdP is an identity provider bound to an httptest server. Close it
// when the test is done.
type TestIdP struct {
	t      testing.TB
	server *httptest.Server
	idp    *samlidp.Server
	store  *samlidp.MemoryStore
}

// New starts a test IdP with a fresh self-signed signing certificate.
func New(t testing.TB) *TestIdP {
	t.Helper()

	key, cert, err := selfSignedCert()
	if err != nil {
		t.Fatalf("generate IdP certificate: %v", err)
	}

	store := &samlidp.MemoryStore{}

	// The server URL is only known after the listener starts, so the
	// handler dispatches through the fixture indirectly.
	var fixture *TestIdP
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fixture != nil && fixture.idp != nil {
			fixture.idp.ServeHTTP(w, r)
		}
	}))

	baseURL, err := url.Parse(ts.URL)
	if err != nil {
		ts.Close()
		t.Fatalf("parse test server URL: %v", err)
	}

	idpServer, err := samlidp.New(samlidp.Options{
		URL:         *baseURL,
		Key:         key,
		Certificate: cert,
		Store:       store,
	})
	if err != nil {
		ts.Close()
		t.Fatalf("create IdP server: %v", err)
	}

	fixture = &TestIdP{t: t, server: ts, idp: idpServer, store: store}
	return fixture
}

// Close shuts the IdP down.
func (idp *TestIdP) Close() {
	if idp.server != nil {
		idp.server.Close()
	}
}

// BaseURL is the IdP's root URL.
func (idp *TestIdP) BaseURL() string {
	return idp.server.URL
}

// MetadataURL is where the IdP serves its metadata document.
func (idp *TestIdP) MetadataURL() string {
	return idp.server.URL + "/metadata"
}

// SSOURL is the single sign-on endpoint.
func (idp *TestIdP) SSOURL() string {
	return idp.server.URL + "/sso"
}

// AddUser registers a user that can authenticate at the IdP.
func (idp *TestIdP) AddUser(username, password string) {
	idp.t.Helper()

	user := samlidp.User{
		Name:              username,
		PlaintextPassword: &password,
		Email:             username + "@example.com",
		CommonName:        username,
		GivenName:         username,
		Surname:           "Test",
	}
	if err := idp.store.Put("/users/"+username, user); err != nil {
		idp.t.Fatalf("add user %s: %v", username, err)
	}
}

// CertificatePEM returns the IdP signing certificate, ready to paste into
// an IdP configuration's certificate field.
func (idp *TestIdP) CertificatePEM() []byte {
	cert := idp.idp.IDP.Certificate
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	})
}

func selfSignedCert() (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test IdP",
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}
