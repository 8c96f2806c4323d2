// Command testidp runs a local SAML Identity Provider for trying out a
// samlbridge gateway without a real IdP. On startup it prints the field
// values to paste into a gateway IdP configuration, adds a test user, and
// optionally registers the gateway's SP metadata.
package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/crewjam/saml/samlidp"
)

func main() {
	port := flag.Int("port", 8443, "Port to listen on")
	user := flag.String("user", "testuser", "Test account name")
	password := flag.String("password", "password", "Test account password")
	spMetadataURL := flag.String("sp-metadata", "http://localhost:8090/saml/metadata?idp=1",
		"Gateway SP metadata URL to register (the configuration must have debug enabled)")
	flag.Parse()

	if err := run(*port, *user, *password, *spMetadataURL); err != nil {
		log.Fatal(err)
	}
}

func run(port int, user, password, spMetadataURL string) error {
	key, cert, err := selfSignedCert()
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	base, err := url.Parse(fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		return err
	}

	idp, err := samlidp.New(samlidp.Options{
		URL:         *base,
		Key:         key,
		Certificate: cert,
		Store:       &samlidp.MemoryStore{},
	})
	if err != nil {
		return fmt.Errorf("create IdP: %w", err)
	}

	go func() {
		// The store only hashes passwords on the HTTP path, so the user
		// goes in after the listener is up.
		time.Sleep(100 * time.Millisecond)
		if err := putUser(base.String(), user, password); err != nil {
			log.Printf("add user: %v", err)
			return
		}
		log.Printf("test account ready: %s / %s", user, password)
	}()

	if spMetadataURL != "" {
		go func() {
			time.Sleep(2 * time.Second)
			if err := registerSP(base.String(), spMetadataURL); err != nil {
				log.Printf("SP registration from %s failed: %v (is the gateway running with a debug-enabled configuration?)", spMetadataURL, err)
				return
			}
			log.Printf("registered SP from %s", spMetadataURL)
		}()
	}

	log.Printf("test IdP listening on %s", base)
	printConfigFields(base.String(), cert)

	return http.ListenAndServe(fmt.Sprintf(":%d", port), idp)
}

// printConfigFields writes the values a gateway IdP configuration needs,
// in the same field order the configuration uses.
func printConfigFields(base string, cert *x509.Certificate) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Gateway configuration fields for this IdP:")
	fmt.Fprintf(os.Stderr, "  idp_entity_id:   %s/metadata\n", base)
	fmt.Fprintf(os.Stderr, "  idp_sso_url:     %s/sso\n", base)
	fmt.Fprintf(os.Stderr, "  idp_certificate: |\n")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	fmt.Fprintf(os.Stderr, "%s\n", pemData)
}

func putUser(baseURL, username, password string) error {
	body, err := json.Marshal(samlidp.User{
		Name:              username,
		PlaintextPassword: &password,
		Email:             username + "@example.com",
		CommonName:        username,
		GivenName:         username,
		Surname:           "Test",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, baseURL+"/users/"+username, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// registerSP fetches the gateway's SP metadata and registers it with the
// IdP under its entity id.
func registerSP(idpBase, metadataURL string) error {
	resp, err := http.Get(metadataURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	var descriptor struct {
		EntityID string `xml:"entityID,attr"`
	}
	if err := xml.Unmarshal(buf.Bytes(), &descriptor); err != nil {
		return fmt.Errorf("parse metadata: %w", err)
	}
	if descriptor.EntityID == "" {
		return fmt.Errorf("metadata carries no entity id")
	}

	req, err := http.NewRequest(http.MethodPut,
		idpBase+"/services/"+url.PathEscape(descriptor.EntityID), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")
	putResp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer putResp.Body.Close()
	if putResp.StatusCode >= 400 {
		return fmt.Errorf("status %d", putResp.StatusCode)
	}
	return nil
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
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
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
