package domain

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Field identifiers for IdP configurations. These double as storage column
// names and as the keys of the validator registry.
const (
	FieldName            = "name"
	FieldActive          = "is_active"
	FieldEnforced        = "is_enforced"
	FieldStrict          = "is_strict"
	FieldDebug           = "is_debug"
	FieldProxied         = "is_proxied"
	FieldJIT             = "jit_enabled"
	FieldUserDomain      = "user_domain"
	FieldSPCertificate   = "sp_certificate"
	FieldSPPrivateKey    = "sp_private_key"
	FieldIdPEntityID     = "idp_entity_id"
	FieldIdPSSOURL       = "idp_sso_url"
	FieldIdPSLOURL       = "idp_slo_url"
	FieldIdPCertificate  = "idp_certificate"
	FieldAuthnContext    = "authn_context"
	FieldAuthnComparison = "authn_comparison"
	FieldSignAuthn       = "sign_authn_request"
	FieldSignSLORequest  = "sign_slo_request"
	FieldSignSLOResponse = "sign_slo_response"
	FieldEncryptNameID   = "encrypt_nameid"
)

// FieldError is a field-scoped validation failure, surfaced to
// administrators on the configuration screen.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IdPConfig is the validated, normalized representation of one IdP trust
// relationship. Instances are immutable snapshots: they are rebuilt by
// Load on every use and never cached across requests.
type IdPConfig struct {
	ID   int64
	Name string

	Active   bool
	Enforced bool
	Strict   bool
	Debug    bool

	// Proxied makes assertion destination validation trust the
	// X-Forwarded-Proto / X-Forwarded-Host headers.
	Proxied bool

	// JITEnabled allows creating a local user on first successful login.
	JITEnabled bool

	// UserDomain selects this IdP when a login field ends in @<domain>.
	UserDomain string

	SPCertificate string
	SPPrivateKey  string

	IdPEntityID    string
	IdPSSOURL      string
	IdPSLOURL      string
	IdPCertificate string

	// AuthnContext lists requested authentication context class URIs.
	AuthnContext []string

	// AuthnComparison is one of "", "exact", "minimum", "maximum", "better".
	AuthnComparison string

	SignAuthnRequest bool
	SignSLORequest   bool
	SignSLOResponse  bool
	EncryptNameID    bool

	fieldErrors []FieldError
}

// IsValid is true only if no field failed validation and the cross-field
// pass found no fatal issue.
func (c *IdPConfig) IsValid() bool {
	return len(c.fieldErrors) == 0
}

// FieldErrors returns the field-scoped validation failures.
func (c *IdPConfig) FieldErrors() []FieldError {
	return c.fieldErrors
}

func (c *IdPConfig) addFieldError(field, message string) {
	c.fieldErrors = append(c.fieldErrors, FieldError{Field: field, Message: message})
}

// fieldValidator normalizes a raw field value and assigns it to the
// config, returning a human-readable error on invalid input. Validators
// are pure per-field functions; cross-field consistency is a separate pass.
type fieldValidator func(c *IdPConfig, raw string) error

// fieldValidators is the explicit registry mapping field identifiers to
// their validators. An incoming field without an entry here is rejected
// loudly rather than silently dropped.
var fieldValidators = map[string]fieldValidator{
	FieldName: func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		if v == "" {
			return errors.New("a friendly name is required")
		}
		c.Name = v
		return nil
	},
	FieldActive:   boolField(func(c *IdPConfig, v bool) { c.Active = v }),
	FieldEnforced: boolField(func(c *IdPConfig, v bool) { c.Enforced = v }),
	FieldStrict:   boolField(func(c *IdPConfig, v bool) { c.Strict = v }),
	FieldDebug:    boolField(func(c *IdPConfig, v bool) { c.Debug = v }),
	FieldProxied:  boolField(func(c *IdPConfig, v bool) { c.Proxied = v }),
	FieldJIT:      boolField(func(c *IdPConfig, v bool) { c.JITEnabled = v }),
	FieldUserDomain: func(c *IdPConfig, raw string) error {
		v := strings.ToLower(strings.TrimSpace(raw))
		if strings.ContainsAny(v, " @/") {
			return errors.New("must be a bare domain such as corp.example.com")
		}
		c.UserDomain = v
		return nil
	},
	FieldSPCertificate: func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		if v != "" {
			if _, err := ParseCertificatePEM(v); err != nil {
				return fmt.Errorf("not a valid PEM certificate: %v", err)
			}
		}
		c.SPCertificate = v
		return nil
	},
	FieldSPPrivateKey: func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		if v != "" {
			if _, err := ParsePrivateKeyPEM(v); err != nil {
				return fmt.Errorf("not a valid PEM private key: %v", err)
			}
		}
		c.SPPrivateKey = v
		return nil
	},
	FieldIdPEntityID: func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		if v == "" {
			return errors.New("the IdP entity id is required")
		}
		c.IdPEntityID = v
		return nil
	},
	FieldIdPSSOURL: urlField(true, func(c *IdPConfig, v string) { c.IdPSSOURL = v }),
	FieldIdPSLOURL: urlField(false, func(c *IdPConfig, v string) { c.IdPSLOURL = v }),
	FieldIdPCertificate: func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		if v == "" {
			return errors.New("the IdP signing certificate is required")
		}
		if _, err := ParseCertificatePEM(v); err != nil {
			return fmt.Errorf("not a valid PEM certificate: %v", err)
		}
		c.IdPCertificate = v
		return nil
	},
	FieldAuthnContext: func(c *IdPConfig, raw string) error {
		c.AuthnContext = nil
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				c.AuthnContext = append(c.AuthnContext, p)
			}
		}
		return nil
	},
	FieldAuthnComparison: func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		switch v {
		case "", "exact", "minimum", "maximum", "better":
			c.AuthnComparison = v
			return nil
		}
		return fmt.Errorf("%q is not one of exact, minimum, maximum, better", v)
	},
	FieldSignAuthn:       boolField(func(c *IdPConfig, v bool) { c.SignAuthnRequest = v }),
	FieldSignSLORequest:  boolField(func(c *IdPConfig, v bool) { c.SignSLORequest = v }),
	FieldSignSLOResponse: boolField(func(c *IdPConfig, v bool) { c.SignSLOResponse = v }),
	FieldEncryptNameID:   boolField(func(c *IdPConfig, v bool) { c.EncryptNameID = v }),
}

func boolField(set func(*IdPConfig, bool)) fieldValidator {
	return func(c *IdPConfig, raw string) error {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "", "0", "false", "no":
			set(c, false)
		case "1", "true", "yes":
			set(c, true)
		default:
			return fmt.Errorf("%q is not a boolean value", raw)
		}
		return nil
	}
}

func urlField(required bool, set func(*IdPConfig, string)) fieldValidator {
	return func(c *IdPConfig, raw string) error {
		v := strings.TrimSpace(raw)
		if v == "" {
			if required {
				return errors.New("a URL is required")
			}
			set(c, "")
			return nil
		}
		u, err := url.Parse(v)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%q is not an absolute URL", v)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
		}
		set(c, u.String())
		return nil
	}
}

// LoadIdPConfig builds a config from raw field values, running every field
// through its registered validator and finishing with a cross-field pass.
// Loading from persisted storage and from a submitted form both converge
// here; the config is re-validated on every load.
func LoadIdPConfig(id int64, raw map[string]string) *IdPConfig {
	c := &IdPConfig{ID: id}
	for field, value := range raw {
		validator, ok := fieldValidators[field]
		if !ok {
			c.addFieldError(field, "no validator defined for this field")
			continue
		}
		if err := validator(c, value); err != nil {
			c.addFieldError(field, err.Error())
		}
	}
	// Required fields missing from raw entirely still need to fail loud.
	for _, required := range []string{FieldName, FieldIdPEntityID, FieldIdPSSOURL, FieldIdPCertificate} {
		if _, ok := raw[required]; !ok {
			c.addFieldError(required, "field is missing")
		}
	}
	c.enforceCertDependencies()
	return c
}

// enforceCertDependencies force-disables the security toggles whose
// prerequisite SP certificate/key pair is absent, unparseable, or
// mismatched. The toggles are reset regardless of their input value so an
// administrator cannot request signing the toolkit could never perform.
func (c *IdPConfig) enforceCertDependencies() {
	if !c.SignAuthnRequest && !c.SignSLORequest && !c.SignSLOResponse && !c.EncryptNameID {
		return
	}
	reason := ""
	cert, certErr := ParseCertificatePEM(c.SPCertificate)
	key, keyErr := ParsePrivateKeyPEM(c.SPPrivateKey)
	switch {
	case c.SPCertificate == "" || c.SPPrivateKey == "":
		reason = "the SP certificate and private key are not both configured"
	case certErr != nil || keyErr != nil:
		reason = "the SP certificate or private key does not parse"
	case !certKeyModulusMatch(cert, key):
		reason = "the SP certificate does not belong to the configured private key"
	}
	if reason == "" {
		return
	}
	for _, field := range []string{FieldSignAuthn, FieldSignSLORequest, FieldSignSLOResponse, FieldEncryptNameID} {
		c.addFieldError(field, "disabled: "+reason)
	}
	c.SignAuthnRequest = false
	c.SignSLORequest = false
	c.SignSLOResponse = false
	c.EncryptNameID = false
}

// certKeyModulusMatch reports whether the certificate's RSA public key
// shares its modulus with the private key.
func certKeyModulusMatch(cert *x509.Certificate, key *rsa.PrivateKey) bool {
	if cert == nil || key == nil {
		return false
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	return pub.N.Cmp(key.N) == 0
}

// ParseCertificatePEM parses a PEM-encoded X.509 certificate.
func ParseCertificatePEM(data string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// ParsePrivateKeyPEM parses a PEM-encoded RSA private key in PKCS8 or
// PKCS1 format.
func ParsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// ACSQueryParam is the query parameter binding an assertion consumer
// callback to a specific configuration.
const ACSQueryParam = "idp"

// ACSPath and peers are the SP endpoint paths a configuration's reply-to
// URLs are derived from.
const (
	ACSPath      = "/saml/acs"
	SLOPath      = "/saml/slo"
	MetadataPath = "/saml/metadata"
)

// ACSURL derives this configuration's reply-to URL from the given base,
// embedding the numeric id so the consumer can load the right trust
// relationship.
func (c *IdPConfig) ACSURL(base *url.URL) *url.URL {
	u := *base
	u.Path = ACSPath
	u.RawQuery = ACSQueryParam + "=" + strconv.FormatInt(c.ID, 10)
	return &u
}

// MatchesUserDomain reports whether a login field such as
// "user@corp.example.com" falls under this configuration's user domain.
func (c *IdPConfig) MatchesUserDomain(login string) bool {
	if c.UserDomain == "" {
		return false
	}
	at := strings.LastIndex(login, "@")
	if at < 0 {
		return false
	}
	return strings.EqualFold(login[at+1:], c.UserDomain)
}
