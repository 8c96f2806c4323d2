package service

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/crewjam/saml"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// SAMLService materializes crewjam/saml service providers from IdP
// configurations and performs the delegated protocol work: AuthnRequest
// generation, response validation and SP metadata generation. All
// cryptography and XML handling is the toolkit's; this service only binds
// a configuration to a callback URL and translates results.
type SAMLService struct {
	logger *zap.Logger
}

// NewSAMLService creates a new SAML service.
func NewSAMLService(logger *zap.Logger) *SAMLService {
	return &SAMLService{logger: logger}
}

// BuildServiceProvider materializes the toolkit structure for one
// configuration, deriving the reply-to URL from the given base URL and the
// configuration's numeric id. An invalid configuration is a fatal error:
// configuration corruption must not silently produce an unusable IdP.
func (s *SAMLService) BuildServiceProvider(cfg *domain.IdPConfig, base *url.URL) (*saml.ServiceProvider, error) {
	if !cfg.IsValid() {
		return nil, domain.ConfigError(fmt.Sprintf("IdP configuration %d (%s) failed validation and cannot be used", cfg.ID, cfg.Name))
	}

	acsURL := cfg.ACSURL(base)
	metadataURL := *base
	metadataURL.Path = domain.MetadataPath
	metadataURL.RawQuery = acsURL.RawQuery

	idpMetadata, err := configToEntityDescriptor(cfg)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("IdP configuration %d: %v", cfg.ID, err))
	}

	sp := &saml.ServiceProvider{
		EntityID:          metadataURL.String(),
		AcsURL:            *acsURL,
		MetadataURL:       metadataURL,
		IDPMetadata:       idpMetadata,
		AllowIDPInitiated: false,
	}

	// The SP key pair is optional until signing or encryption is enabled;
	// the cross-field validation pass guarantees those toggles are off
	// when the pair is absent or mismatched.
	if cfg.SPPrivateKey != "" && cfg.SPCertificate != "" {
		key, err := domain.ParsePrivateKeyPEM(cfg.SPPrivateKey)
		if err != nil {
			return nil, domain.ConfigError(fmt.Sprintf("SP private key of configuration %d: %v", cfg.ID, err))
		}
		cert, err := domain.ParseCertificatePEM(cfg.SPCertificate)
		if err != nil {
			return nil, domain.ConfigError(fmt.Sprintf("SP certificate of configuration %d: %v", cfg.ID, err))
		}
		sp.Key = key
		sp.Certificate = cert
	}

	// Setting SignatureMethod makes the toolkit sign outbound requests.
	if cfg.SignAuthnRequest {
		sp.SignatureMethod = dsig.RSASHA256SignatureMethod
	}

	return sp, nil
}

// StartAuth generates the AuthnRequest redirect URL for a configuration
// and returns it together with the outbound request id the login state
// must record for correlation.
func (s *SAMLService) StartAuth(cfg *domain.IdPConfig, base *url.URL, relayState string, opts *domain.AuthnOptions) (*url.URL, string, error) {
	sp, err := s.BuildServiceProvider(cfg, base)
	if err != nil {
		return nil, "", err
	}

	authReq, err := sp.MakeAuthenticationRequest(cfg.IdPSSOURL, saml.HTTPRedirectBinding, saml.HTTPPostBinding)
	if err != nil {
		return nil, "", domain.ProtocolError("Building the authentication request failed", err)
	}

	if opts != nil && opts.ForceAuthn {
		authReq.ForceAuthn = boolPtr(true)
	}
	// crewjam/saml supports a single AuthnContextClassRef; use the first
	// configured context.
	if opts != nil && len(opts.RequestedAuthnContext) > 0 {
		comparison := opts.AuthnContextComparison
		if comparison == "" {
			comparison = "exact"
		}
		authReq.RequestedAuthnContext = &saml.RequestedAuthnContext{
			Comparison:           comparison,
			AuthnContextClassRef: opts.RequestedAuthnContext[0],
		}
	}

	redirectURL, err := authReq.Redirect(relayState, sp)
	if err != nil {
		return nil, "", domain.ProtocolError("Encoding the authentication request failed", err)
	}

	return redirectURL, authReq.ID, nil
}

// ValidateResponse runs the delegated cryptographic and XML validation on
// a decoded response document: signature, conditions, audience and
// destination, plus decryption when the assertion is encrypted. The
// expected request id correlates InResponseTo.
func (s *SAMLService) ValidateResponse(cfg *domain.IdPConfig, base *url.URL, responseXML []byte, expectedRequestID string) (*domain.ClaimSet, error) {
	sp, err := s.BuildServiceProvider(cfg, base)
	if err != nil {
		return nil, err
	}

	assertion, err := sp.ParseXMLResponse(responseXML, []string{expectedRequestID})
	if err != nil {
		return nil, domain.ProtocolError("The authentication response failed validation", err)
	}

	return assertionToClaimSet(assertion), nil
}

// Metadata generates the SP metadata document for a configuration.
func (s *SAMLService) Metadata(cfg *domain.IdPConfig, base *url.URL) ([]byte, error) {
	sp, err := s.BuildServiceProvider(cfg, base)
	if err != nil {
		return nil, err
	}
	return xml.MarshalIndent(sp.Metadata(), "", "  ")
}

// Claim attribute names accepted from assertions. Both the short and the
// Azure AD style URI forms are recognized.
var claimAliases = map[string][]string{
	"email":      {"email", "mail", "urn:oid:0.9.2342.19200300.100.1.3", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"},
	"firstname":  {"firstname", "givenName", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname"},
	"lastname":   {"lastname", "sn", "surname", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname"},
	"jobtitle":   {"jobtitle", "title", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/jobtitle"},
	"phone":      {"phone", "telephoneNumber", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/otherphone"},
	"street":     {"street", "streetaddress", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/streetaddress"},
	"city":       {"city", "locality", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/locality"},
	"postalcode": {"postalcode", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/postalcode"},
	"country":    {"country", "c", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/country"},
	"groups":     {"groups", "memberOf", "http://schemas.microsoft.com/ws/2008/06/identity/claims/groups"},
}

// assertionToClaimSet projects a validated assertion onto the transient
// claim set the user resolver consumes.
func assertionToClaimSet(assertion *saml.Assertion) *domain.ClaimSet {
	claims := &domain.ClaimSet{}
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		claims.NameID = assertion.Subject.NameID.Value
	}

	attrs := make(map[string][]string)
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			key := attr.FriendlyName
			if key == "" {
				key = attr.Name
			}
			for _, v := range attr.Values {
				attrs[key] = append(attrs[key], v.Value)
			}
		}
	}

	first := func(claim string) string {
		for _, alias := range claimAliases[claim] {
			if vs := attrs[alias]; len(vs) > 0 {
				return vs[0]
			}
		}
		return ""
	}

	claims.Email = first("email")
	claims.FirstName = first("firstname")
	claims.LastName = first("lastname")
	claims.JobTitle = first("jobtitle")
	claims.Phone = first("phone")
	claims.Street = first("street")
	claims.City = first("city")
	claims.PostalCode = first("postalcode")
	claims.Country = first("country")
	for _, alias := range claimAliases["groups"] {
		if vs := attrs[alias]; len(vs) > 0 {
			claims.Groups = vs
			break
		}
	}
	return claims
}

// DecodeResponsePayload decodes the base64 form payload of an assertion
// consumer POST.
func DecodeResponsePayload(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, domain.ProtocolError("The authentication response payload is not valid base64", err)
	}
	return data, nil
}

func configToEntityDescriptor(cfg *domain.IdPConfig) (*saml.EntityDescriptor, error) {
	certData, err := certPEMToBase64(cfg.IdPCertificate)
	if err != nil {
		return nil, fmt.Errorf("IdP certificate: %w", err)
	}

	ed := &saml.EntityDescriptor{
		EntityID: cfg.IdPEntityID,
		IDPSSODescriptors: []saml.IDPSSODescriptor{{
			SingleSignOnServices: []saml.Endpoint{{
				Binding:  saml.HTTPRedirectBinding,
				Location: cfg.IdPSSOURL,
			}},
		}},
	}

	if cfg.IdPSLOURL != "" {
		ed.IDPSSODescriptors[0].SingleLogoutServices = []saml.Endpoint{{
			Binding:  saml.HTTPRedirectBinding,
			Location: cfg.IdPSLOURL,
		}}
	}

	ed.IDPSSODescriptors[0].KeyDescriptors = []saml.KeyDescriptor{{
		Use: "signing",
		KeyInfo: saml.KeyInfo{
			X509Data: saml.X509Data{
				X509Certificates: []saml.X509Certificate{{Data: certData}},
			},
		},
	}}

	return ed, nil
}

// certPEMToBase64 converts a PEM certificate to the raw base64 DER body
// metadata key descriptors carry.
func certPEMToBase64(pemData string) (string, error) {
	cert, err := domain.ParseCertificatePEM(pemData)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(cert.Raw), nil
}

func boolPtr(v bool) *bool { return &v }
