// Package metadata turns an identity provider's metadata document into
// the raw configuration fields of an IdP config.
package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/crewjam/saml"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// Importer extracts configuration fields from IdP metadata XML. When a
// verifier is set the document's signature is checked first and only
// the validated bytes are parsed.
type Importer struct {
	verifier ports.SignatureVerifier
}

// NewImporter creates an importer without signature verification.
func NewImporter() *Importer {
	return &Importer{}
}

// NewImporterWithVerifier creates an importer that verifies the
// document signature before extracting fields.
func NewImporterWithVerifier(verifier ports.SignatureVerifier) *Importer {
	return &Importer{verifier: verifier}
}

// rawMetadataValidity extracts validUntil without a full parse.
type rawMetadataValidity struct {
	ValidUntil string `xml:"validUntil,attr"`
}

// Import parses the metadata document and returns the configuration
// fields it provides: identity provider entity ID, SSO and SLO URLs and
// the signing certificate. The caller merges them into an existing raw
// config before LoadIdPConfig validates the whole.
func (im *Importer) Import(data []byte) (map[string]string, error) {
	if im.verifier != nil {
		validated, err := im.verifier.Verify(data)
		if err != nil {
			return nil, err
		}
		data = validated
	}

	if err := checkExpiry(data); err != nil {
		return nil, err
	}

	var ed saml.EntityDescriptor
	if err := xml.Unmarshal(data, &ed); err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("The metadata document could not be parsed: %v.", err))
	}
	if ed.EntityID == "" {
		return nil, domain.ConfigError("The metadata document has no entityID attribute.")
	}
	if len(ed.IDPSSODescriptors) == 0 {
		return nil, domain.ConfigError("The metadata document describes no identity provider.")
	}

	idpDesc := ed.IDPSSODescriptors[0]

	fields := map[string]string{
		domain.FieldIdPEntityID: ed.EntityID,
	}

	// Prefer HTTP-Redirect endpoints, fall back to HTTP-POST.
	if url := selectEndpoint(ssoEndpoints(idpDesc)); url != "" {
		fields[domain.FieldIdPSSOURL] = url
	}
	if url := selectEndpoint(sloEndpoints(idpDesc)); url != "" {
		fields[domain.FieldIdPSLOURL] = url
	}

	if cert := signingCertificate(idpDesc); cert != "" {
		fields[domain.FieldIdPCertificate] = certToPEM(cert)
	}

	if fields[domain.FieldIdPSSOURL] == "" {
		return nil, domain.ConfigError("The metadata document has no single sign on endpoint.")
	}

	return fields, nil
}

type endpoint struct {
	binding  string
	location string
}

func ssoEndpoints(d saml.IDPSSODescriptor) []endpoint {
	out := make([]endpoint, 0, len(d.SingleSignOnServices))
	for _, e := range d.SingleSignOnServices {
		out = append(out, endpoint{binding: e.Binding, location: e.Location})
	}
	return out
}

func sloEndpoints(d saml.IDPSSODescriptor) []endpoint {
	out := make([]endpoint, 0, len(d.SingleLogoutServices))
	for _, e := range d.SingleLogoutServices {
		out = append(out, endpoint{binding: e.Binding, location: e.Location})
	}
	return out
}

func selectEndpoint(endpoints []endpoint) string {
	var fallback string
	for _, e := range endpoints {
		if e.binding == saml.HTTPRedirectBinding {
			return e.location
		}
		if e.binding == saml.HTTPPostBinding && fallback == "" {
			fallback = e.location
		}
	}
	return fallback
}

// signingCertificate returns the first certificate usable for signature
// validation. Descriptors without a use attribute count as signing.
func signingCertificate(d saml.IDPSSODescriptor) string {
	for _, kd := range d.KeyDescriptors {
		if kd.Use != "signing" && kd.Use != "" {
			continue
		}
		for _, cert := range kd.KeyInfo.X509Data.X509Certificates {
			if cert.Data != "" {
				return cert.Data
			}
		}
	}
	return ""
}

// certToPEM wraps the base64 certificate body from metadata in PEM
// armor, the format the config validators expect.
func certToPEM(data string) string {
	body := strings.Join(strings.Fields(data), "")

	var b strings.Builder
	b.WriteString("-----BEGIN CERTIFICATE-----\n")
	for len(body) > 64 {
		b.WriteString(body[:64])
		b.WriteByte('\n')
		body = body[64:]
	}
	b.WriteString(body)
	b.WriteString("\n-----END CERTIFICATE-----\n")
	return b.String()
}

func checkExpiry(data []byte) error {
	var validity rawMetadataValidity
	if err := xml.Unmarshal(data, &validity); err != nil {
		// Let the main parser report the document error.
		return nil
	}
	if validity.ValidUntil == "" {
		return nil
	}
	validUntil, err := time.Parse(time.RFC3339, validity.ValidUntil)
	if err != nil {
		return domain.ConfigError(fmt.Sprintf("The metadata validUntil attribute %q is not a valid timestamp.", validity.ValidUntil))
	}
	if validUntil.Before(time.Now()) {
		return domain.ConfigError(fmt.Sprintf("The metadata document expired at %s.", validUntil.Format(time.RFC3339)))
	}
	return nil
}
