// Package signature checks XML signatures on identity provider metadata
// before any of its fields reach a configuration.
package signature

import (
	"crypto/x509"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
	"github.com/DonutsNL/samlbridge/internal/core/ports"
)

// DsigVerifier validates enveloped XML signatures against a set of
// trust anchors using goxmldsig.
type DsigVerifier struct {
	certStore dsig.X509CertificateStore
	roots     []*x509.Certificate
	logger    *zap.Logger
}

// NewDsigVerifier creates a verifier trusting the given certificates.
// More than one anchor may be passed to survive certificate rollover.
// The logger may be nil.
func NewDsigVerifier(certs []*x509.Certificate, logger *zap.Logger) *DsigVerifier {
	return &DsigVerifier{
		certStore: &dsig.MemoryX509CertificateStore{Roots: certs},
		roots:     certs,
		logger:    logger,
	}
}

// Verify checks the document signature and returns the validated bytes.
// Only the re-serialized validated element is returned, never the input,
// so content outside the signed subtree cannot smuggle itself past the
// check.
func (v *DsigVerifier) Verify(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeSignatureInvalid,
			Message: "The metadata document is not well-formed XML.",
			Cause:   err,
		}
	}
	root := doc.Root()
	if root == nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeSignatureInvalid,
			Message: "The metadata document is empty.",
		}
	}

	validated, err := dsig.NewDefaultValidationContext(v.certStore).Validate(root)
	if err != nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeSignatureInvalid,
			Message: "The metadata signature did not verify.",
			Cause:   err,
		}
	}

	if v.logger != nil {
		fields := []zap.Field{
			zap.String("algorithm", signatureAlgorithm(root)),
		}
		if len(v.roots) > 0 {
			fields = append(fields,
				zap.String("anchor_subject", v.roots[0].Subject.String()),
				zap.Time("anchor_expiry", v.roots[0].NotAfter))
		}
		v.logger.Info("metadata signature verified", fields...)
	}

	out := etree.NewDocument()
	out.SetRoot(validated)
	result, err := out.WriteToBytes()
	if err != nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeProtocol,
			Message: "The validated metadata could not be serialized.",
			Cause:   err,
		}
	}
	return result, nil
}

// signatureAlgorithm digs the SignatureMethod algorithm URI out of the
// document for logging. Empty when the document carries no signature.
func signatureAlgorithm(root *etree.Element) string {
	method := root.FindElement(".//[local-name()='SignedInfo']/[local-name()='SignatureMethod']")
	if method == nil {
		return ""
	}
	return method.SelectAttrValue("Algorithm", "")
}

var _ ports.SignatureVerifier = (*DsigVerifier)(nil)
