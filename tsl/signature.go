package tsl

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"

	"github.com/moov-io/signedxml"
)

// ErrSignatureInvalid is returned when a trusted list signature cannot be
// verified with any of the expected signer certificates.
var ErrSignatureInvalid = errors.New("trusted list signature is invalid")

// VerifySignature checks the enveloped XML signature of a trusted list
// against the expected signer certificates. Newer certificates are tried
// first, since operators rotate keys and publish the new one first. The
// certificate that verified the signature is returned.
func VerifySignature(data []byte, signers []*x509.Certificate) (*x509.Certificate, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: no signer certificates given", ErrSignatureInvalid)
	}

	sorted := append([]*x509.Certificate(nil), signers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].NotBefore.After(sorted[j].NotBefore)
	})

	var lastErr error
	for _, cert := range sorted {
		signer, err := verifyWith(data, cert)
		if err == nil {
			return signer, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: none of %d certificates matched: %v", ErrSignatureInvalid, len(signers), lastErr)
}

func verifyWith(data []byte, cert *x509.Certificate) (*x509.Certificate, error) {
	validator, err := signedxml.NewValidator(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read signature: %w", err)
	}
	validator.Certificates = []x509.Certificate{*cert}

	refs, err := validator.ValidateReferences()
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, errors.New("signature covers no content")
	}

	signing := validator.SigningCert()
	if len(signing.Raw) == 0 {
		return cert, nil
	}
	return &signing, nil
}
