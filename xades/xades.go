// Package xades extracts a normalized signature model from XAdES
// signatures and classifies the signature profile from the trust evidence
// it carries.
//
// Extraction and classification are separate steps: Parser.Parse only
// reads evidence, while Classify derives the profile and the trusted
// signing time from that evidence. Signature.Profile and
// Signature.TrustedSigningTime always go through Classify, so the two can
// never drift apart from the evidence fields.
package xades

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// XML namespaces used by XAdES signatures.
const (
	NamespaceDS       = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES    = "http://uri.etsi.org/01903/v1.3.2#"
	NamespaceXAdES141 = "http://uri.etsi.org/01903/v1.4.1#"
	NamespaceASiC     = "http://uri.etsi.org/02918/v1.2.1#"
)

// SignedPropertiesType is the ds:Reference Type of the XAdES signed properties.
const SignedPropertiesType = "http://uri.etsi.org/01903#SignedProperties"

var log = logrus.WithField("component", "xades")

// MalformedSignatureError is returned when a signature lacks a mandatory
// field or carries evidence that cannot be decoded. It is not retryable.
type MalformedSignatureError struct {
	// Field names the missing or broken element.
	Field string
	// Message describes the problem.
	Message string
	// Err is the underlying decoding error, if any.
	Err error
}

func (e *MalformedSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed signature: %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("malformed signature: %s: %s", e.Field, e.Message)
}

func (e *MalformedSignatureError) Unwrap() error {
	return e.Err
}

func newMalformed(field, message string, err error) *MalformedSignatureError {
	return &MalformedSignatureError{Field: field, Message: message, Err: err}
}
