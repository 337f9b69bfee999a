// Package validation holds the per-signature validation context, the
// layered validation report and the generator that caches it.
package validation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/gobdoc/config"
	"github.com/georgepadayatti/gobdoc/xades"
)

var log = logrus.WithField("component", "validation")

// Document is a named byte stream: a signature document or a detached
// data file it covers.
type Document struct {
	Name     string
	MimeType string
	Data     []byte
}

// Validator computes the validation report of one signature.
type Validator interface {
	Validate(ctx context.Context, signature Document, detached []Document, policy *Policy) (*Reports, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, signature Document, detached []Document, policy *Policy) (*Reports, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, signature Document, detached []Document, policy *Policy) (*Reports, error) {
	return f(ctx, signature, detached, policy)
}

// EvidenceAcquirer embeds the trust evidence a target profile needs into
// a raw signature and returns the updated encoding.
type EvidenceAcquirer interface {
	AcquireTrustEvidence(ctx context.Context, raw []byte, target xades.Profile) ([]byte, error)
}

// Engine is the full external validation engine.
type Engine interface {
	Validator
	EvidenceAcquirer
	xades.ArchivalInspector
}

// ValidationContext is the immutable input of one signature validation.
type ValidationContext struct {
	signature Document
	detached  []Document
	config    *config.Configuration
}

// NewValidationContext captures a signature, the data files it covers and
// the configuration. A nil configuration gets the defaults.
func NewValidationContext(signature Document, detached []Document, cfg *config.Configuration) *ValidationContext {
	if cfg == nil {
		cfg = config.New("")
	}
	return &ValidationContext{
		signature: signature,
		detached:  append([]Document(nil), detached...),
		config:    cfg,
	}
}

// Signature returns the signature document.
func (vc *ValidationContext) Signature() Document {
	return vc.signature
}

// Detached returns a copy of the detached documents.
func (vc *ValidationContext) Detached() []Document {
	return append([]Document(nil), vc.detached...)
}

// Configuration returns the configuration.
func (vc *ValidationContext) Configuration() *config.Configuration {
	return vc.config
}

// PolicyNotFoundError is returned when the validation policy exists neither
// on disk nor as a bundled resource.
type PolicyNotFoundError struct {
	Location string
	Err      error
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("validation policy not found: %s", e.Location)
}

func (e *PolicyNotFoundError) Unwrap() error {
	return e.Err
}

// ReportGenerationError wraps a validation engine failure. It is never
// cached, so the caller may retry.
type ReportGenerationError struct {
	Signature string
	Err       error
}

func (e *ReportGenerationError) Error() string {
	return fmt.Sprintf("validation report generation failed for %s: %v", e.Signature, e.Err)
}

func (e *ReportGenerationError) Unwrap() error {
	return e.Err
}
