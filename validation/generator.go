package validation

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ReportGenerator computes the validation report of one ValidationContext
// and keeps it for its own lifetime.
//
// A generator is not safe for concurrent use. Callers sharing one must
// serialize calls to Open.
type ReportGenerator struct {
	vc        *ValidationContext
	validator Validator
	reports   *Reports
}

// NewReportGenerator creates a generator for vc backed by validator.
func NewReportGenerator(vc *ValidationContext, validator Validator) *ReportGenerator {
	return &ReportGenerator{vc: vc, validator: validator}
}

// SetValidator replaces the engine used for the next computation.
func (g *ReportGenerator) SetValidator(v Validator) {
	g.validator = v
}

// Context returns the validation context.
func (g *ReportGenerator) Context() *ValidationContext {
	return g.vc
}

// Open returns the validation report, computing it on the first call.
// Later calls return the same *Reports without invoking the engine.
// Engine failures are returned as *ReportGenerationError and are not
// remembered, so a later call tries again.
func (g *ReportGenerator) Open(ctx context.Context) (*Reports, error) {
	sigName := g.vc.Signature().Name
	entry := log.WithField("signature", sigName)
	if g.reports != nil {
		entry.Debug("using cached validation report")
		return g.reports, nil
	}

	policy, err := ResolvePolicy(g.vc.Configuration().ValidationPolicy)
	if err != nil {
		return nil, err
	}
	if g.validator == nil {
		return nil, &ReportGenerationError{Signature: sigName, Err: errors.New("no validator configured")}
	}

	entry.WithField("policy", policy.Source).Debug("generating validation report")
	reports, err := g.validator.Validate(ctx, g.vc.Signature(), g.vc.Detached(), policy)
	if err != nil {
		entry.WithError(err).Error("validation report generation failed")
		return nil, &ReportGenerationError{Signature: sigName, Err: err}
	}
	if reports == nil {
		return nil, &ReportGenerationError{Signature: sigName, Err: errors.New("validator returned no report")}
	}

	g.reports = reports
	g.printReports()
	return reports, nil
}

// Chain returns the cached report followed by its nested reports. It
// never computes; before a successful Open it returns nil.
func (g *ReportGenerator) Chain() []*Reports {
	if g.reports == nil {
		return nil
	}
	return g.reports.Chain()
}

// printReports logs every report of the chain at trace level. Failures
// to render a report are logged and skipped.
func (g *ReportGenerator) printReports() {
	if !log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	for i, r := range g.Chain() {
		entry := log.WithFields(logrus.Fields{"signature": r.SignatureID, "depth": i})
		detailed, err := r.DetailedXML()
		if err != nil {
			entry.WithError(err).Trace("unable to render detailed report")
			continue
		}
		entry.Tracef("detailed report:\n%s", detailed)
		simple, err := r.SimpleXML()
		if err != nil {
			entry.WithError(err).Trace("unable to render simple report")
			continue
		}
		entry.Tracef("simple report:\n%s", simple)
	}
}
