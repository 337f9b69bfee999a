// Package engine is the default validation engine. It verifies XAdES
// signatures against trusted list anchors and embeds the timestamps and
// revocation data that LT and LTA signatures carry.
package engine

import (
	"context"
	"crypto/x509"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/gobdoc/config"
	"github.com/georgepadayatti/gobdoc/fetchers"
	"github.com/georgepadayatti/gobdoc/timestamps"
	"github.com/georgepadayatti/gobdoc/tsl"
	"github.com/georgepadayatti/gobdoc/validation"
	"github.com/georgepadayatti/gobdoc/xades"
)

var log = logrus.WithField("component", "engine")

var _ validation.Engine = (*Engine)(nil)

// OCSPSource returns a DER OCSP response for cert.
type OCSPSource interface {
	FetchOCSP(ctx context.Context, cert, issuer *x509.Certificate) ([]byte, error)
}

// IssuerSource downloads the issuer of a certificate.
type IssuerSource interface {
	FetchIssuingCertificate(ctx context.Context, cert *x509.Certificate) (*x509.Certificate, error)
}

// Engine validates signatures and acquires trust evidence.
type Engine struct {
	anchors     *tsl.TrustAnchors
	timestamper timestamps.Timestamper
	ocsp        OCSPSource
	issuers     IssuerSource
	verifier    SignatureVerifier
	clock       clockwork.Clock
	parser      *xades.Parser
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimestamper sets the time-stamping service.
func WithTimestamper(t timestamps.Timestamper) Option {
	return func(e *Engine) { e.timestamper = t }
}

// WithOCSPSource sets the revocation data source.
func WithOCSPSource(s OCSPSource) Option {
	return func(e *Engine) { e.ocsp = s }
}

// WithIssuerSource sets where missing issuer certificates are downloaded.
func WithIssuerSource(s IssuerSource) Option {
	return func(e *Engine) { e.issuers = s }
}

// WithVerifier replaces the XML-DSig verifier.
func WithVerifier(v SignatureVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithClock sets the clock used for validation time.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New returns an engine trusting anchors. Without a timestamper or an OCSP
// source, evidence acquisition fails.
func New(anchors *tsl.TrustAnchors, opts ...Option) *Engine {
	if anchors == nil {
		anchors = &tsl.TrustAnchors{}
	}
	e := &Engine{
		anchors:  anchors,
		verifier: XMLDSigVerifier{},
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parser = xades.NewParser(e)
	return e
}

// NewFromConfiguration loads the trusted lists and wires the configured
// time-stamping and OCSP services.
func NewFromConfiguration(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Engine, error) {
	loader, err := tsl.NewLoader(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "trusted list loader")
	}
	anchors, summaries, err := loader.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load trusted lists")
	}
	for _, s := range summaries {
		log.WithFields(logrus.Fields{
			"territory": s.Territory,
			"status":    s.Status,
		}).Debug("trusted list")
	}

	fc, err := fetchers.ConfigFromConfiguration(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "fetcher configuration")
	}
	base := []Option{
		WithOCSPSource(fetchers.NewOCSPFetcher(fc)),
		WithIssuerSource(fetchers.NewCertFetcher(fc)),
	}
	if cfg.TSPSource != "" {
		base = append(base, WithTimestamper(timestamps.NewHTTPTimestamper(cfg.TSPSource, fc.HTTPClient)))
	}
	return New(anchors, append(base, opts...)...), nil
}

// Anchors returns the trust anchors.
func (e *Engine) Anchors() *tsl.TrustAnchors {
	return e.anchors
}

// ArchiveTimestampCount counts the archive timestamps of raw.
func (e *Engine) ArchiveTimestampCount(raw *xades.RawSignature) int {
	return xades.CountArchiveTimestamps(raw)
}
