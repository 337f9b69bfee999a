package timestamps

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/digitorus/timestamp"
	"github.com/jonboulle/clockwork"
)

// DummyTimeStamper acts as its own TSA for testing purposes.
// It accepts all requests and signs them using the provided certificate.
type DummyTimeStamper struct {
	// TSACert is the TSA signing certificate.
	TSACert *x509.Certificate

	// TSAKey is the TSA private key.
	TSAKey crypto.Signer

	// CertsToEmbed are additional certificates to include in the response.
	CertsToEmbed []*x509.Certificate

	// Clock supplies the generation time.
	Clock clockwork.Clock

	// Policy is the TSA policy OID.
	Policy asn1.ObjectIdentifier

	mu    sync.Mutex
	calls int
}

// NewDummyTimeStamper creates a new dummy timestamper.
func NewDummyTimeStamper(cert *x509.Certificate, key crypto.Signer) *DummyTimeStamper {
	return &DummyTimeStamper{
		TSACert: cert,
		TSAKey:  key,
		Clock:   clockwork.NewRealClock(),
		Policy:  asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
	}
}

// WithClock sets the clock used for generation times.
func (d *DummyTimeStamper) WithClock(c clockwork.Clock) *DummyTimeStamper {
	d.Clock = c
	return d
}

// WithCertsToEmbed adds certificates to embed in responses.
func (d *DummyTimeStamper) WithCertsToEmbed(certs []*x509.Certificate) *DummyTimeStamper {
	d.CertsToEmbed = certs
	return d
}

// Timestamp implements Timestamper.
func (d *DummyTimeStamper) Timestamp(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := d.Respond(data)
	if err != nil {
		return nil, err
	}
	return ParseTimestampResponse(resp, data, crypto.SHA256)
}

// Respond returns a complete DER TimeStampResp over data, as a TSA
// service would answer.
func (d *DummyTimeStamper) Respond(data []byte) ([]byte, error) {
	h := crypto.SHA256.New()
	h.Write(data)
	return d.RespondDigest(crypto.SHA256, h.Sum(nil))
}

// RespondDigest answers a request for an already computed imprint.
func (d *DummyTimeStamper) RespondDigest(alg crypto.Hash, digest []byte) ([]byte, error) {
	if d.TSACert == nil || d.TSAKey == nil {
		return nil, errors.New("dummy timestamper needs a certificate and a key")
	}
	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ts := timestamp.Timestamp{
		HashAlgorithm:     alg,
		HashedMessage:     digest,
		Time:              clock.Now().UTC().Truncate(time.Second),
		Policy:            d.Policy,
		Certificates:      d.CertsToEmbed,
		AddTSACertificate: true,
	}
	resp, err := ts.CreateResponseWithOpts(d.TSACert, d.TSAKey, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return resp, nil
}

// Calls returns the number of responses issued.
func (d *DummyTimeStamper) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// HandleRequest answers a DER TimeStampReq.
func (d *DummyTimeStamper) HandleRequest(reqDER []byte) ([]byte, error) {
	req, err := timestamp.ParseRequest(reqDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	return d.RespondDigest(req.HashAlgorithm, req.HashedMessage)
}
