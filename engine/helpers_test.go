package engine

import (
	"context"
	"crypto/x509"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/gobdoc/internal/testpki"
	"github.com/georgepadayatti/gobdoc/timestamps"
	"github.com/georgepadayatti/gobdoc/tsl"
	"github.com/georgepadayatti/gobdoc/validation"
)

var signingTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type stubOCSP struct {
	t         testing.TB
	responder *testpki.Identity
	issuer    *testpki.Identity

	mu    sync.Mutex
	calls int
}

func (s *stubOCSP) FetchOCSP(_ context.Context, cert, _ *x509.Certificate) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return testpki.OCSPResponse(s.t, s.responder, s.issuer, cert), nil
}

func (s *stubOCSP) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubIssuers struct {
	issuer *x509.Certificate
	err    error
}

func (s stubIssuers) FetchIssuingCertificate(context.Context, *x509.Certificate) (*x509.Certificate, error) {
	return s.issuer, s.err
}

// fixture is a root CA with a signer, a TSA and an OCSP responder, and an
// engine trusting the root.
type fixture struct {
	root   *testpki.Identity
	signer *testpki.Identity
	clock  *clockwork.FakeClock
	tsa    *timestamps.DummyTimeStamper
	ocsp   *stubOCSP
	engine *Engine
	files  map[string][]byte
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := testpki.NewRoot(t, "Test Root CA")
	tsaID := root.NewTSA(t, "Test TSA")
	f := &fixture{
		root:   root,
		signer: root.Issue(t, "Signer"),
		clock:  clockwork.NewFakeClockAt(signingTime),
		ocsp:   &stubOCSP{t: t, responder: root.NewOCSPResponder(t, "Test OCSP"), issuer: root},
		files: map[string][]byte{
			"doc.txt":    []byte("hello world"),
			"report.pdf": []byte("%PDF-1.7 not really"),
		},
	}
	f.tsa = timestamps.NewDummyTimeStamper(tsaID.Cert, tsaID.Key).WithClock(f.clock)

	anchors := &tsl.TrustAnchors{}
	anchors.AddCA(root.Cert)
	base := []Option{WithTimestamper(f.tsa), WithOCSPSource(f.ocsp), WithClock(f.clock)}
	f.engine = New(anchors, append(base, opts...)...)
	return f
}

// sign returns a B_BES signature by the fixture signer over every file.
func (f *fixture) sign(t *testing.T, id string) []byte {
	t.Helper()
	return testpki.Signature{
		ID:          id,
		SigningTime: "2024-05-01T09:59:00Z",
		DataFiles:   f.files,
	}.Sign(t, f.signer)
}

func (f *fixture) documents() []validation.Document {
	var docs []validation.Document
	for _, name := range []string{"doc.txt", "report.pdf"} {
		docs = append(docs, validation.Document{Name: name, Data: f.files[name]})
	}
	return docs
}

func signatureDocument(data []byte) validation.Document {
	return validation.Document{Name: "META-INF/signatures0.xml", MimeType: "application/vnd.etsi.asic-e+xml", Data: data}
}

func checkStatus(r *validation.Reports, name string) string {
	for _, c := range r.Detailed.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}
