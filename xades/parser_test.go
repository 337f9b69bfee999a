package xades

import (
	"bytes"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/gobdoc/internal/testpki"
)

type fixture struct {
	root      *testpki.Identity
	signer    *testpki.Identity
	responder *testpki.Identity
	tsa       *testpki.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := testpki.NewRoot(t, "Test Root")
	return &fixture{
		root:      root,
		signer:    root.Issue(t, "MÄNNIK,MARI-LIIS"),
		responder: root.NewOCSPResponder(t, "Test OCSP"),
		tsa:       root.NewTSA(t, "Test TSA"),
	}
}

func (f *fixture) baseSignature() testpki.Signature {
	return testpki.Signature{
		ID:          "S0",
		Method:      testpki.ECDSASHA256,
		SigningTime: "2014-11-13T12:49:57Z",
		Certificate: f.signer.Cert,
		DataFiles:   map[string][]byte{"test.txt": []byte("test")},
	}
}

func extract(t *testing.T, data []byte) *Signature {
	t.Helper()
	sig, err := (&Parser{}).Extract(data)
	require.NoError(t, err)
	return sig
}

func TestParseIdentityAndAttributes(t *testing.T) {
	f := newFixture(t)
	spec := f.baseSignature()
	spec.City = "Tallinn"
	spec.StateOrProvince = "Harjumaa"
	spec.PostalCode = "13456"
	spec.CountryName = "Estonia"
	spec.Roles = []string{"Manager", "Suspicious Fisherman"}

	sig := extract(t, spec.XML())

	assert.Equal(t, "S0", sig.ID)
	assert.Equal(t, testpki.ECDSASHA256, sig.SignatureMethod)
	require.NotNil(t, sig.SigningTime)
	assert.Equal(t, time.Date(2014, 11, 13, 12, 49, 57, 0, time.UTC), *sig.SigningTime)
	assert.Equal(t, SignerAttributes{
		City:            "Tallinn",
		StateOrProvince: "Harjumaa",
		PostalCode:      "13456",
		CountryName:     "Estonia",
		Roles:           []string{"Manager", "Suspicious Fisherman"},
	}, sig.SignerAttributes)
	require.NotNil(t, sig.SigningCertificate)
	assert.Equal(t, f.signer.Cert.Raw, sig.SigningCertificate.Raw)
}

func TestParseKeepsRawBytes(t *testing.T) {
	f := newFixture(t)
	data := f.baseSignature().XML()
	sig := extract(t, data)
	assert.True(t, bytes.Equal(data, sig.Raw), "raw bytes must round-trip unchanged")
}

func TestParseBareSignatureRoot(t *testing.T) {
	f := newFixture(t)
	spec := f.baseSignature()
	spec.Bare = true
	spec.City = "Tartu"
	sig := extract(t, spec.XML())
	assert.Equal(t, "S0", sig.ID)
	assert.Equal(t, "Tartu", sig.SignerAttributes.City)
}

func TestParseOptionalFieldsAbsent(t *testing.T) {
	spec := testpki.Signature{ID: "id-1", Method: testpki.RSASHA256}
	sig := extract(t, spec.XML())

	assert.Nil(t, sig.SigningTime)
	assert.True(t, sig.SignerAttributes.IsEmpty())
	assert.Nil(t, sig.SignerAttributes.Roles)
	assert.Nil(t, sig.SigningCertificate)
	assert.Nil(t, sig.OCSPCertificate)
	assert.Nil(t, sig.OCSPResponseCreationTime)
	assert.Nil(t, sig.TimeStampTokenCertificate)
	assert.Nil(t, sig.TimeStampCreationTime)
}

func TestParseNormalizesText(t *testing.T) {
	spec := testpki.Signature{ID: "S1", Method: testpki.RSASHA256, City: "Pa\u0308rnu", Roles: []string{"  Ju\u0308rist "}}
	sig := extract(t, spec.XML())
	assert.Equal(t, "P\u00e4rnu", sig.SignerAttributes.City)
	assert.Equal(t, []string{"J\u00fcrist"}, sig.SignerAttributes.Roles)
}

func TestParseMalformed(t *testing.T) {
	f := newFixture(t)
	noID := f.baseSignature()
	noID.ID = ""
	noMethod := f.baseSignature()
	noMethod.Method = ""
	badOCSP := f.baseSignature()
	badOCSP.OCSPResponses = [][]byte{[]byte("not an ocsp response")}
	badTimestamp := f.baseSignature()
	badTimestamp.Timestamps = [][]byte{[]byte("not a token")}

	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{"not xml", []byte("<<not-xml>>"), "document"},
		{"no signature", []byte(`<root xmlns="urn:x"><child/></root>`), "Signature"},
		{"missing id", noID.XML(), "Signature/@Id"},
		{"missing method", noMethod.XML(), "SignedInfo/SignatureMethod/@Algorithm"},
		{"broken ocsp", badOCSP.XML(), "EncapsulatedOCSPValue"},
		{"broken timestamp", badTimestamp.XML(), "EncapsulatedTimeStamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Parser{}).Extract(tt.data)
			var malformed *MalformedSignatureError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, tt.field, malformed.Field)
		})
	}
}

func TestParseInvalidSigningTime(t *testing.T) {
	f := newFixture(t)
	spec := f.baseSignature()
	spec.SigningTime = "yesterday"
	_, err := (&Parser{}).Extract(spec.XML())
	var malformed *MalformedSignatureError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "SigningTime", malformed.Field)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestParseOCSPEvidence(t *testing.T) {
	f := newFixture(t)
	der := testpki.OCSPResponse(t, f.responder, f.root, f.signer.Cert)
	resp, err := ocsp.ParseResponse(der, nil)
	require.NoError(t, err)

	spec := f.baseSignature()
	spec.OCSPResponses = [][]byte{der}
	sig := extract(t, spec.XML())

	require.NotNil(t, sig.OCSPResponseCreationTime)
	assert.True(t, resp.ProducedAt.Equal(*sig.OCSPResponseCreationTime))
	require.NotNil(t, sig.OCSPCertificate)
	assert.Equal(t, f.responder.Cert.Raw, sig.OCSPCertificate.Raw)
	assert.Nil(t, sig.TimeStampCreationTime)
}

func TestParseTimestampEvidence(t *testing.T) {
	f := newFixture(t)
	early := time.Date(2016, 4, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	spec := f.baseSignature()
	spec.Timestamps = [][]byte{
		testpki.TimestampToken(t, f.tsa, []byte("late"), late),
		testpki.TimestampToken(t, f.tsa, []byte("early"), early),
	}
	sig := extract(t, spec.XML())

	require.NotNil(t, sig.TimeStampCreationTime)
	assert.Equal(t, early, *sig.TimeStampCreationTime, "earliest token is authoritative")
	require.NotNil(t, sig.TimeStampTokenCertificate)
	assert.Equal(t, f.tsa.Cert.Raw, sig.TimeStampTokenCertificate.Raw)
	assert.False(t, sig.ArchivalEvidence)
}

func TestParseArchivalEvidence(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := f.baseSignature()
	spec.Timestamps = [][]byte{testpki.TimestampToken(t, f.tsa, []byte("sig"), at)}
	spec.ArchiveTimestamps = [][]byte{testpki.TimestampToken(t, f.tsa, []byte("archive"), at.Add(time.Minute))}

	sig := extract(t, spec.XML())
	assert.True(t, sig.ArchivalEvidence)
	assert.Equal(t, ProfileLTA, sig.Profile())
	assert.Equal(t, at, *sig.TrustedSigningTime())
}

func TestParseUsesArchivalInspector(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := f.baseSignature()
	spec.Timestamps = [][]byte{testpki.TimestampToken(t, f.tsa, []byte("sig"), at)}
	data := spec.XML()

	calls := 0
	parser := NewParser(ArchivalInspectorFunc(func(raw *RawSignature) int {
		calls++
		return 3
	}))
	sig, err := parser.Extract(data)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, sig.ArchivalEvidence)
	assert.Equal(t, ProfileLTA, sig.Profile())
}

func TestCountArchiveTimestamps(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := f.baseSignature()
	spec.Timestamps = [][]byte{testpki.TimestampToken(t, f.tsa, []byte("sig"), at)}
	spec.ArchiveTimestamps = [][]byte{
		testpki.TimestampToken(t, f.tsa, []byte("a1"), at),
		testpki.TimestampToken(t, f.tsa, []byte("a2"), at),
	}
	raw, err := OpenSignature(spec.XML())
	require.NoError(t, err)
	assert.Equal(t, 2, CountArchiveTimestamps(raw))

	plain, err := OpenSignature(f.baseSignature().XML())
	require.NoError(t, err)
	assert.Equal(t, 0, CountArchiveTimestamps(plain))
}

func TestTSACertificatePrefersTimeStampingUsage(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, f.tsa.Cert, TSACertificate([]*x509.Certificate{f.root.Cert, f.tsa.Cert}))
	assert.Equal(t, f.root.Cert, TSACertificate([]*x509.Certificate{f.root.Cert, f.signer.Cert}))
	assert.Nil(t, TSACertificate(nil))
}
