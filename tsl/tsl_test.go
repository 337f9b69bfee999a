package tsl

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/gobdoc/internal/testpki"
)

func TestParse(t *testing.T) {
	ca := testpki.NewRoot(t, "Qualified CA")
	withdrawn := testpki.NewRoot(t, "Withdrawn CA")
	tsa := testpki.NewRoot(t, "TSA Root").NewTSA(t, "Qualified TSA")
	ocspCert := testpki.NewRoot(t, "OCSP Root")

	data := listXML("EE", 42, []testService{
		{typ: ServiceTypeCAQC, status: ServiceStatusGranted, cert: ca.Cert},
		{typ: ServiceTypeCAQC, status: ServiceStatusWithdrawn, cert: withdrawn.Cert},
		{typ: ServiceTypeTSAQTST, status: ServiceStatusGranted, cert: tsa.Cert},
		{typ: ServiceTypeOCSPQC, status: ServiceStatusGranted, cert: ocspCert.Cert},
		{typ: ServiceTypeCAQC, status: ServiceStatusGranted},
	}, []testPointer{
		{location: "https://tl.test/lv.xml", territory: "LV", mimeType: MimeTypeTrustedList, cert: ca.Cert},
		{location: "https://tl.test/lv.pdf", territory: "LV", mimeType: "application/pdf"},
	})

	list, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "EE", list.Territory)
	assert.Equal(t, "Operator", list.Operator)
	assert.Equal(t, 42, list.SequenceNumber)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), list.IssueDate)
	require.NotNil(t, list.NextUpdate)
	assert.False(t, list.IsExpired(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, list.IsExpired(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	require.Len(t, list.Services, 5)
	assert.Equal(t, "Test Provider", list.Services[0].Provider)
	assert.Equal(t, "Service 0", list.Services[0].Name)
	assert.Equal(t, time.Date(2016, 6, 30, 22, 0, 0, 0, time.UTC), list.Services[0].StatusStart)
	assert.Empty(t, list.Services[4].Certificates, "undecodable certificates are skipped")

	require.Len(t, list.Pointers, 2)
	assert.Equal(t, "LV", list.Pointers[0].Territory)
	assert.True(t, list.Pointers[0].IsTrustedList())
	assert.False(t, list.Pointers[1].IsTrustedList())
	require.Len(t, list.Pointers[0].Certificates, 1)

	anchors := list.Anchors()
	require.Len(t, anchors.CA, 1)
	assert.Equal(t, ca.Cert.Raw, anchors.CA[0].Raw)
	require.Len(t, anchors.TSA, 1)
	assert.Equal(t, tsa.Cert.Raw, anchors.TSA[0].Raw)
	assert.Equal(t, 2, anchors.Len())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not xml", "<<not-xml>>"},
		{"other root", `<Foo><SchemeInformation/></Foo>`},
		{"no scheme information", `<TrustServiceStatusList xmlns="http://uri.etsi.org/02231/v2#"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestServiceClassification(t *testing.T) {
	tests := []struct {
		svc    Service
		active bool
		ca     bool
		tsa    bool
	}{
		{Service{Type: ServiceTypeCAQC, Status: ServiceStatusGranted}, true, true, false},
		{Service{Type: ServiceTypeCAPKC, Status: ServiceStatusAccredited}, true, true, false},
		{Service{Type: ServiceTypeTSA, Status: ServiceStatusUnderSupervision}, true, false, true},
		{Service{Type: ServiceTypeTSAQTST, Status: ServiceStatusWithdrawn}, false, false, true},
		{Service{Type: ServiceTypeOCSP, Status: ServiceStatusGranted}, true, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.active, tt.svc.Active(), tt.svc.Status)
		assert.Equal(t, tt.ca, tt.svc.IsCA(), tt.svc.Type)
		assert.Equal(t, tt.tsa, tt.svc.IsTSA(), tt.svc.Type)
	}
}

func TestTrustAnchors(t *testing.T) {
	root := testpki.NewRoot(t, "Anchor Root")
	other := testpki.NewRoot(t, "Other Root")
	leaf := root.Issue(t, "Anchor Leaf")
	tsa := root.NewTSA(t, "Anchor TSA")

	anchors := &TrustAnchors{}
	anchors.AddCA(root.Cert, root.Cert, nil)
	anchors.Merge(&TrustAnchors{CA: []*x509.Certificate{other.Cert}, TSA: []*x509.Certificate{tsa.Cert}})
	anchors.Merge(nil)
	assert.Len(t, anchors.CA, 2)
	assert.Len(t, anchors.TSA, 1)

	_, err := leaf.Cert.Verify(x509.VerifyOptions{Roots: anchors.Pool(), KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}})
	assert.NoError(t, err)

	assert.Equal(t, root.Cert.Raw, anchors.FindIssuer(leaf.Cert).Raw)
	stranger := testpki.NewRoot(t, "Stranger Root").Issue(t, "Stranger Leaf")
	assert.Nil(t, anchors.FindIssuer(stranger.Cert))

	var empty *TrustAnchors
	assert.Zero(t, empty.Len())
	assert.NotNil(t, empty.Pool())
}

func TestLoadCertificateFiles(t *testing.T) {
	root := testpki.NewRoot(t, "File Root")
	dir := t.TempDir()
	der := filepath.Join(dir, "root.cer")
	require.NoError(t, os.WriteFile(der, root.Cert.Raw, 0o600))

	certs, err := LoadCertificateFiles(der)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, root.Cert.Raw, certs[0].Raw)

	_, err = LoadCertificateFiles(filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("junk"), 0o600))
	_, err = LoadCertificateFiles(junk)
	assert.Error(t, err)
}
