package tsl

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"
)

type testService struct {
	typ    string
	status string
	cert   *x509.Certificate
}

type testPointer struct {
	location  string
	territory string
	mimeType  string
	cert      *x509.Certificate
}

func listXML(territory string, seq int, services []testService, pointers []testPointer) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<TrustServiceStatusList xmlns="http://uri.etsi.org/02231/v2#" TSLTag="http://uri.etsi.org/19612/TSLTag">`)
	b.WriteString(`<SchemeInformation><TSLVersionIdentifier>5</TSLVersionIdentifier>`)
	fmt.Fprintf(&b, `<TSLSequenceNumber>%d</TSLSequenceNumber>`, seq)
	b.WriteString(`<SchemeOperatorName><Name xml:lang="et">Operaator</Name><Name xml:lang="en">Operator</Name></SchemeOperatorName>`)
	fmt.Fprintf(&b, `<SchemeTerritory>%s</SchemeTerritory>`, territory)
	if len(pointers) > 0 {
		b.WriteString(`<PointersToOtherTSL>`)
		for _, p := range pointers {
			b.WriteString(`<OtherTSLPointer>`)
			if p.cert != nil {
				fmt.Fprintf(&b, `<ServiceDigitalIdentities><ServiceDigitalIdentity><DigitalId><X509Certificate>%s</X509Certificate></DigitalId></ServiceDigitalIdentity></ServiceDigitalIdentities>`,
					base64.StdEncoding.EncodeToString(p.cert.Raw))
			}
			fmt.Fprintf(&b, `<TSLLocation>%s</TSLLocation>`, p.location)
			fmt.Fprintf(&b, `<AdditionalInformation><OtherInformation><SchemeTerritory>%s</SchemeTerritory></OtherInformation><OtherInformation><MimeType>%s</MimeType></OtherInformation></AdditionalInformation>`,
				p.territory, p.mimeType)
			b.WriteString(`</OtherTSLPointer>`)
		}
		b.WriteString(`</PointersToOtherTSL>`)
	}
	b.WriteString(`<ListIssueDateTime>2024-01-15T00:00:00Z</ListIssueDateTime>`)
	b.WriteString(`<NextUpdate><dateTime>2024-07-15T00:00:00Z</dateTime></NextUpdate>`)
	b.WriteString(`</SchemeInformation>`)
	if len(services) > 0 {
		b.WriteString(`<TrustServiceProviderList><TrustServiceProvider>`)
		b.WriteString(`<TSPInformation><TSPName><Name xml:lang="en">Test Provider</Name></TSPName></TSPInformation><TSPServices>`)
		for n, s := range services {
			b.WriteString(`<TSPService><ServiceInformation>`)
			fmt.Fprintf(&b, `<ServiceTypeIdentifier>%s</ServiceTypeIdentifier>`, s.typ)
			fmt.Fprintf(&b, `<ServiceName><Name xml:lang="en">Service %d</Name></ServiceName>`, n)
			b.WriteString(`<ServiceDigitalIdentity><DigitalId>`)
			if s.cert != nil {
				fmt.Fprintf(&b, `<X509Certificate>%s</X509Certificate>`, base64.StdEncoding.EncodeToString(s.cert.Raw))
			} else {
				b.WriteString(`<X509Certificate>not base64!</X509Certificate>`)
			}
			b.WriteString(`</DigitalId></ServiceDigitalIdentity>`)
			fmt.Fprintf(&b, `<ServiceStatus>%s</ServiceStatus>`, s.status)
			b.WriteString(`<StatusStartingTime>2016-06-30T22:00:00Z</StatusStartingTime>`)
			b.WriteString(`</ServiceInformation></TSPService>`)
		}
		b.WriteString(`</TSPServices></TrustServiceProvider></TrustServiceProviderList>`)
	}
	b.WriteString(`</TrustServiceStatusList>`)
	return []byte(b.String())
}

type listSigner struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

func newListSigner(t *testing.T, cn string, notBefore time.Time) *listSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(notBefore.Unix()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notBefore.AddDate(50, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &listSigner{key: key, cert: cert}
}

func (s *listSigner) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))

	ctx, err := dsig.NewSigningContext(s.key, [][]byte{s.cert.Raw})
	require.NoError(t, err)
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signed, err := ctx.SignEnveloped(doc.Root())
	require.NoError(t, err)

	out := etree.NewDocument()
	out.SetRoot(signed)
	b, err := out.WriteToBytes()
	require.NoError(t, err)
	return b
}
