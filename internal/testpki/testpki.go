// Package testpki builds throwaway certificates, OCSP responses, timestamp
// tokens and XAdES documents for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"math/big"
	"sort"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/digitorus/timestamp"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
	"golang.org/x/crypto/ocsp"
)

// Certificate validity used for every generated certificate. CMS signing
// stamps the real current time, so the window must cover it.
var (
	ValidFrom = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	ValidTo   = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)
)

// Signature method URIs.
const (
	ECDSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	RSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SHA256      = "http://www.w3.org/2001/04/xmlenc#sha256"
	C14N11      = "http://www.w3.org/2006/12/xml-c14n11"
)

const (
	nsDS       = "http://www.w3.org/2000/09/xmldsig#"
	nsXAdES    = "http://uri.etsi.org/01903/v1.3.2#"
	nsXAdES141 = "http://uri.etsi.org/01903/v1.4.1#"
	nsASiC     = "http://uri.etsi.org/02918/v1.2.1#"

	signedPropertiesType = "http://uri.etsi.org/01903#SignedProperties"
)

var serial atomic.Int64

// Identity is a certificate with its private key.
type Identity struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// Signer returns the private key as a crypto.Signer.
func (i *Identity) Signer() crypto.Signer {
	return i.Key
}

// NewRoot creates a self-signed CA.
func NewRoot(t testing.TB, cn string) *Identity {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn)
	tmpl.IsCA = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	return create(t, tmpl, tmpl, key, key)
}

// Issue creates a certificate for cn signed by i. Extended key usages are
// optional.
func (i *Identity) Issue(t testing.TB, cn string, eku ...x509.ExtKeyUsage) *Identity {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
	tmpl.ExtKeyUsage = eku
	return create(t, tmpl, i.Cert, key, i.Key)
}

// IssueWithOCSP is Issue with an OCSP responder URL in the AIA extension.
func (i *Identity) IssueWithOCSP(t testing.TB, cn, ocspURL string) *Identity {
	t.Helper()
	key := newKey(t)
	tmpl := template(cn)
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
	tmpl.OCSPServer = []string{ocspURL}
	return create(t, tmpl, i.Cert, key, i.Key)
}

// NewTSA issues a time-stamping certificate under i.
func (i *Identity) NewTSA(t testing.TB, cn string) *Identity {
	t.Helper()
	return i.Issue(t, cn, x509.ExtKeyUsageTimeStamping)
}

// NewOCSPResponder issues an OCSP signing certificate under i.
func (i *Identity) NewOCSPResponder(t testing.TB, cn string) *Identity {
	t.Helper()
	return i.Issue(t, cn, x509.ExtKeyUsageOCSPSigning)
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func template(cn string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1) + 1000),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"gobdoc test"}, Country: []string{"EE"}},
		NotBefore:             ValidFrom,
		NotAfter:              ValidTo,
		BasicConstraintsValid: true,
	}
}

func create(t testing.TB, tmpl, parent *x509.Certificate, key *ecdsa.PrivateKey, parentKey *ecdsa.PrivateKey) *Identity {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("create certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &Identity{Cert: cert, Key: key}
}

// Pool returns a pool holding the given certificates.
func Pool(ids ...*Identity) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, id := range ids {
		pool.AddCert(id.Cert)
	}
	return pool
}

// OCSPResponse returns a DER OCSPResponse with status good for subject,
// signed by responder on behalf of issuer. ProducedAt is set by the ocsp
// package to the current minute.
func OCSPResponse(t testing.TB, responder, issuer *Identity, subject *x509.Certificate) []byte {
	t.Helper()
	now := time.Now().UTC()
	der, err := ocsp.CreateResponse(issuer.Cert, responder.Cert, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: subject.SerialNumber,
		ThisUpdate:   now.Add(-time.Hour),
		NextUpdate:   now.Add(24 * time.Hour),
		Certificate:  responder.Cert,
	}, responder.Key)
	if err != nil {
		t.Fatalf("create OCSP response: %v", err)
	}
	return der
}

// TimestampResponse returns a DER TimeStampResp over data, generated at.
func TimestampResponse(t testing.TB, tsa *Identity, data []byte, at time.Time) []byte {
	t.Helper()
	digest := sha256.Sum256(data)
	ts := timestamp.Timestamp{
		HashAlgorithm:     crypto.SHA256,
		HashedMessage:     digest[:],
		Time:              at.UTC().Truncate(time.Second),
		Policy:            asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 4146, 2, 2},
		AddTSACertificate: true,
	}
	resp, err := ts.CreateResponseWithOpts(tsa.Cert, tsa.Key, crypto.SHA256)
	if err != nil {
		t.Fatalf("create timestamp response: %v", err)
	}
	return resp
}

// TimestampToken returns the DER TimeStampToken over data, generated at.
func TimestampToken(t testing.TB, tsa *Identity, data []byte, at time.Time) []byte {
	t.Helper()
	var resp struct {
		Status         asn1.RawValue
		TimeStampToken asn1.RawValue `asn1:"optional"`
	}
	if _, err := asn1.Unmarshal(TimestampResponse(t, tsa, data, at), &resp); err != nil {
		t.Fatalf("decode timestamp response: %v", err)
	}
	return resp.TimeStampToken.FullBytes
}

// Signature describes a XAdES document to generate.
type Signature struct {
	ID              string
	Method          string
	SigningTime     string
	City            string
	StateOrProvince string
	PostalCode      string
	CountryName     string
	Roles           []string
	Certificate     *x509.Certificate
	// DataFiles are referenced by name with their SHA-256 digest.
	DataFiles map[string][]byte
	// SignatureValue defaults to a fixed byte string.
	SignatureValue    []byte
	OCSPResponses     [][]byte
	Timestamps        [][]byte
	ArchiveTimestamps [][]byte
	// Bare emits ds:Signature as the document root instead of wrapping
	// it in asic:XAdESSignatures.
	Bare bool
}

// XML renders the signature document.
func (s Signature) XML() []byte {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	var sig *etree.Element
	if s.Bare {
		sig = doc.CreateElement("ds:Signature")
		sig.CreateAttr("xmlns:ds", nsDS)
	} else {
		root := doc.CreateElement("asic:XAdESSignatures")
		root.CreateAttr("xmlns:asic", nsASiC)
		root.CreateAttr("xmlns:ds", nsDS)
		root.CreateAttr("xmlns:xades", nsXAdES)
		sig = root.CreateElement("ds:Signature")
	}
	if s.ID != "" {
		sig.CreateAttr("Id", s.ID)
	}

	si := sig.CreateElement("ds:SignedInfo")
	si.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", C14N11)
	if s.Method != "" {
		si.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", s.Method)
	}
	names := make([]string, 0, len(s.DataFiles))
	for name := range s.DataFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for n, name := range names {
		digest := sha256.Sum256(s.DataFiles[name])
		ref := si.CreateElement("ds:Reference")
		ref.CreateAttr("Id", s.ID+"-RefId"+strconv.Itoa(n))
		ref.CreateAttr("URI", name)
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", SHA256)
		ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest[:]))
	}
	spRef := si.CreateElement("ds:Reference")
	spRef.CreateAttr("Type", signedPropertiesType)
	spRef.CreateAttr("URI", "#"+s.ID+"-SignedProperties")
	spRef.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", SHA256)
	spRef.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(make([]byte, 32)))

	value := s.SignatureValue
	if value == nil {
		value = []byte("signature value of " + s.ID)
	}
	sv := sig.CreateElement("ds:SignatureValue")
	sv.CreateAttr("Id", s.ID+"-SIG")
	sv.SetText(base64.StdEncoding.EncodeToString(value))

	if s.Certificate != nil {
		sig.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data").
			CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(s.Certificate.Raw))
	}

	qp := sig.CreateElement("ds:Object").CreateElement("xades:QualifyingProperties")
	if s.Bare {
		qp.CreateAttr("xmlns:xades", nsXAdES)
	}
	qp.CreateAttr("Target", "#"+s.ID)
	sp := qp.CreateElement("xades:SignedProperties")
	sp.CreateAttr("Id", s.ID+"-SignedProperties")
	ssp := sp.CreateElement("xades:SignedSignatureProperties")
	if s.SigningTime != "" {
		ssp.CreateElement("xades:SigningTime").SetText(s.SigningTime)
	}
	if s.City != "" || s.StateOrProvince != "" || s.PostalCode != "" || s.CountryName != "" {
		place := ssp.CreateElement("xades:SignatureProductionPlaceV2")
		addText(place, "xades:City", s.City)
		addText(place, "xades:StateOrProvince", s.StateOrProvince)
		addText(place, "xades:PostalCode", s.PostalCode)
		addText(place, "xades:CountryName", s.CountryName)
	}
	if len(s.Roles) > 0 {
		claimed := ssp.CreateElement("xades:SignerRoleV2").CreateElement("xades:ClaimedRoles")
		for _, r := range s.Roles {
			claimed.CreateElement("xades:ClaimedRole").SetText(r)
		}
	}

	if len(s.Timestamps)+len(s.OCSPResponses)+len(s.ArchiveTimestamps) > 0 {
		usp := qp.CreateElement("xades:UnsignedProperties").CreateElement("xades:UnsignedSignatureProperties")
		for n, tok := range s.Timestamps {
			st := usp.CreateElement("xades:SignatureTimeStamp")
			st.CreateAttr("Id", s.ID+"-T"+strconv.Itoa(n))
			st.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", C14N11)
			st.CreateElement("xades:EncapsulatedTimeStamp").SetText(base64.StdEncoding.EncodeToString(tok))
		}
		if len(s.OCSPResponses) > 0 {
			ocspValues := usp.CreateElement("xades:RevocationValues").CreateElement("xades:OCSPValues")
			for _, der := range s.OCSPResponses {
				ocspValues.CreateElement("xades:EncapsulatedOCSPValue").SetText(base64.StdEncoding.EncodeToString(der))
			}
		}
		for n, tok := range s.ArchiveTimestamps {
			at := usp.CreateElement("xadesv141:ArchiveTimeStamp")
			at.CreateAttr("xmlns:xadesv141", nsXAdES141)
			at.CreateAttr("Id", s.ID+"-A"+strconv.Itoa(n))
			at.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", C14N11)
			at.CreateElement("xades:EncapsulatedTimeStamp").SetText(base64.StdEncoding.EncodeToString(tok))
		}
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		panic(err)
	}
	return out
}

// Sign renders the signature with a real SignedProperties digest and an
// ECDSA-SHA256 signature value by signer. The certificate defaults to the
// signer's. The SignedProperties reference is serialized with inclusive
// C14N 1.0 and SignedInfo with C14N 1.1, each after declaring the
// namespaces in scope.
func (s Signature) Sign(t testing.TB, signer *Identity) []byte {
	t.Helper()
	if s.Certificate == nil {
		s.Certificate = signer.Cert
	}
	s.Method = ECDSASHA256

	doc := parse(t, s.XML())
	sig := doc.FindElement("//ds:Signature")
	sp := sig.FindElement("ds:Object/xades:QualifyingProperties/xades:SignedProperties")
	spDigest := sha256.Sum256(canonical(t, sp, dsig.MakeC14N10RecCanonicalizer()))
	for _, ref := range sig.FindElements("ds:SignedInfo/ds:Reference") {
		if ref.SelectAttrValue("Type", "") == signedPropertiesType {
			ref.FindElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(spDigest[:]))
		}
	}

	doc = parse(t, write(t, doc))
	sig = doc.FindElement("//ds:Signature")
	hashed := sha256.Sum256(canonical(t, sig.FindElement("ds:SignedInfo"), dsig.MakeC14N11Canonicalizer()))
	r, ss, err := ecdsa.Sign(rand.Reader, signer.Key, hashed[:])
	if err != nil {
		t.Fatalf("sign SignedInfo: %v", err)
	}
	size := (signer.Key.Curve.Params().BitSize + 7) / 8
	value := make([]byte, 2*size)
	r.FillBytes(value[:size])
	ss.FillBytes(value[size:])
	sig.FindElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))
	return write(t, doc)
}

func parse(t testing.TB, data []byte) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		t.Fatalf("parse signature: %v", err)
	}
	return doc
}

func write(t testing.TB, doc *etree.Document) []byte {
	t.Helper()
	out, err := doc.WriteToBytes()
	if err != nil {
		t.Fatalf("serialize signature: %v", err)
	}
	return out
}

func canonical(t testing.TB, el *etree.Element, c dsig.Canonicalizer) []byte {
	t.Helper()
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		t.Fatalf("namespace context: %v", err)
	}
	detached, err := etreeutils.NSDetatch(ctx, el)
	if err != nil {
		t.Fatalf("detach %s: %v", el.Tag, err)
	}
	out, err := c.Canonicalize(detached)
	if err != nil {
		t.Fatalf("canonicalize %s: %v", el.Tag, err)
	}
	return out
}

func addText(parent *etree.Element, tag, text string) {
	if text != "" {
		parent.CreateElement(tag).SetText(text)
	}
}
