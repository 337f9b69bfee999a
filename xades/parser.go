package xades

import (
	"crypto/x509"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/digitorus/timestamp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
	"golang.org/x/text/unicode/norm"
)

// ArchivalInspector reports how many archival timestamps a raw signature
// carries. The validation engine implements it.
type ArchivalInspector interface {
	ArchiveTimestampCount(raw *RawSignature) int
}

// ArchivalInspectorFunc adapts a function to ArchivalInspector.
type ArchivalInspectorFunc func(raw *RawSignature) int

// ArchiveTimestampCount calls f(raw).
func (f ArchivalInspectorFunc) ArchiveTimestampCount(raw *RawSignature) int {
	return f(raw)
}

// CountArchiveTimestamps counts xadesv141:ArchiveTimeStamp elements in the
// unsigned signature properties.
func CountArchiveTimestamps(raw *RawSignature) int {
	return len(Children(raw.UnsignedSignatureProperties(), NameArchiveTimeStamp))
}

// Parser extracts Signature records from raw signatures.
type Parser struct {
	// Archival answers the archival-evidence query. When nil,
	// CountArchiveTimestamps is used.
	Archival ArchivalInspector
}

// NewParser returns a parser that asks inspector for archival evidence.
func NewParser(inspector ArchivalInspector) *Parser {
	return &Parser{Archival: inspector}
}

// Extract opens data and parses the signature it holds.
func (p *Parser) Extract(data []byte) (*Signature, error) {
	raw, err := OpenSignature(data)
	if err != nil {
		return nil, err
	}
	return p.Parse(raw)
}

// Parse builds the normalized record for raw. It fails with
// *MalformedSignatureError when the signature Id or signature method is
// missing, or when embedded evidence cannot be decoded. Optional
// attributes that are absent stay empty.
func (p *Parser) Parse(raw *RawSignature) (*Signature, error) {
	el := raw.Element()
	sig := &Signature{Raw: raw.Bytes()}

	sig.ID = strings.TrimSpace(el.SelectAttrValue("Id", ""))
	if sig.ID == "" {
		return nil, newMalformed("Signature/@Id", "signature id is missing", nil)
	}
	method := Path(el, NameSignedInfo, NameSignatureMethod)
	if method != nil {
		sig.SignatureMethod = strings.TrimSpace(method.SelectAttrValue("Algorithm", ""))
	}
	if sig.SignatureMethod == "" {
		return nil, newMalformed("SignedInfo/SignatureMethod/@Algorithm", "signature method is missing", nil)
	}

	signed := raw.SignedSignatureProperties()
	if st := Child(signed, NameSigningTime); st != nil {
		t, err := parseDateTime(st.Text())
		if err != nil {
			return nil, newMalformed("SigningTime", "invalid dateTime", err)
		}
		sig.SigningTime = &t
	}
	sig.SignerAttributes = signerAttributes(signed)

	if certEl := Path(el, NameKeyInfo, NameX509Data, NameX509Certificate); certEl != nil {
		cert, err := decodeCertificate(certEl.Text())
		if err != nil {
			return nil, newMalformed("KeyInfo/X509Data/X509Certificate", "undecodable certificate", err)
		}
		sig.SigningCertificate = cert
	}

	unsigned := raw.UnsignedSignatureProperties()
	if err := collectOCSP(sig, unsigned); err != nil {
		return nil, err
	}
	if err := collectTimestamps(sig, unsigned); err != nil {
		return nil, err
	}

	inspector := p.Archival
	if inspector == nil {
		inspector = ArchivalInspectorFunc(CountArchiveTimestamps)
	}
	sig.ArchivalEvidence = inspector.ArchiveTimestampCount(raw) > 0

	log.WithFields(logrus.Fields{
		"signature": sig.ID,
		"method":    sig.SignatureMethod,
	}).Debug("extracted signature")
	return sig, nil
}

func signerAttributes(signed *etree.Element) SignerAttributes {
	var attrs SignerAttributes
	place := Child(signed, NameSignatureProductionPlaceV2)
	if place == nil {
		place = Child(signed, NameSignatureProductionPlace)
	}
	if place != nil {
		attrs.City = text(Child(place, NameCity))
		attrs.StateOrProvince = text(Child(place, NameStateOrProvince))
		attrs.PostalCode = text(Child(place, NamePostalCode))
		attrs.CountryName = text(Child(place, NameCountryName))
	}

	role := Child(signed, NameSignerRoleV2)
	if role == nil {
		role = Child(signed, NameSignerRole)
	}
	for _, claimed := range Children(Child(role, NameClaimedRoles), NameClaimedRole) {
		if v := text(claimed); v != "" {
			attrs.Roles = append(attrs.Roles, v)
		}
	}
	return attrs
}

func text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(el.Text()))
}

// collectOCSP reads embedded OCSP responses. The most recently produced
// response is authoritative.
func collectOCSP(sig *Signature, unsigned *etree.Element) error {
	values := Path(unsigned, NameRevocationValues, NameOCSPValues)
	for _, v := range Children(values, NameEncapsulatedOCSPValue) {
		der, err := DecodeBase64(v.Text())
		if err != nil {
			return newMalformed("EncapsulatedOCSPValue", "invalid base64", err)
		}
		resp, err := ocsp.ParseResponse(der, nil)
		if err != nil {
			return newMalformed("EncapsulatedOCSPValue", "undecodable OCSP response", err)
		}
		produced := resp.ProducedAt.UTC()
		if sig.OCSPResponseCreationTime == nil || produced.After(*sig.OCSPResponseCreationTime) {
			sig.OCSPResponseCreationTime = &produced
			sig.OCSPCertificate = resp.Certificate
		}
	}
	return nil
}

// collectTimestamps reads signature timestamps. The earliest token is
// authoritative.
func collectTimestamps(sig *Signature, unsigned *etree.Element) error {
	for _, sts := range Children(unsigned, NameSignatureTimeStamp) {
		for _, enc := range Children(sts, NameEncapsulatedTimeStamp) {
			token, err := DecodeBase64(enc.Text())
			if err != nil {
				return newMalformed("EncapsulatedTimeStamp", "invalid base64", err)
			}
			ts, err := timestamp.Parse(token)
			if err != nil {
				return newMalformed("EncapsulatedTimeStamp", "undecodable timestamp token", err)
			}
			created := ts.Time.UTC()
			if sig.TimeStampCreationTime == nil || created.Before(*sig.TimeStampCreationTime) {
				sig.TimeStampCreationTime = &created
				sig.TimeStampTokenCertificate = TSACertificate(ts.Certificates)
			}
		}
	}
	return nil
}

// TSACertificate picks the time-stamping certificate among the certificates
// carried by a timestamp token: the first with the time-stamping extended key
// usage, otherwise the first certificate.
func TSACertificate(certs []*x509.Certificate) *x509.Certificate {
	for _, c := range certs {
		for _, usage := range c.ExtKeyUsage {
			if usage == x509.ExtKeyUsageTimeStamping {
				return c
			}
		}
	}
	if len(certs) > 0 {
		return certs[0]
	}
	return nil
}

func decodeCertificate(b64 string) (*x509.Certificate, error) {
	der, err := DecodeBase64(b64)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// parseDateTime parses an xsd:dateTime. Values without a zone are UTC.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	if t2, err2 := time.Parse("2006-01-02T15:04:05", s); err2 == nil {
		return t2.UTC(), nil
	}
	return time.Time{}, err
}
