// Package tsl parses ETSI TS 119 612 trusted lists into the trust anchors
// used for certificate chain and timestamp checks.
package tsl

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/gobdoc/fetchers"
)

var log = logrus.WithField("component", "tsl")

// PreferredLanguage is used when picking one of several multilingual names.
const PreferredLanguage = "en"

// Service type identifiers.
const (
	ServiceTypeCAQC     = "http://uri.etsi.org/TrstSvc/Svctype/CA/QC"
	ServiceTypeCAPKC    = "http://uri.etsi.org/TrstSvc/Svctype/CA/PKC"
	ServiceTypeTSAQTST  = "http://uri.etsi.org/TrstSvc/Svctype/TSA/QTST"
	ServiceTypeTSA      = "http://uri.etsi.org/TrstSvc/Svctype/TSA"
	ServiceTypeOCSPQC   = "http://uri.etsi.org/TrstSvc/Svctype/Certstatus/OCSP/QC"
	ServiceTypeOCSP     = "http://uri.etsi.org/TrstSvc/Svctype/Certstatus/OCSP"
	MimeTypeTrustedList = "application/vnd.etsi.tsl+xml"
)

// Service status identifiers. The last two come from the pre-eIDAS
// Directive 1999/93/EC lists and are still treated as active.
const (
	ServiceStatusGranted          = "http://uri.etsi.org/TrstSvc/TrustedList/Svcstatus/granted"
	ServiceStatusWithdrawn        = "http://uri.etsi.org/TrstSvc/TrustedList/Svcstatus/withdrawn"
	ServiceStatusUnderSupervision = "http://uri.etsi.org/TrstSvc/eSigDir-1999-93-EC-TrustedList/Svcstatus/undersupervision"
	ServiceStatusAccredited       = "http://uri.etsi.org/TrstSvc/eSigDir-1999-93-EC-TrustedList/Svcstatus/accredited"
)

type statusList struct {
	XMLName           xml.Name           `xml:"TrustServiceStatusList"`
	SchemeInformation *schemeInformation `xml:"SchemeInformation"`
	Providers         []providerXML      `xml:"TrustServiceProviderList>TrustServiceProvider"`
}

type schemeInformation struct {
	SequenceNumber  int          `xml:"TSLSequenceNumber"`
	SchemeTerritory string       `xml:"SchemeTerritory"`
	OperatorName    []langString `xml:"SchemeOperatorName>Name"`
	Pointers        []pointerXML `xml:"PointersToOtherTSL>OtherTSLPointer"`
	IssueDateTime   string       `xml:"ListIssueDateTime"`
	NextUpdate      string       `xml:"NextUpdate>dateTime"`
}

type langString struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type pointerXML struct {
	Identities []digitalIdentity `xml:"ServiceDigitalIdentities>ServiceDigitalIdentity>DigitalId"`
	Location   string            `xml:"TSLLocation"`
	Info       []otherInfo       `xml:"AdditionalInformation>OtherInformation"`
}

type otherInfo struct {
	SchemeTerritory string `xml:"SchemeTerritory"`
	MimeType        string `xml:"MimeType"`
}

type digitalIdentity struct {
	X509Certificate string `xml:"X509Certificate"`
}

type providerXML struct {
	Name     []langString `xml:"TSPInformation>TSPName>Name"`
	Services []serviceXML `xml:"TSPServices>TSPService"`
}

type serviceXML struct {
	Type       string            `xml:"ServiceInformation>ServiceTypeIdentifier"`
	Name       []langString      `xml:"ServiceInformation>ServiceName>Name"`
	Identities []digitalIdentity `xml:"ServiceInformation>ServiceDigitalIdentity>DigitalId"`
	Status     string            `xml:"ServiceInformation>ServiceStatus"`
	Starting   string            `xml:"ServiceInformation>StatusStartingTime"`
}

// Service is one trust service of a provider.
type Service struct {
	Provider     string
	Name         string
	Type         string
	Status       string
	StatusStart  time.Time
	Certificates []*x509.Certificate
}

// Active reports whether the service status is granted or one of its
// legacy equivalents.
func (s Service) Active() bool {
	switch s.Status {
	case ServiceStatusGranted, ServiceStatusUnderSupervision, ServiceStatusAccredited:
		return true
	}
	return false
}

// IsCA reports whether the service issues certificates.
func (s Service) IsCA() bool {
	return s.Type == ServiceTypeCAQC || s.Type == ServiceTypeCAPKC
}

// IsTSA reports whether the service issues timestamps.
func (s Service) IsTSA() bool {
	return s.Type == ServiceTypeTSAQTST || s.Type == ServiceTypeTSA
}

// Pointer refers to another trusted list, typically from the list of lists.
type Pointer struct {
	Location     string
	Territory    string
	MimeType     string
	Certificates []*x509.Certificate
}

// IsTrustedList reports whether the pointer targets an XML trusted list
// rather than its human readable rendition.
func (p Pointer) IsTrustedList() bool {
	return p.MimeType == "" || p.MimeType == MimeTypeTrustedList
}

// TrustedList is a parsed trusted list.
type TrustedList struct {
	Territory      string
	Operator       string
	SequenceNumber int
	IssueDate      time.Time
	NextUpdate     *time.Time
	Services       []Service
	Pointers       []Pointer
}

// Parse reads a trusted list. Certificates that cannot be decoded are
// skipped with a warning; a list that is not a TrustServiceStatusList is
// an error.
func Parse(data []byte) (*TrustedList, error) {
	var doc statusList
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse trusted list: %w", err)
	}
	if doc.SchemeInformation == nil {
		return nil, fmt.Errorf("failed to parse trusted list: SchemeInformation is missing")
	}

	info := doc.SchemeInformation
	list := &TrustedList{
		Territory:      strings.TrimSpace(info.SchemeTerritory),
		Operator:       pickName(info.OperatorName),
		SequenceNumber: info.SequenceNumber,
	}
	if t, err := parseDateTime(info.IssueDateTime); err == nil {
		list.IssueDate = t
	}
	if t, err := parseDateTime(info.NextUpdate); err == nil {
		list.NextUpdate = &t
	}

	for _, p := range info.Pointers {
		ptr := Pointer{
			Location:     strings.TrimSpace(p.Location),
			Certificates: decodeIdentities(p.Identities, list.Territory),
		}
		for _, oi := range p.Info {
			if oi.SchemeTerritory != "" {
				ptr.Territory = strings.TrimSpace(oi.SchemeTerritory)
			}
			if oi.MimeType != "" {
				ptr.MimeType = strings.TrimSpace(oi.MimeType)
			}
		}
		list.Pointers = append(list.Pointers, ptr)
	}

	for _, tsp := range doc.Providers {
		provider := pickName(tsp.Name)
		for _, s := range tsp.Services {
			svc := Service{
				Provider:     provider,
				Name:         pickName(s.Name),
				Type:         strings.TrimSpace(s.Type),
				Status:       strings.TrimSpace(s.Status),
				Certificates: decodeIdentities(s.Identities, list.Territory),
			}
			if t, err := parseDateTime(s.Starting); err == nil {
				svc.StatusStart = t
			}
			list.Services = append(list.Services, svc)
		}
	}

	log.WithFields(logrus.Fields{
		"territory": list.Territory,
		"sequence":  list.SequenceNumber,
		"services":  len(list.Services),
		"pointers":  len(list.Pointers),
	}).Debug("parsed trusted list")
	return list, nil
}

// IsExpired reports whether the list is past its next update at t. Lists
// without a next update (closed lists) are expired.
func (l *TrustedList) IsExpired(t time.Time) bool {
	return l.NextUpdate == nil || t.After(*l.NextUpdate)
}

// Anchors returns the certificates of the active CA and TSA services.
func (l *TrustedList) Anchors() *TrustAnchors {
	anchors := &TrustAnchors{}
	for _, s := range l.Services {
		if !s.Active() {
			continue
		}
		switch {
		case s.IsCA():
			anchors.AddCA(s.Certificates...)
		case s.IsTSA():
			anchors.AddTSA(s.Certificates...)
		}
	}
	return anchors
}

// TrustAnchors are the certificates trusted for signing certificate chains
// and for timestamp tokens.
type TrustAnchors struct {
	CA  []*x509.Certificate
	TSA []*x509.Certificate
}

// AddCA adds certificate authorities, skipping duplicates.
func (a *TrustAnchors) AddCA(certs ...*x509.Certificate) {
	a.CA = appendUnique(a.CA, certs)
}

// AddTSA adds timestamping authorities, skipping duplicates.
func (a *TrustAnchors) AddTSA(certs ...*x509.Certificate) {
	a.TSA = appendUnique(a.TSA, certs)
}

// Merge adds every anchor of other.
func (a *TrustAnchors) Merge(other *TrustAnchors) {
	if other == nil {
		return
	}
	a.AddCA(other.CA...)
	a.AddTSA(other.TSA...)
}

// Pool returns the CA anchors as a certificate pool.
func (a *TrustAnchors) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	if a == nil {
		return pool
	}
	for _, c := range a.CA {
		pool.AddCert(c)
	}
	return pool
}

// TSAPool returns the TSA anchors and the CA anchors as a certificate pool.
// TSA certificates listed directly are trusted as roots.
func (a *TrustAnchors) TSAPool() *x509.CertPool {
	pool := a.Pool()
	if a == nil {
		return pool
	}
	for _, c := range a.TSA {
		pool.AddCert(c)
	}
	return pool
}

// FindIssuer returns the CA anchor that issued cert, or nil.
func (a *TrustAnchors) FindIssuer(cert *x509.Certificate) *x509.Certificate {
	if a == nil || cert == nil {
		return nil
	}
	for _, ca := range a.CA {
		if bytes.Equal(ca.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(ca) == nil {
			return ca
		}
	}
	return nil
}

// Len returns the total number of anchors.
func (a *TrustAnchors) Len() int {
	if a == nil {
		return 0
	}
	return len(a.CA) + len(a.TSA)
}

// LoadCertificateFiles reads PEM or DER certificate files.
func LoadCertificateFiles(files ...string) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read trust anchor %s: %w", f, err)
		}
		certs, err := fetchers.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trust anchor %s: %w", f, err)
		}
		out = append(out, certs...)
	}
	return out, nil
}

func appendUnique(dst, certs []*x509.Certificate) []*x509.Certificate {
	for _, c := range certs {
		if c == nil {
			continue
		}
		dup := false
		for _, have := range dst {
			if bytes.Equal(have.Raw, c.Raw) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, c)
		}
	}
	return dst
}

func decodeIdentities(ids []digitalIdentity, territory string) []*x509.Certificate {
	var certs []*x509.Certificate
	for _, id := range ids {
		b64 := strings.Join(strings.Fields(id.X509Certificate), "")
		if b64 == "" {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			log.WithError(err).WithField("territory", territory).Warn("skipping undecodable service certificate")
			continue
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			log.WithError(err).WithField("territory", territory).Warn("skipping unparsable service certificate")
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

func pickName(names []langString) string {
	if len(names) == 0 {
		return ""
	}
	for _, n := range names {
		if strings.EqualFold(n.Lang, PreferredLanguage) {
			return strings.TrimSpace(n.Value)
		}
	}
	return strings.TrimSpace(names[0].Value)
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime: %s", s)
}
