// Validation report types.
// Indications and sub-indications follow ETSI EN 319 102-1.

package validation

import (
	"crypto/x509"
	"encoding/json"
	"encoding/xml"
	"time"
)

// Validation Indication values per ETSI EN 319 102-1
const (
	IndicationPassed        = "PASSED"
	IndicationFailed        = "FAILED"
	IndicationIndeterminate = "INDETERMINATE"
)

// Sub-indication values per ETSI EN 319 102-1
const (
	// FAILED sub-indications
	SubIndicationFormatFailure         = "FORMAT_FAILURE"
	SubIndicationHashFailure           = "HASH_FAILURE"
	SubIndicationSigCryptoFailure      = "SIG_CRYPTO_FAILURE"
	SubIndicationSigConstraintsFailure = "SIG_CONSTRAINTS_FAILURE"

	// INDETERMINATE sub-indications
	SubIndicationSignedDataNotFound      = "SIGNED_DATA_NOT_FOUND"
	SubIndicationNoValidTimestamp        = "NO_VALID_TIMESTAMP"
	SubIndicationNoCertificateChainFound = "NO_CERTIFICATE_CHAIN_FOUND"
	SubIndicationNoSignerCertFound       = "NO_SIGNER_CERT_FOUND"
	SubIndicationTryLater                = "TRY_LATER"
	SubIndicationRevokedNoPOE            = "REVOKED_NO_POE"
)

// Conclusion is the outcome of one validation, with its messages.
type Conclusion struct {
	Indication    string    `json:"indication" xml:"Indication"`
	SubIndication string    `json:"subIndication,omitempty" xml:"SubIndication,omitempty"`
	Errors        []Message `json:"errors,omitempty" xml:"Errors>Error,omitempty"`
	Warnings      []Message `json:"warnings,omitempty" xml:"Warnings>Warning,omitempty"`
	Infos         []Message `json:"infos,omitempty" xml:"Infos>Info,omitempty"`
}

// Message is a keyed report message.
type Message struct {
	Key   string `json:"key" xml:"Key"`
	Value string `json:"value" xml:"Value"`
}

// NewConclusion creates a conclusion with the given indication.
func NewConclusion(indication string) *Conclusion {
	return &Conclusion{Indication: indication}
}

// AddError adds an error to the conclusion.
func (c *Conclusion) AddError(key, value string) {
	c.Errors = append(c.Errors, Message{Key: key, Value: value})
}

// AddWarning adds a warning to the conclusion.
func (c *Conclusion) AddWarning(key, value string) {
	c.Warnings = append(c.Warnings, Message{Key: key, Value: value})
}

// AddInfo adds information to the conclusion.
func (c *Conclusion) AddInfo(key, value string) {
	c.Infos = append(c.Infos, Message{Key: key, Value: value})
}

// Fail records a failure. The first failure decides the sub-indication;
// FAILED outranks INDETERMINATE.
func (c *Conclusion) Fail(indication, subIndication, key, detail string) {
	c.AddError(key, detail)
	switch {
	case c.Indication == IndicationPassed || c.Indication == "":
		c.Indication = indication
		c.SubIndication = subIndication
	case c.Indication == IndicationIndeterminate && indication == IndicationFailed:
		c.Indication = indication
		c.SubIndication = subIndication
	}
}

// IsPassed returns true if the indication is PASSED.
func (c *Conclusion) IsPassed() bool {
	return c.Indication == IndicationPassed
}

// CertificateInfo contains information about a certificate in the report.
type CertificateInfo struct {
	ID           string    `json:"id" xml:"Id,attr"`
	Subject      string    `json:"subject" xml:"Subject"`
	Issuer       string    `json:"issuer" xml:"Issuer"`
	SerialNumber string    `json:"serialNumber" xml:"SerialNumber"`
	NotBefore    time.Time `json:"notBefore" xml:"NotBefore"`
	NotAfter     time.Time `json:"notAfter" xml:"NotAfter"`
	IsCA         bool      `json:"isCA" xml:"IsCA"`
	Trusted      bool      `json:"trusted" xml:"Trusted"`
}

// NewCertificateInfo creates certificate info from an x509 certificate.
func NewCertificateInfo(cert *x509.Certificate, id string) *CertificateInfo {
	return &CertificateInfo{
		ID:           id,
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		IsCA:         cert.IsCA,
	}
}

// IsValidAt checks if the certificate was valid at the given time.
func (c *CertificateInfo) IsValidAt(at time.Time) bool {
	return !at.Before(c.NotBefore) && !at.After(c.NotAfter)
}

// TimestampInfo describes an embedded timestamp.
type TimestampInfo struct {
	ID             string    `json:"id" xml:"Id,attr"`
	Type           string    `json:"type" xml:"Type"`
	ProductionTime time.Time `json:"productionTime" xml:"ProductionTime"`
	TSAName        string    `json:"tsaName,omitempty" xml:"TSAName,omitempty"`
}

// RevocationInfo describes embedded revocation data.
type RevocationInfo struct {
	Type           string    `json:"type" xml:"Type"`
	ProductionTime time.Time `json:"productionTime" xml:"ProductionTime"`
	Responder      string    `json:"responder,omitempty" xml:"Responder,omitempty"`
}

// Check is one step of the detailed validation.
type Check struct {
	Name   string `json:"name" xml:"Name,attr"`
	Status string `json:"status" xml:"Status"`
	Detail string `json:"detail,omitempty" xml:"Detail,omitempty"`
}

// Check statuses.
const (
	CheckOK      = "OK"
	CheckNotOK   = "NOT OK"
	CheckSkipped = "SKIPPED"
)

// SimpleReport is the short, user facing summary.
type SimpleReport struct {
	XMLName            xml.Name    `json:"-" xml:"SimpleReport"`
	ValidationTime     time.Time   `json:"validationTime" xml:"ValidationTime"`
	Policy             string      `json:"policy,omitempty" xml:"Policy,omitempty"`
	SignatureID        string      `json:"signatureId" xml:"SignatureId"`
	SignatureFormat    string      `json:"signatureFormat" xml:"SignatureFormat"`
	SignedBy           string      `json:"signedBy,omitempty" xml:"SignedBy,omitempty"`
	ClaimedSigningTime *time.Time  `json:"claimedSigningTime,omitempty" xml:"ClaimedSigningTime,omitempty"`
	BestSignatureTime  *time.Time  `json:"bestSignatureTime,omitempty" xml:"BestSignatureTime,omitempty"`
	SignatureScopes    []string    `json:"signatureScopes,omitempty" xml:"SignatureScopes>Scope,omitempty"`
	Conclusion         *Conclusion `json:"conclusion" xml:"Conclusion"`
}

// DetailedReport lists every check that led to the conclusion.
type DetailedReport struct {
	XMLName           xml.Name           `json:"-" xml:"DetailedReport"`
	SignatureID       string             `json:"signatureId" xml:"SignatureId"`
	SignerCertificate *CertificateInfo   `json:"signerCertificate,omitempty" xml:"SignerCertificate,omitempty"`
	CertificateChain  []*CertificateInfo `json:"certificateChain,omitempty" xml:"CertificateChain>Certificate,omitempty"`
	Timestamps        []*TimestampInfo   `json:"timestamps,omitempty" xml:"Timestamps>Timestamp,omitempty"`
	RevocationData    []*RevocationInfo  `json:"revocationData,omitempty" xml:"RevocationData>Revocation,omitempty"`
	Checks            []Check            `json:"checks,omitempty" xml:"Checks>Check,omitempty"`
	Conclusion        *Conclusion        `json:"conclusion" xml:"Conclusion"`
}

// AddCheck records a check result.
func (d *DetailedReport) AddCheck(name, status, detail string) {
	d.Checks = append(d.Checks, Check{Name: name, Status: status, Detail: detail})
}

// Reports is the layered report of one validated object. Next, when set,
// describes the validation of a nested trust object such as a timestamp
// token. Reports are never modified once returned by a Validator.
type Reports struct {
	SignatureID   string          `json:"signatureId"`
	Indication    string          `json:"indication"`
	SubIndication string          `json:"subIndication,omitempty"`
	Simple        *SimpleReport   `json:"simpleReport,omitempty"`
	Detailed      *DetailedReport `json:"detailedReport,omitempty"`
	Next          *Reports        `json:"next,omitempty"`
}

// IsPassed reports whether the indication is PASSED.
func (r *Reports) IsPassed() bool {
	return r.Indication == IndicationPassed
}

// Chain returns r followed by every nested report, walking Next until it
// is absent.
func (r *Reports) Chain() []*Reports {
	var chain []*Reports
	for cur := r; cur != nil; cur = cur.Next {
		chain = append(chain, cur)
	}
	return chain
}

// ToJSON serializes the report chain to JSON.
func (r *Reports) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// SimpleXML serializes the simple report to XML.
func (r *Reports) SimpleXML() ([]byte, error) {
	return xml.MarshalIndent(r.Simple, "", "  ")
}

// DetailedXML serializes the detailed report to XML.
func (r *Reports) DetailedXML() ([]byte, error) {
	return xml.MarshalIndent(r.Detailed, "", "  ")
}
