package xades

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"time"
)

// SignerAttributes are the optional signer claims from the signed
// properties. Every field is independently optional.
type SignerAttributes struct {
	City            string   `json:"city,omitempty"`
	StateOrProvince string   `json:"state_or_province,omitempty"`
	PostalCode      string   `json:"postal_code,omitempty"`
	CountryName     string   `json:"country_name,omitempty"`
	Roles           []string `json:"roles,omitempty"`
}

// IsEmpty reports whether no attribute is set.
func (a SignerAttributes) IsEmpty() bool {
	return a.City == "" && a.StateOrProvince == "" && a.PostalCode == "" &&
		a.CountryName == "" && len(a.Roles) == 0
}

// Signature is the normalized model of one XAdES signature.
//
// The profile and the trusted signing time are not stored: Profile and
// TrustedSigningTime derive them from the evidence fields through Classify.
type Signature struct {
	// ID is the ds:Signature Id, unique within a container.
	ID string
	// SignatureMethod is the SignedInfo signature algorithm URI.
	SignatureMethod string
	// SigningTime is the time claimed by the signer. It is not verified.
	SigningTime *time.Time
	// SignerAttributes holds production place and claimed roles.
	SignerAttributes SignerAttributes
	// SigningCertificate is nil when the signature carries no certificate.
	SigningCertificate *x509.Certificate

	// OCSPCertificate and OCSPResponseCreationTime are set once revocation
	// data is embedded.
	OCSPCertificate          *x509.Certificate
	OCSPResponseCreationTime *time.Time

	// TimeStampTokenCertificate and TimeStampCreationTime are set once a
	// signature timestamp is embedded.
	TimeStampTokenCertificate *x509.Certificate
	TimeStampCreationTime     *time.Time

	// ArchivalEvidence is the archival-timestamp signal reported for the
	// raw signature.
	ArchivalEvidence bool

	// Raw is the original signature encoding.
	Raw []byte
}

// Profile classifies the signature from its evidence.
func (s *Signature) Profile() Profile {
	p, _ := Classify(s)
	return p
}

// TrustedSigningTime returns the authoritative signing time, or nil for
// B_BES signatures.
func (s *Signature) TrustedSigningTime() *time.Time {
	_, t := Classify(s)
	return t
}

// Clone returns a deep copy. Certificates are shared since they are never
// modified after parsing.
func (s *Signature) Clone() *Signature {
	if s == nil {
		return nil
	}
	c := *s
	c.SigningTime = cloneTime(s.SigningTime)
	c.OCSPResponseCreationTime = cloneTime(s.OCSPResponseCreationTime)
	c.TimeStampCreationTime = cloneTime(s.TimeStampCreationTime)
	if s.SignerAttributes.Roles != nil {
		c.SignerAttributes.Roles = append([]string(nil), s.SignerAttributes.Roles...)
	}
	c.Raw = bytes.Clone(s.Raw)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// signatureJSON is the wire form of Signature. Certificates travel as DER.
// Profile and trusted time are written for readers but recomputed on decode.
type signatureJSON struct {
	ID                        string           `json:"id"`
	SignatureMethod           string           `json:"signature_method"`
	SigningTime               *time.Time       `json:"signing_time,omitempty"`
	SignerAttributes          SignerAttributes `json:"signer_attributes"`
	SigningCertificate        []byte           `json:"signing_certificate,omitempty"`
	OCSPCertificate           []byte           `json:"ocsp_certificate,omitempty"`
	OCSPResponseCreationTime  *time.Time       `json:"ocsp_response_creation_time,omitempty"`
	TimeStampTokenCertificate []byte           `json:"timestamp_token_certificate,omitempty"`
	TimeStampCreationTime     *time.Time       `json:"timestamp_creation_time,omitempty"`
	ArchivalEvidence          bool             `json:"archival_evidence,omitempty"`
	Profile                   Profile          `json:"profile"`
	TrustedSigningTime        *time.Time       `json:"trusted_signing_time,omitempty"`
	Raw                       []byte           `json:"raw,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s *Signature) MarshalJSON() ([]byte, error) {
	profile, trusted := Classify(s)
	return json.Marshal(signatureJSON{
		ID:                        s.ID,
		SignatureMethod:           s.SignatureMethod,
		SigningTime:               s.SigningTime,
		SignerAttributes:          s.SignerAttributes,
		SigningCertificate:        certDER(s.SigningCertificate),
		OCSPCertificate:           certDER(s.OCSPCertificate),
		OCSPResponseCreationTime:  s.OCSPResponseCreationTime,
		TimeStampTokenCertificate: certDER(s.TimeStampTokenCertificate),
		TimeStampCreationTime:     s.TimeStampCreationTime,
		ArchivalEvidence:          s.ArchivalEvidence,
		Profile:                   profile,
		TrustedSigningTime:        trusted,
		Raw:                       s.Raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var w signatureJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var err error
	out := Signature{
		ID:                       w.ID,
		SignatureMethod:          w.SignatureMethod,
		SigningTime:              w.SigningTime,
		SignerAttributes:         w.SignerAttributes,
		OCSPResponseCreationTime: w.OCSPResponseCreationTime,
		TimeStampCreationTime:    w.TimeStampCreationTime,
		ArchivalEvidence:         w.ArchivalEvidence,
		Raw:                      w.Raw,
	}
	if out.SigningCertificate, err = parseCertDER(w.SigningCertificate); err != nil {
		return fmt.Errorf("signing_certificate: %w", err)
	}
	if out.OCSPCertificate, err = parseCertDER(w.OCSPCertificate); err != nil {
		return fmt.Errorf("ocsp_certificate: %w", err)
	}
	if out.TimeStampTokenCertificate, err = parseCertDER(w.TimeStampTokenCertificate); err != nil {
		return fmt.Errorf("timestamp_token_certificate: %w", err)
	}
	*s = out
	return nil
}

func certDER(c *x509.Certificate) []byte {
	if c == nil {
		return nil
	}
	return c.Raw
}

func parseCertDER(der []byte) (*x509.Certificate, error) {
	if len(der) == 0 {
		return nil, nil
	}
	return x509.ParseCertificate(der)
}
