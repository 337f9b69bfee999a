package engine

import (
	"context"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/gobdoc/timestamps"
	"github.com/georgepadayatti/gobdoc/validation"
	"github.com/georgepadayatti/gobdoc/xades"
)

// Check names used in detailed reports.
const (
	CheckFormat             = "format"
	CheckSignatureMethod    = "signature_method"
	CheckSigningCertificate = "signing_certificate"
	CheckXMLSignature       = "xml_signature"
	CheckTimestamps         = "timestamps"
	CheckCertificateChain   = "certificate_chain"
	CheckRevocation         = "revocation"
	CheckMinimumProfile     = "minimum_profile"
	CheckMessageImprint     = "message_imprint"
	CheckTSACertificate     = "tsa_certificate"
)

// Timestamp types reported in TimestampInfo.
const (
	TimestampTypeSignature = "SIGNATURE_TIMESTAMP"
	TimestampTypeArchive   = "ARCHIVE_TIMESTAMP"
)

// defaultConstraints apply when Validate is called without a policy.
var defaultConstraints = validation.SignatureConstraints{VerifyXMLSignature: true}

// Validate checks one signature against its data files, the trust anchors
// and policy. A signature that cannot be parsed yields a FAILED report
// with FORMAT_FAILURE rather than an error. Every embedded timestamp is
// validated on its own and its report is chained through Next.
func (e *Engine) Validate(ctx context.Context, signature validation.Document, detached []validation.Document, policy *validation.Policy) (*validation.Reports, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &validationRun{
		engine:   e,
		detached: detached,
		rules:    defaultConstraints,
		now:      e.clock.Now().UTC(),
		result:   validation.NewConclusion(validation.IndicationPassed),
	}
	if policy != nil {
		r.rules = policy.Signature
		r.policy = policy.Name
	}
	r.detailed = &validation.DetailedReport{SignatureID: signature.Name, Conclusion: r.result}

	if err := r.open(signature.Data); err != nil {
		r.detailed.AddCheck(CheckFormat, validation.CheckNotOK, err.Error())
		r.result.Fail(validation.IndicationFailed, validation.SubIndicationFormatFailure, CheckFormat, err.Error())
		return r.reports(), nil
	}
	r.detailed.AddCheck(CheckFormat, validation.CheckOK, "")
	r.detailed.SignatureID = r.sig.ID

	r.checkSignatureMethod()
	r.checkSigningCertificate()
	r.checkXMLSignature()
	r.checkTimestamps()
	r.checkCertificateChain()
	r.checkRevocation()
	r.checkMinimumProfile()

	reports := r.reports()
	log.WithFields(logrus.Fields{
		"signature":     reports.SignatureID,
		"indication":    reports.Indication,
		"subIndication": reports.SubIndication,
	}).Debug("validated signature")
	return reports, nil
}

// validationRun carries the state of one Validate call.
type validationRun struct {
	engine   *Engine
	detached []validation.Document
	rules    validation.SignatureConstraints
	policy   string
	now      time.Time

	raw      *xades.RawSignature
	sig      *xades.Signature
	detailed *validation.DetailedReport
	result   *validation.Conclusion

	chain  []*x509.Certificate
	best   *time.Time
	nested []*validation.Reports
}

func (r *validationRun) open(data []byte) error {
	raw, err := xades.OpenSignature(data)
	if err != nil {
		return err
	}
	sig, err := r.engine.parser.Parse(raw)
	if err != nil {
		return err
	}
	r.raw, r.sig = raw, sig
	return nil
}

func (r *validationRun) fail(indication, sub, check, detail string) {
	r.detailed.AddCheck(check, validation.CheckNotOK, detail)
	r.result.Fail(indication, sub, check, detail)
}

func (r *validationRun) checkSignatureMethod() {
	if !r.rules.AcceptsMethod(r.sig.SignatureMethod) {
		r.fail(validation.IndicationFailed, validation.SubIndicationSigConstraintsFailure, CheckSignatureMethod,
			fmt.Sprintf("signature method %s is not accepted", r.sig.SignatureMethod))
		return
	}
	r.detailed.AddCheck(CheckSignatureMethod, validation.CheckOK, r.sig.SignatureMethod)
}

func (r *validationRun) checkSigningCertificate() {
	cert := r.sig.SigningCertificate
	if cert == nil {
		if r.rules.SigningCertificateRequired {
			r.fail(validation.IndicationIndeterminate, validation.SubIndicationNoSignerCertFound,
				CheckSigningCertificate, "signature carries no signing certificate")
			return
		}
		r.detailed.AddCheck(CheckSigningCertificate, validation.CheckSkipped, "no signing certificate")
		r.result.AddWarning(CheckSigningCertificate, "signature carries no signing certificate")
		return
	}
	r.detailed.SignerCertificate = validation.NewCertificateInfo(cert, "signer")
	r.detailed.AddCheck(CheckSigningCertificate, validation.CheckOK, cert.Subject.String())
}

func (r *validationRun) checkXMLSignature() {
	if !r.rules.VerifyXMLSignature {
		r.detailed.AddCheck(CheckXMLSignature, validation.CheckSkipped, "disabled by policy")
		return
	}
	if r.sig.SigningCertificate == nil {
		r.detailed.AddCheck(CheckXMLSignature, validation.CheckSkipped, "no signing certificate")
		return
	}
	err := r.engine.verifier.Verify(r.raw, r.detached)
	if err == nil {
		r.detailed.AddCheck(CheckXMLSignature, validation.CheckOK, "")
		return
	}

	var refErr *ReferenceError
	var valueErr *SignatureValueError
	switch {
	case errors.As(err, &refErr) && refErr.Missing:
		if r.rules.DataFilesRequired || strings.HasPrefix(refErr.URI, "#") {
			r.fail(validation.IndicationIndeterminate, validation.SubIndicationSignedDataNotFound, CheckXMLSignature, err.Error())
			return
		}
		r.detailed.AddCheck(CheckXMLSignature, validation.CheckOK, err.Error())
		r.result.AddWarning(CheckXMLSignature, err.Error())
	case errors.Is(err, errDigestMismatch):
		r.fail(validation.IndicationFailed, validation.SubIndicationHashFailure, CheckXMLSignature, err.Error())
	case errors.As(err, &valueErr):
		r.fail(validation.IndicationFailed, validation.SubIndicationSigCryptoFailure, CheckXMLSignature, err.Error())
	default:
		r.fail(validation.IndicationFailed, validation.SubIndicationFormatFailure, CheckXMLSignature, err.Error())
	}
}

// checkTimestamps validates the signature timestamps and the archive
// timestamps. The earliest valid signature timestamp becomes the best
// signature time.
func (r *validationRun) checkTimestamps() {
	unsigned := r.raw.UnsignedSignatureProperties()
	if unsigned == nil {
		r.detailed.AddCheck(CheckTimestamps, validation.CheckSkipped, "no unsigned properties")
		return
	}
	sigEl := r.raw.Element()
	value := xades.Child(sigEl, xades.NameSignatureValue)

	count, failed := 0, 0
	props := unsigned.ChildElements()
	for i, prop := range props {
		var kind string
		var covered func(c dsig.Canonicalizer) ([]byte, error)
		switch {
		case xades.Is(prop, xades.NameSignatureTimeStamp):
			kind = TimestampTypeSignature
			covered = func(c dsig.Canonicalizer) ([]byte, error) {
				if value == nil {
					return nil, errors.New("signature has no SignatureValue")
				}
				return canonicalize(value, c)
			}
		case xades.Is(prop, xades.NameArchiveTimeStamp):
			kind = TimestampTypeArchive
			preceding := props[:i]
			covered = func(c dsig.Canonicalizer) ([]byte, error) {
				return archiveInput(sigEl, preceding, c)
			}
		default:
			continue
		}

		for j, enc := range xades.Children(prop, xades.NameEncapsulatedTimeStamp) {
			count++
			id := prop.SelectAttrValue("Id", "")
			if id == "" {
				id = r.sig.ID + "-" + strings.ToLower(kind) + "-" + strconv.Itoa(count)
			} else if j > 0 {
				id += "-" + strconv.Itoa(j)
			}
			report, genTime := r.engine.timestampReport(id, kind, prop, enc, covered, r.now)
			r.nested = append(r.nested, report)
			if !report.IsPassed() {
				failed++
				continue
			}
			r.detailed.Timestamps = append(r.detailed.Timestamps, report.Detailed.Timestamps...)
			if kind == TimestampTypeSignature && (r.best == nil || genTime.Before(*r.best)) {
				t := genTime
				r.best = &t
			}
		}
	}

	switch {
	case count == 0:
		r.detailed.AddCheck(CheckTimestamps, validation.CheckSkipped, "no timestamps")
	case failed > 0:
		r.fail(validation.IndicationIndeterminate, validation.SubIndicationNoValidTimestamp, CheckTimestamps,
			fmt.Sprintf("%d of %d timestamps are not valid", failed, count))
	default:
		r.detailed.AddCheck(CheckTimestamps, validation.CheckOK, fmt.Sprintf("%d timestamps", count))
	}
}

func (r *validationRun) checkCertificateChain() {
	cert := r.sig.SigningCertificate
	if cert == nil {
		r.detailed.AddCheck(CheckCertificateChain, validation.CheckSkipped, "no signing certificate")
		return
	}
	at := r.now
	if r.best != nil {
		at = *r.best
	}
	chain, err := verifyChain(cert, embeddedCertificates(r.raw.UnsignedSignatureProperties()),
		r.engine.anchors.Pool(), at, x509.ExtKeyUsageAny)
	if err != nil {
		detail := fmt.Sprintf("no trusted chain at %s: %v", at.Format(time.RFC3339), err)
		if r.rules.TrustedChainRequired {
			r.fail(validation.IndicationIndeterminate, validation.SubIndicationNoCertificateChainFound, CheckCertificateChain, detail)
			return
		}
		r.detailed.AddCheck(CheckCertificateChain, validation.CheckNotOK, detail)
		r.result.AddWarning(CheckCertificateChain, detail)
		return
	}
	r.chain = chain
	r.detailed.SignerCertificate.Trusted = true
	for i, c := range chain {
		info := validation.NewCertificateInfo(c, "chain-"+strconv.Itoa(i))
		info.Trusted = true
		r.detailed.CertificateChain = append(r.detailed.CertificateChain, info)
	}
	r.detailed.AddCheck(CheckCertificateChain, validation.CheckOK, chain[len(chain)-1].Subject.String())
}

// checkRevocation reads the embedded OCSP responses for the signing
// certificate. A revocation before the best signature time, or without
// one, is INDETERMINATE.
func (r *validationRun) checkRevocation() {
	cert := r.sig.SigningCertificate
	values := xades.Path(r.raw.UnsignedSignatureProperties(), xades.NameRevocationValues, xades.NameOCSPValues)
	encoded := xades.Children(values, xades.NameEncapsulatedOCSPValue)
	if cert == nil || len(encoded) == 0 {
		r.detailed.AddCheck(CheckRevocation, validation.CheckSkipped, "no revocation data")
		return
	}

	var issuer *x509.Certificate
	if len(r.chain) > 1 {
		issuer = r.chain[1]
	}
	var latest *ocsp.Response
	for _, el := range encoded {
		der, err := xades.DecodeBase64(el.Text())
		if err != nil {
			continue
		}
		resp, err := ocsp.ParseResponseForCert(der, cert, issuer)
		if err != nil {
			log.WithError(err).WithField("signature", r.sig.ID).Debug("skipping OCSP response")
			continue
		}
		info := &validation.RevocationInfo{Type: "OCSP", ProductionTime: resp.ProducedAt.UTC()}
		if resp.Certificate != nil {
			info.Responder = resp.Certificate.Subject.String()
		}
		r.detailed.RevocationData = append(r.detailed.RevocationData, info)
		if latest == nil || resp.ProducedAt.After(latest.ProducedAt) {
			latest = resp
		}
	}

	switch {
	case latest == nil:
		r.detailed.AddCheck(CheckRevocation, validation.CheckNotOK, "no OCSP response covers the signing certificate")
		r.result.AddWarning(CheckRevocation, "no OCSP response covers the signing certificate")
	case latest.Status == ocsp.Revoked && (r.best == nil || latest.RevokedAt.Before(*r.best)):
		r.fail(validation.IndicationIndeterminate, validation.SubIndicationRevokedNoPOE, CheckRevocation,
			fmt.Sprintf("signing certificate revoked at %s", latest.RevokedAt.UTC().Format(time.RFC3339)))
	case latest.Status == ocsp.Revoked:
		r.detailed.AddCheck(CheckRevocation, validation.CheckOK, "revoked after the signature time")
		r.result.AddInfo(CheckRevocation, "signing certificate revoked after the signature was timestamped")
	case latest.Status == ocsp.Good && issuer == nil:
		detail := "good, but the OCSP responder was not checked against an issuer"
		r.detailed.AddCheck(CheckRevocation, validation.CheckNotOK, detail)
		r.result.AddWarning(CheckRevocation, detail)
	case latest.Status == ocsp.Good:
		r.detailed.AddCheck(CheckRevocation, validation.CheckOK, "good")
	default:
		r.detailed.AddCheck(CheckRevocation, validation.CheckNotOK, "status unknown")
		r.result.AddWarning(CheckRevocation, "signing certificate status is unknown")
	}
}

func (r *validationRun) checkMinimumProfile() {
	minimum, set, err := r.rules.Minimum()
	if err != nil {
		r.fail(validation.IndicationFailed, validation.SubIndicationSigConstraintsFailure, CheckMinimumProfile, err.Error())
		return
	}
	profile := r.sig.Profile()
	if !set {
		r.detailed.AddCheck(CheckMinimumProfile, validation.CheckSkipped, profile.String())
		return
	}
	if !profile.AtLeast(minimum) {
		r.fail(validation.IndicationFailed, validation.SubIndicationSigConstraintsFailure, CheckMinimumProfile,
			fmt.Sprintf("profile %s is weaker than %s", profile, minimum))
		return
	}
	r.detailed.AddCheck(CheckMinimumProfile, validation.CheckOK, profile.String())
}

// reports assembles the layered report. The nested timestamp reports are
// linked in document order.
func (r *validationRun) reports() *validation.Reports {
	simple := &validation.SimpleReport{
		ValidationTime: r.now,
		Policy:         r.policy,
		SignatureID:    r.detailed.SignatureID,
		Conclusion:     r.result,
	}
	if r.sig != nil {
		simple.SignatureFormat = "XAdES_" + r.sig.Profile().String()
		simple.ClaimedSigningTime = r.sig.SigningTime
		simple.BestSignatureTime = r.best
		simple.SignatureScopes = signatureScopes(r.raw.Element())
		if cert := r.sig.SigningCertificate; cert != nil {
			simple.SignedBy = cert.Subject.CommonName
		}
	}
	out := &validation.Reports{
		SignatureID:   r.detailed.SignatureID,
		Indication:    r.result.Indication,
		SubIndication: r.result.SubIndication,
		Simple:        simple,
		Detailed:      r.detailed,
	}
	tail := out
	for _, n := range r.nested {
		tail.Next = n
		tail = n
	}
	return out
}

// signatureScopes lists the detached data files the signature covers.
func signatureScopes(sig *etree.Element) []string {
	var scopes []string
	for _, ref := range xades.Children(xades.Child(sig, xades.NameSignedInfo), xades.NameReference) {
		uri := ref.SelectAttrValue("URI", "")
		if uri == "" || strings.HasPrefix(uri, "#") {
			continue
		}
		scopes = append(scopes, uri)
	}
	return scopes
}

// timestampReport validates one encapsulated token: its CMS signature,
// its message imprint over the covered data and its TSA certificate.
func (e *Engine) timestampReport(id, kind string, prop, enc *etree.Element,
	covered func(dsig.Canonicalizer) ([]byte, error), now time.Time) (*validation.Reports, time.Time) {

	conclusion := validation.NewConclusion(validation.IndicationPassed)
	detailed := &validation.DetailedReport{SignatureID: id, Conclusion: conclusion}
	report := &validation.Reports{
		SignatureID: id,
		Simple: &validation.SimpleReport{
			ValidationTime:  now,
			SignatureID:     id,
			SignatureFormat: kind,
			Conclusion:      conclusion,
		},
		Detailed: detailed,
	}
	finish := func() (*validation.Reports, time.Time) {
		report.Indication = conclusion.Indication
		report.SubIndication = conclusion.SubIndication
		if len(detailed.Timestamps) == 1 {
			return report, detailed.Timestamps[0].ProductionTime
		}
		return report, time.Time{}
	}
	failCheck := func(indication, sub, check, detail string) {
		detailed.AddCheck(check, validation.CheckNotOK, detail)
		conclusion.Fail(indication, sub, check, detail)
	}

	token, err := xades.DecodeBase64(enc.Text())
	if err != nil {
		failCheck(validation.IndicationFailed, validation.SubIndicationFormatFailure, CheckFormat, err.Error())
		return finish()
	}
	ts, err := timestamps.ParseToken(token)
	if err != nil {
		failCheck(validation.IndicationFailed, validation.SubIndicationSigCryptoFailure, CheckFormat, err.Error())
		return finish()
	}
	detailed.AddCheck(CheckFormat, validation.CheckOK, "")
	info := &validation.TimestampInfo{ID: id, Type: kind, ProductionTime: ts.Time.UTC()}

	method, methodEl := algorithmOf(prop, nameCanonicalizationMethod)
	if method == "" {
		method = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	}
	c, err := canonicalizer(method, methodEl)
	if err != nil {
		failCheck(validation.IndicationFailed, validation.SubIndicationFormatFailure, CheckMessageImprint, err.Error())
		return finish()
	}
	data, err := covered(c)
	if err != nil {
		failCheck(validation.IndicationFailed, validation.SubIndicationFormatFailure, CheckMessageImprint, err.Error())
		return finish()
	}
	if err := timestamps.VerifyTimestamp(token, data); err != nil {
		failCheck(validation.IndicationFailed, validation.SubIndicationHashFailure, CheckMessageImprint, err.Error())
		return finish()
	}
	detailed.AddCheck(CheckMessageImprint, validation.CheckOK, "")

	tsa := xades.TSACertificate(ts.Certificates)
	if tsa == nil {
		failCheck(validation.IndicationIndeterminate, validation.SubIndicationNoSignerCertFound, CheckTSACertificate, "token carries no TSA certificate")
		return finish()
	}
	info.TSAName = tsa.Subject.CommonName
	detailed.SignerCertificate = validation.NewCertificateInfo(tsa, "tsa")
	report.Simple.SignedBy = tsa.Subject.CommonName
	if _, err := verifyChain(tsa, ts.Certificates, e.anchors.TSAPool(), ts.Time, x509.ExtKeyUsageTimeStamping); err != nil {
		failCheck(validation.IndicationIndeterminate, validation.SubIndicationNoCertificateChainFound, CheckTSACertificate, err.Error())
		return finish()
	}
	detailed.SignerCertificate.Trusted = true
	detailed.AddCheck(CheckTSACertificate, validation.CheckOK, tsa.Subject.String())

	detailed.Timestamps = append(detailed.Timestamps, info)
	t := info.ProductionTime
	report.Simple.BestSignatureTime = &t
	return finish()
}

func verifyChain(cert *x509.Certificate, intermediates []*x509.Certificate, roots *x509.CertPool, at time.Time, usage x509.ExtKeyUsage) ([]*x509.Certificate, error) {
	pool := x509.NewCertPool()
	for _, c := range intermediates {
		if c != cert {
			pool.AddCert(c)
		}
	}
	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: pool,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{usage},
	})
	if err != nil {
		return nil, err
	}
	return chains[0], nil
}
