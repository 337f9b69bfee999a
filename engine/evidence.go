package engine

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/gobdoc/xades"
)

// Evidence acquisition errors.
var (
	ErrNoTimestamper     = errors.New("no time-stamping service configured")
	ErrNoOCSPSource      = errors.New("no OCSP source configured")
	ErrNoSigningCert     = errors.New("signature has no signing certificate")
	ErrIssuerNotFound    = errors.New("issuer of the signing certificate not found")
	ErrUnsupportedTarget = errors.New("evidence can only be acquired for LT and LTA")
	ErrNoQualifyingProps = errors.New("signature has no QualifyingProperties")
)

// AcquireTrustEvidence embeds the unsigned properties target needs and
// returns the updated encoding. Signatures without a signature timestamp
// get one over their canonicalized SignatureValue, together with the
// certificate values and an OCSP response for the signing certificate.
// LTA additionally gets an archive timestamp. Signed content is never
// touched.
func (e *Engine) AcquireTrustEvidence(ctx context.Context, raw []byte, target xades.Profile) ([]byte, error) {
	if target != xades.ProfileLT && target != xades.ProfileLTA {
		return nil, errors.Wrapf(ErrUnsupportedTarget, "target %s", target)
	}
	sig, err := xades.OpenSignature(raw)
	if err != nil {
		return nil, err
	}
	w, err := newEvidenceWriter(sig)
	if err != nil {
		return nil, err
	}
	entry := log.WithFields(logrus.Fields{
		"signature": sig.Element().SelectAttrValue("Id", ""),
		"target":    target,
	})

	if len(xades.Children(w.unsigned, xades.NameSignatureTimeStamp)) == 0 {
		if err := e.addSignatureTimestamp(ctx, w); err != nil {
			return nil, err
		}
		if err := e.addRevocationData(ctx, w); err != nil {
			return nil, err
		}
		entry.Debug("added signature timestamp and revocation data")
	}
	if target == xades.ProfileLTA {
		if err := e.addArchiveTimestamp(ctx, w); err != nil {
			return nil, err
		}
		entry.Debug("added archive timestamp")
	}

	out, err := sig.Document().WriteToBytes()
	if err != nil {
		return nil, errors.Wrap(err, "serialize signature")
	}
	return out, nil
}

// evidenceWriter appends elements to the unsigned signature properties,
// reusing the prefixes the document already binds.
type evidenceWriter struct {
	sig      *etree.Element
	unsigned *etree.Element
	ds       string
	xades    string
}

func newEvidenceWriter(raw *xades.RawSignature) (*evidenceWriter, error) {
	qp := raw.QualifyingProperties()
	if qp == nil {
		return nil, ErrNoQualifyingProps
	}
	w := &evidenceWriter{sig: raw.Element(), ds: raw.Element().Space, xades: qp.Space}

	up := xades.Child(qp, xades.NameUnsignedProperties)
	if up == nil {
		up = w.create(qp, w.xades, "UnsignedProperties")
	}
	w.unsigned = xades.Child(up, xades.NameUnsignedSignatureProperties)
	if w.unsigned == nil {
		w.unsigned = w.create(up, w.xades, "UnsignedSignatureProperties")
	}
	return w, nil
}

func (w *evidenceWriter) create(parent *etree.Element, prefix, tag string) *etree.Element {
	el := parent.CreateElement(tag)
	el.Space = prefix
	return el
}

func (w *evidenceWriter) encapsulated(parent *etree.Element, tag string, der []byte) *etree.Element {
	el := w.create(parent, w.xades, tag)
	el.SetText(base64.StdEncoding.EncodeToString(der))
	return el
}

func (w *evidenceWriter) timestampElement(tag string, token []byte) *etree.Element {
	el := w.create(w.unsigned, w.xades, tag)
	el.CreateAttr("Id", newID("TS"))
	w.create(el, w.ds, "CanonicalizationMethod").CreateAttr("Algorithm", AlgorithmC14N11)
	w.encapsulated(el, "EncapsulatedTimeStamp", token)
	return el
}

func (e *Engine) addSignatureTimestamp(ctx context.Context, w *evidenceWriter) error {
	if e.timestamper == nil {
		return ErrNoTimestamper
	}
	value := xades.Child(w.sig, xades.NameSignatureValue)
	if value == nil {
		return errors.New("signature has no SignatureValue")
	}
	data, err := canonicalizeC14N11(value)
	if err != nil {
		return errors.Wrap(err, "canonicalize SignatureValue")
	}
	token, err := e.timestamper.Timestamp(ctx, data)
	if err != nil {
		return errors.Wrap(err, "signature timestamp")
	}
	w.timestampElement("SignatureTimeStamp", token)
	return nil
}

func (e *Engine) addRevocationData(ctx context.Context, w *evidenceWriter) error {
	if e.ocsp == nil {
		return ErrNoOCSPSource
	}
	cert, err := signingCertificate(w.sig)
	if err != nil {
		return errors.Wrap(ErrNoSigningCert, err.Error())
	}
	issuer, err := e.issuerOf(ctx, cert, embeddedCertificates(w.unsigned))
	if err != nil {
		return err
	}
	der, err := e.ocsp.FetchOCSP(ctx, cert, issuer)
	if err != nil {
		return errors.Wrap(err, "revocation data")
	}

	values := xades.Child(w.unsigned, xades.NameCertificateValues)
	if values == nil {
		values = w.create(w.unsigned, w.xades, "CertificateValues")
	}
	have := embeddedCertificates(w.unsigned)
	for _, c := range []*x509.Certificate{cert, issuer} {
		if containsCert(have, c) {
			continue
		}
		w.encapsulated(values, "EncapsulatedX509Certificate", c.Raw).CreateAttr("Id", newID("C"))
		have = append(have, c)
	}

	revocation := xades.Child(w.unsigned, xades.NameRevocationValues)
	if revocation == nil {
		revocation = w.create(w.unsigned, w.xades, "RevocationValues")
	}
	ocspValues := xades.Child(revocation, xades.NameOCSPValues)
	if ocspValues == nil {
		ocspValues = w.create(revocation, w.xades, "OCSPValues")
	}
	w.encapsulated(ocspValues, "EncapsulatedOCSPValue", der)
	return nil
}

// issuerOf looks for the issuer among the trust anchors, then the
// certificates already embedded, then the AIA location of cert.
func (e *Engine) issuerOf(ctx context.Context, cert *x509.Certificate, embedded []*x509.Certificate) (*x509.Certificate, error) {
	if issuer := e.anchors.FindIssuer(cert); issuer != nil {
		return issuer, nil
	}
	for _, c := range embedded {
		if bytes.Equal(c.RawSubject, cert.RawIssuer) && cert.CheckSignatureFrom(c) == nil {
			return c, nil
		}
	}
	if e.issuers != nil {
		issuer, err := e.issuers.FetchIssuingCertificate(ctx, cert)
		if err == nil {
			return issuer, nil
		}
		log.WithError(err).Debug("issuer download failed")
	}
	return nil, errors.Wrapf(ErrIssuerNotFound, "issuer %s", cert.Issuer)
}

// addArchiveTimestamp timestamps the archive input over every unsigned
// signature property present, canonicalized with C14N 1.1.
func (e *Engine) addArchiveTimestamp(ctx context.Context, w *evidenceWriter) error {
	if e.timestamper == nil {
		return ErrNoTimestamper
	}
	data, err := archiveInput(w.sig, w.unsigned.ChildElements(), dsig.MakeC14N11Canonicalizer())
	if err != nil {
		return err
	}
	token, err := e.timestamper.Timestamp(ctx, data)
	if err != nil {
		return errors.Wrap(err, "archive timestamp")
	}
	el := w.timestampElement("ArchiveTimeStamp", token)
	el.Space = "xadesv141"
	el.CreateAttr("xmlns:xadesv141", xades.NamespaceXAdES141)
	return nil
}

// archiveInput is the data an archive timestamp covers: SignedInfo,
// SignatureValue and KeyInfo followed by the unsigned properties that
// precede it.
func archiveInput(sig *etree.Element, preceding []*etree.Element, c dsig.Canonicalizer) ([]byte, error) {
	var parts []*etree.Element
	for _, n := range []xades.Name{xades.NameSignedInfo, xades.NameSignatureValue, xades.NameKeyInfo} {
		if el := xades.Child(sig, n); el != nil {
			parts = append(parts, el)
		}
	}
	return canonicalizeAll(c, append(parts, preceding...)...)
}

func embeddedCertificates(unsigned *etree.Element) []*x509.Certificate {
	var certs []*x509.Certificate
	values := xades.Child(unsigned, xades.NameCertificateValues)
	for _, el := range xades.Children(values, xades.NameEncapsulatedX509Certificate) {
		der, err := xades.DecodeBase64(el.Text())
		if err != nil {
			continue
		}
		if c, err := x509.ParseCertificate(der); err == nil {
			certs = append(certs, c)
		}
	}
	return certs
}

func containsCert(certs []*x509.Certificate, c *x509.Certificate) bool {
	for _, have := range certs {
		if bytes.Equal(have.Raw, c.Raw) {
			return true
		}
	}
	return false
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
