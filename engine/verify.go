package engine

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"github.com/georgepadayatti/gobdoc/validation"
	"github.com/georgepadayatti/gobdoc/xades"
)

var (
	nameCanonicalizationMethod = xades.Name{Space: xades.NamespaceDS, Local: "CanonicalizationMethod"}
	nameTransforms             = xades.Name{Space: xades.NamespaceDS, Local: "Transforms"}
	nameTransform              = xades.Name{Space: xades.NamespaceDS, Local: "Transform"}
)

// SignatureVerifier checks the XML-DSig layer of a signature: every
// reference digest and the signature value over SignedInfo.
type SignatureVerifier interface {
	Verify(raw *xades.RawSignature, detached []validation.Document) error
}

// ReferenceError reports a ds:Reference that could not be resolved or
// whose digest does not match.
type ReferenceError struct {
	URI     string
	Missing bool
	Err     error
}

func (e *ReferenceError) Error() string {
	if e.Missing {
		return fmt.Sprintf("referenced data %q not found", e.URI)
	}
	return fmt.Sprintf("reference %q: %v", e.URI, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// SignatureValueError reports a signature value that does not verify with
// the signing certificate.
type SignatureValueError struct {
	Err error
}

func (e *SignatureValueError) Error() string {
	return fmt.Sprintf("signature value: %v", e.Err)
}

func (e *SignatureValueError) Unwrap() error {
	return e.Err
}

var errDigestMismatch = errors.New("digest mismatch")

// XMLDSigVerifier verifies same-document references and detached data
// files named by their container path.
type XMLDSigVerifier struct{}

// Verify checks every reference, then the signature value. The first
// failure is returned. A detached data file that is absent does not stop
// verification: its *ReferenceError is returned only when everything else
// verified.
func (XMLDSigVerifier) Verify(raw *xades.RawSignature, detached []validation.Document) error {
	sig := raw.Element()
	signedInfo := xades.Child(sig, xades.NameSignedInfo)
	if signedInfo == nil {
		return errors.New("SignedInfo is missing")
	}

	refs := xades.Children(signedInfo, xades.NameReference)
	if len(refs) == 0 {
		return errors.New("SignedInfo has no references")
	}
	var missing *ReferenceError
	for _, ref := range refs {
		err := verifyReference(raw, ref, detached)
		if refErr, ok := err.(*ReferenceError); ok && refErr.Missing && !strings.HasPrefix(refErr.URI, "#") {
			if missing == nil {
				missing = refErr
			}
			continue
		}
		if err != nil {
			return err
		}
	}

	cert, err := signingCertificate(sig)
	if err != nil {
		return err
	}
	if err := verifySignedInfo(sig, signedInfo, cert); err != nil {
		return err
	}
	if missing != nil {
		return missing
	}
	return nil
}

func verifyReference(raw *xades.RawSignature, ref *etree.Element, detached []validation.Document) error {
	uri := ref.SelectAttrValue("URI", "")
	refErr := func(err error) error {
		return &ReferenceError{URI: uri, Err: err}
	}

	digestURI, _ := algorithmOf(ref, xades.NameDigestMethod)
	hash, ok := digestAlgorithms[digestURI]
	if !ok {
		return refErr(errors.Errorf("unsupported digest method %q", digestURI))
	}
	want, err := xades.DecodeBase64(textOf(xades.Child(ref, xades.NameDigestValue)))
	if err != nil {
		return refErr(errors.Wrap(err, "digest value"))
	}

	var data []byte
	if strings.HasPrefix(uri, "#") {
		data, err = sameDocumentData(raw, ref, strings.TrimPrefix(uri, "#"))
		if err != nil {
			return err
		}
	} else {
		doc, found := findDocument(detached, uri)
		if !found {
			return &ReferenceError{URI: uri, Missing: true}
		}
		data = doc.Data
	}

	if !bytes.Equal(digest(hash, data), want) {
		return refErr(errDigestMismatch)
	}
	return nil
}

// sameDocumentData applies the reference transforms to the element with
// the given Id. Without an explicit canonicalization transform the node
// set is serialized with inclusive C14N 1.0.
func sameDocumentData(raw *xades.RawSignature, ref *etree.Element, id string) ([]byte, error) {
	uri := "#" + id
	target := findByID(raw.Document().Root(), id)
	if target == nil {
		return nil, &ReferenceError{URI: uri, Missing: true}
	}

	var c14nURI string
	var c14nEl *etree.Element
	for _, tr := range xades.Children(xades.Child(ref, nameTransforms), nameTransform) {
		alg := strings.TrimSpace(tr.SelectAttrValue("Algorithm", ""))
		if alg == AlgorithmEnveloped {
			continue
		}
		c14nURI, c14nEl = alg, tr
	}
	if c14nURI == "" {
		c14nURI = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	}
	c, err := canonicalizer(c14nURI, c14nEl)
	if err != nil {
		return nil, &ReferenceError{URI: uri, Err: err}
	}
	data, err := canonicalize(target, c)
	if err != nil {
		return nil, &ReferenceError{URI: uri, Err: err}
	}
	return data, nil
}

func findDocument(detached []validation.Document, uri string) (validation.Document, bool) {
	name := uri
	if unescaped, err := url.PathUnescape(uri); err == nil {
		name = unescaped
	}
	for _, d := range detached {
		if d.Name == name || d.Name == uri {
			return d, true
		}
	}
	return validation.Document{}, false
}

func signingCertificate(sig *etree.Element) (*x509.Certificate, error) {
	el := xades.Path(sig, xades.NameKeyInfo, xades.NameX509Data, xades.NameX509Certificate)
	if el == nil {
		return nil, errors.New("no signing certificate in KeyInfo")
	}
	der, err := xades.DecodeBase64(textOf(el))
	if err != nil {
		return nil, errors.Wrap(err, "signing certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "signing certificate")
	}
	return cert, nil
}

func verifySignedInfo(sig, signedInfo *etree.Element, cert *x509.Certificate) error {
	c14nURI, c14nEl := algorithmOf(signedInfo, nameCanonicalizationMethod)
	c, err := canonicalizer(c14nURI, c14nEl)
	if err != nil {
		return &SignatureValueError{Err: err}
	}
	canonical, err := canonicalize(signedInfo, c)
	if err != nil {
		return &SignatureValueError{Err: err}
	}

	methodURI, _ := algorithmOf(signedInfo, xades.NameSignatureMethod)
	method, ok := signatureAlgorithms[methodURI]
	if !ok {
		return &SignatureValueError{Err: errors.Errorf("unsupported signature method %q", methodURI)}
	}
	value, err := xades.DecodeBase64(textOf(xades.Child(sig, xades.NameSignatureValue)))
	if err != nil {
		return &SignatureValueError{Err: errors.Wrap(err, "signature value")}
	}

	if err := verifyValue(cert.PublicKey, method, digest(method.hash, canonical), value); err != nil {
		return &SignatureValueError{Err: err}
	}
	return nil
}

func verifyValue(pub any, method signatureAlgorithm, hashed, value []byte) error {
	switch method.key {
	case keyRSA:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return errors.New("expected rsa key")
		}
		return rsa.VerifyPKCS1v15(key, method.hash, hashed, value)
	case keyECDSA:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("expected ecdsa key")
		}
		r, s, err := ecdsaValue(key, value)
		if err != nil {
			return err
		}
		if !ecdsa.Verify(key, hashed, r, s) {
			return errors.New("failed to verify ecdsa signature")
		}
		return nil
	}
	return errors.New("signature algorithm not supported")
}

// ecdsaValue splits an XML-DSig ECDSA value, the concatenation of r and s,
// and falls back to the ASN.1 form some producers emit.
func ecdsaValue(key *ecdsa.PublicKey, value []byte) (*big.Int, *big.Int, error) {
	size := (key.Curve.Params().BitSize + 7) / 8
	if len(value) == 2*size {
		return new(big.Int).SetBytes(value[:size]), new(big.Int).SetBytes(value[size:]), nil
	}
	var sigStruct struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(value, &sigStruct); err != nil {
		return nil, nil, errors.Wrap(err, "ecdsa signature value")
	}
	return sigStruct.R, sigStruct.S, nil
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}
