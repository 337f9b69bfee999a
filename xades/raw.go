package xades

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
)

// Name is a namespace-qualified XML element name.
type Name struct {
	Space string
	Local string
}

// Element names used while walking a signature.
var (
	NameSignature                   = Name{NamespaceDS, "Signature"}
	NameSignedInfo                  = Name{NamespaceDS, "SignedInfo"}
	NameSignatureMethod             = Name{NamespaceDS, "SignatureMethod"}
	NameSignatureValue              = Name{NamespaceDS, "SignatureValue"}
	NameReference                   = Name{NamespaceDS, "Reference"}
	NameDigestMethod                = Name{NamespaceDS, "DigestMethod"}
	NameDigestValue                 = Name{NamespaceDS, "DigestValue"}
	NameKeyInfo                     = Name{NamespaceDS, "KeyInfo"}
	NameX509Data                    = Name{NamespaceDS, "X509Data"}
	NameX509Certificate             = Name{NamespaceDS, "X509Certificate"}
	NameObject                      = Name{NamespaceDS, "Object"}
	NameQualifyingProperties        = Name{NamespaceXAdES, "QualifyingProperties"}
	NameSignedProperties            = Name{NamespaceXAdES, "SignedProperties"}
	NameSignedSignatureProperties   = Name{NamespaceXAdES, "SignedSignatureProperties"}
	NameSigningTime                 = Name{NamespaceXAdES, "SigningTime"}
	NameSignatureProductionPlace    = Name{NamespaceXAdES, "SignatureProductionPlace"}
	NameSignatureProductionPlaceV2  = Name{NamespaceXAdES, "SignatureProductionPlaceV2"}
	NameCity                        = Name{NamespaceXAdES, "City"}
	NameStateOrProvince             = Name{NamespaceXAdES, "StateOrProvince"}
	NamePostalCode                  = Name{NamespaceXAdES, "PostalCode"}
	NameCountryName                 = Name{NamespaceXAdES, "CountryName"}
	NameSignerRole                  = Name{NamespaceXAdES, "SignerRole"}
	NameSignerRoleV2                = Name{NamespaceXAdES, "SignerRoleV2"}
	NameClaimedRoles                = Name{NamespaceXAdES, "ClaimedRoles"}
	NameClaimedRole                 = Name{NamespaceXAdES, "ClaimedRole"}
	NameUnsignedProperties          = Name{NamespaceXAdES, "UnsignedProperties"}
	NameUnsignedSignatureProperties = Name{NamespaceXAdES, "UnsignedSignatureProperties"}
	NameSignatureTimeStamp          = Name{NamespaceXAdES, "SignatureTimeStamp"}
	NameEncapsulatedTimeStamp       = Name{NamespaceXAdES, "EncapsulatedTimeStamp"}
	NameCertificateValues           = Name{NamespaceXAdES, "CertificateValues"}
	NameEncapsulatedX509Certificate = Name{NamespaceXAdES, "EncapsulatedX509Certificate"}
	NameRevocationValues            = Name{NamespaceXAdES, "RevocationValues"}
	NameOCSPValues                  = Name{NamespaceXAdES, "OCSPValues"}
	NameEncapsulatedOCSPValue       = Name{NamespaceXAdES, "EncapsulatedOCSPValue"}
	NameArchiveTimeStamp            = Name{NamespaceXAdES141, "ArchiveTimeStamp"}
)

// Is reports whether el has the given qualified name.
func Is(el *etree.Element, n Name) bool {
	return el != nil && el.Tag == n.Local && el.NamespaceURI() == n.Space
}

// Child returns the first direct child of el named n, or nil.
func Child(el *etree.Element, n Name) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if Is(c, n) {
			return c
		}
	}
	return nil
}

// Children returns all direct children of el named n.
func Children(el *etree.Element, n Name) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if Is(c, n) {
			out = append(out, c)
		}
	}
	return out
}

// Path follows a chain of direct children and returns the last one, or nil
// as soon as a step is missing.
func Path(el *etree.Element, names ...Name) *etree.Element {
	for _, n := range names {
		el = Child(el, n)
		if el == nil {
			return nil
		}
	}
	return el
}

// Descendants returns every element below el named n, in document order.
func Descendants(el *etree.Element, n Name) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if Is(c, n) {
			out = append(out, c)
		}
		out = append(out, Descendants(c, n)...)
	}
	return out
}

// First returns the first element below el named n, or nil.
func First(el *etree.Element, n Name) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if Is(c, n) {
			return c
		}
		if found := First(c, n); found != nil {
			return found
		}
	}
	return nil
}

// DecodeBase64 decodes element text, ignoring embedded whitespace.
func DecodeBase64(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
}

// RawSignature is a single XAdES signature as read from a container. It
// keeps the exact input bytes next to the parsed tree.
type RawSignature struct {
	data []byte
	doc  *etree.Document
	sig  *etree.Element
}

// OpenSignature parses data and locates its ds:Signature element. The
// signature may be the document root or wrapped, for example in an
// asic:XAdESSignatures element.
func OpenSignature(data []byte) (*RawSignature, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, newMalformed("document", "not well-formed XML", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, newMalformed("document", "empty document", nil)
	}
	sig := root
	if !Is(root, NameSignature) {
		sig = First(root, NameSignature)
	}
	if sig == nil {
		return nil, newMalformed("Signature", "no ds:Signature element found", nil)
	}
	return &RawSignature{data: bytes.Clone(data), doc: doc, sig: sig}, nil
}

// Bytes returns the original encoding.
func (r *RawSignature) Bytes() []byte {
	return r.data
}

// Document returns the parsed document.
func (r *RawSignature) Document() *etree.Document {
	return r.doc
}

// Element returns the ds:Signature element.
func (r *RawSignature) Element() *etree.Element {
	return r.sig
}

// QualifyingProperties returns the xades:QualifyingProperties element, or nil.
func (r *RawSignature) QualifyingProperties() *etree.Element {
	for _, obj := range Children(r.sig, NameObject) {
		if qp := Child(obj, NameQualifyingProperties); qp != nil {
			return qp
		}
	}
	return nil
}

// SignedSignatureProperties returns the signed signature properties, or nil.
func (r *RawSignature) SignedSignatureProperties() *etree.Element {
	return Path(r.QualifyingProperties(), NameSignedProperties, NameSignedSignatureProperties)
}

// UnsignedSignatureProperties returns the unsigned signature properties, or nil.
func (r *RawSignature) UnsignedSignatureProperties() *etree.Element {
	return Path(r.QualifyingProperties(), NameUnsignedProperties, NameUnsignedSignatureProperties)
}
