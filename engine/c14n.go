package engine

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/georgepadayatti/gobdoc/xades"
)

// Algorithm URIs.
const (
	AlgorithmC14N11       = "http://www.w3.org/2006/12/xml-c14n11"
	AlgorithmEnveloped    = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgorithmDigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgorithmDigestSHA224 = "http://www.w3.org/2001/04/xmldsig-more#sha224"
	AlgorithmDigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmDigestSHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	AlgorithmDigestSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"
)

var digestAlgorithms = map[string]crypto.Hash{
	AlgorithmDigestSHA1:   crypto.SHA1,
	AlgorithmDigestSHA224: crypto.SHA224,
	AlgorithmDigestSHA256: crypto.SHA256,
	AlgorithmDigestSHA384: crypto.SHA384,
	AlgorithmDigestSHA512: crypto.SHA512,
}

type keyType int

const (
	keyRSA keyType = iota
	keyECDSA
)

type signatureAlgorithm struct {
	key  keyType
	hash crypto.Hash
}

var signatureAlgorithms = map[string]signatureAlgorithm{
	"http://www.w3.org/2000/09/xmldsig#rsa-sha1":          {keyRSA, crypto.SHA1},
	"http://www.w3.org/2001/04/xmldsig-more#rsa-sha224":   {keyRSA, crypto.SHA224},
	"http://www.w3.org/2001/04/xmldsig-more#rsa-sha256":   {keyRSA, crypto.SHA256},
	"http://www.w3.org/2001/04/xmldsig-more#rsa-sha384":   {keyRSA, crypto.SHA384},
	"http://www.w3.org/2001/04/xmldsig-more#rsa-sha512":   {keyRSA, crypto.SHA512},
	"http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha1":   {keyECDSA, crypto.SHA1},
	"http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha224": {keyECDSA, crypto.SHA224},
	"http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256": {keyECDSA, crypto.SHA256},
	"http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha384": {keyECDSA, crypto.SHA384},
	"http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512": {keyECDSA, crypto.SHA512},
}

// canonicalizer returns the goxmldsig canonicalizer for algorithm. The
// exclusive variants read their prefix list from method.
func canonicalizer(algorithm string, method *etree.Element) (dsig.Canonicalizer, error) {
	switch dsig.AlgorithmID(algorithm) {
	case dsig.CanonicalXML11AlgorithmId:
		return dsig.MakeC14N11Canonicalizer(), nil
	case dsig.CanonicalXML11WithCommentsAlgorithmId:
		return dsig.MakeC14N11WithCommentsCanonicalizer(), nil
	case dsig.CanonicalXML10RecAlgorithmId:
		return dsig.MakeC14N10RecCanonicalizer(), nil
	case dsig.CanonicalXML10WithCommentsAlgorithmId:
		return dsig.MakeC14N10WithCommentsCanonicalizer(), nil
	case dsig.CanonicalXML10ExclusiveAlgorithmId:
		return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(prefixList(method)), nil
	case dsig.CanonicalXML10ExclusiveWithCommentsAlgorithmId:
		return dsig.MakeC14N10ExclusiveWithCommentsCanonicalizerWithPrefixList(prefixList(method)), nil
	}
	return nil, errors.Errorf("unsupported canonicalization method %q", algorithm)
}

func prefixList(method *etree.Element) string {
	if method == nil {
		return ""
	}
	for _, c := range method.ChildElements() {
		if c.Tag == "InclusiveNamespaces" {
			return c.SelectAttrValue("PrefixList", "")
		}
	}
	return ""
}

// canonicalize serializes el in canonical form. The namespaces in scope at
// its position in the document are declared on a detached copy first, so
// the result does not depend on where el sits.
func canonicalize(el *etree.Element, c dsig.Canonicalizer) ([]byte, error) {
	nsCtx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, errors.Wrap(err, "namespace context")
	}
	detached, err := etreeutils.NSDetatch(nsCtx, el)
	if err != nil {
		return nil, errors.Wrap(err, "detach element")
	}
	return c.Canonicalize(detached)
}

// canonicalizeC14N11 canonicalizes el with C14N 1.1, the method used for
// every element this package timestamps.
func canonicalizeC14N11(el *etree.Element) ([]byte, error) {
	return canonicalize(el, dsig.MakeC14N11Canonicalizer())
}

// canonicalizeAll concatenates the canonical forms of els.
func canonicalizeAll(c dsig.Canonicalizer, els ...*etree.Element) ([]byte, error) {
	var buf bytes.Buffer
	for _, el := range els {
		data, err := canonicalize(el, c)
		if err != nil {
			return nil, errors.Wrapf(err, "canonicalize %s", el.Tag)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func digest(alg crypto.Hash, data []byte) []byte {
	h := alg.New()
	h.Write(data)
	return h.Sum(nil)
}

// findByID returns the element of doc whose Id attribute is id.
func findByID(root *etree.Element, id string) *etree.Element {
	if root == nil {
		return nil
	}
	for _, attr := range []string{"Id", "ID", "id"} {
		if root.SelectAttrValue(attr, "") == id {
			return root
		}
	}
	for _, c := range root.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// algorithmOf returns the trimmed Algorithm attribute of the named child.
func algorithmOf(el *etree.Element, n xades.Name) (string, *etree.Element) {
	child := xades.Child(el, n)
	if child == nil {
		return "", nil
	}
	return strings.TrimSpace(child.SelectAttrValue("Algorithm", "")), child
}
