package validation

import (
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/georgepadayatti/gobdoc/xades"
)

//go:embed policies/*.xml
var bundledPolicies embed.FS

// Policy is a validation policy document.
type Policy struct {
	XMLName     xml.Name             `xml:"ConstraintsParameters"`
	Name        string               `xml:"Name,attr"`
	Description string               `xml:"Description"`
	Signature   SignatureConstraints `xml:"SignatureConstraints"`

	// Source tells where the policy was loaded from: a file path or
	// "bundled:<name>".
	Source string `xml:"-"`
}

// SignatureConstraints are the checks applied to a signature.
type SignatureConstraints struct {
	// AcceptableSignatureMethods limits the SignedInfo algorithms. Empty
	// accepts any.
	AcceptableSignatureMethods []string `xml:"AcceptableSignatureMethods>Algo"`
	// MinimumProfile is the weakest acceptable profile. Empty accepts any.
	MinimumProfile string `xml:"MinimumProfile"`
	// VerifyXMLSignature enables the XML-DSig check.
	VerifyXMLSignature bool `xml:"VerifyXMLSignature"`
	// SigningCertificateRequired fails signatures without a certificate.
	SigningCertificateRequired bool `xml:"SigningCertificateRequired"`
	// TrustedChainRequired requires a chain to a trust anchor.
	TrustedChainRequired bool `xml:"TrustedChainRequired"`
	// DataFilesRequired requires every referenced data file to be present.
	DataFilesRequired bool `xml:"DataFilesRequired"`
}

// AcceptsMethod reports whether method is allowed.
func (c SignatureConstraints) AcceptsMethod(method string) bool {
	if len(c.AcceptableSignatureMethods) == 0 {
		return true
	}
	for _, m := range c.AcceptableSignatureMethods {
		if strings.TrimSpace(m) == method {
			return true
		}
	}
	return false
}

// Minimum returns the parsed minimum profile and whether one is set.
func (c SignatureConstraints) Minimum() (xades.Profile, bool, error) {
	if strings.TrimSpace(c.MinimumProfile) == "" {
		return xades.ProfileBBES, false, nil
	}
	p, err := xades.ParseProfile(c.MinimumProfile)
	if err != nil {
		return 0, false, err
	}
	return p, true, nil
}

// ParsePolicy parses a policy document.
func ParsePolicy(data []byte, source string) (*Policy, error) {
	var p Policy
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid validation policy %s: %w", source, err)
	}
	if _, _, err := p.Signature.Minimum(); err != nil {
		return nil, fmt.Errorf("invalid validation policy %s: %w", source, err)
	}
	p.Source = source
	return &p, nil
}

// ResolvePolicy loads the policy at location. A file on the local
// filesystem wins; otherwise the bundled policy with the same base name is
// used. If neither exists the result is *PolicyNotFoundError.
func ResolvePolicy(location string) (*Policy, error) {
	if location == "" {
		return nil, &PolicyNotFoundError{Location: location, Err: fs.ErrNotExist}
	}
	info, err := os.Stat(location)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s is a directory: %w", location, fs.ErrNotExist)
	}
	if err == nil {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to read validation policy: %w", err)
		}
		log.WithField("policy", location).Debug("using validation policy from file")
		return ParsePolicy(data, location)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read validation policy: %w", err)
	}

	name := filepath.Base(location)
	data, bundledErr := bundledPolicies.ReadFile(path.Join("policies", name))
	if bundledErr != nil {
		return nil, &PolicyNotFoundError{Location: location, Err: err}
	}
	log.WithField("policy", name).Debug("using bundled validation policy")
	return ParsePolicy(data, "bundled:"+name)
}

// BundledPolicies lists the names of the bundled policies.
func BundledPolicies() []string {
	entries, err := fs.ReadDir(bundledPolicies, "policies")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
