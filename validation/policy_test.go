package validation

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/georgepadayatti/gobdoc/xades"
)

func TestBundledPolicies(t *testing.T) {
	names := BundledPolicies()
	want := map[string]bool{"constraint.xml": false, "lt_constraint.xml": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Errorf("bundled policy %s missing", n)
		}
	}
}

func TestResolveDefaultPolicy(t *testing.T) {
	p, err := ResolvePolicy("conf/constraint.xml")
	if err != nil {
		t.Fatalf("ResolvePolicy failed: %v", err)
	}
	if p.Source != "bundled:constraint.xml" {
		t.Errorf("Source = %s", p.Source)
	}
	if !p.Signature.VerifyXMLSignature || !p.Signature.TrustedChainRequired {
		t.Errorf("unexpected constraints %+v", p.Signature)
	}
	if _, set, _ := p.Signature.Minimum(); set {
		t.Error("default policy should not require a minimum profile")
	}
}

func TestResolvePolicyEmptyLocation(t *testing.T) {
	_, err := ResolvePolicy("")
	var notFound *PolicyNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected PolicyNotFoundError, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("PolicyNotFoundError should unwrap to fs.ErrNotExist")
	}
}

func TestResolvePolicyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "constraint.xml")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	p, err := ResolvePolicy(dir)
	if err != nil {
		t.Fatalf("ResolvePolicy failed: %v", err)
	}
	if p.Source != "bundled:constraint.xml" {
		t.Errorf("Source = %q, want the bundled policy", p.Source)
	}

	unknown := filepath.Join(t.TempDir(), "custom.xml")
	if err := os.Mkdir(unknown, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err = ResolvePolicy(unknown)
	var notFound *PolicyNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected PolicyNotFoundError, got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		minimum xades.Profile
		set     bool
	}{
		{"empty constraints", `<ConstraintsParameters Name="x"/>`, false, xades.ProfileBBES, false},
		{"minimum lta", `<ConstraintsParameters><SignatureConstraints><MinimumProfile>LTA</MinimumProfile></SignatureConstraints></ConstraintsParameters>`, false, xades.ProfileLTA, true},
		{"unknown minimum", `<ConstraintsParameters><SignatureConstraints><MinimumProfile>XL</MinimumProfile></SignatureConstraints></ConstraintsParameters>`, true, 0, false},
		{"not xml", `{}`, true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy([]byte(tt.data), "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, set, _ := p.Signature.Minimum()
			if got != tt.minimum || set != tt.set {
				t.Errorf("Minimum() = %v,%v want %v,%v", got, set, tt.minimum, tt.set)
			}
		})
	}
}

func TestAcceptsMethod(t *testing.T) {
	open := SignatureConstraints{}
	if !open.AcceptsMethod("anything") {
		t.Error("empty list should accept any method")
	}
	limited := SignatureConstraints{AcceptableSignatureMethods: []string{" a ", "b"}}
	if !limited.AcceptsMethod("a") || limited.AcceptsMethod("c") {
		t.Error("method list not honoured")
	}
}
