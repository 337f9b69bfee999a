package xades

import (
	"fmt"
	"strings"
)

// Profile is the trust level of a signature. Declaration order is the
// strength order: B_BES < LT_TM < LT < LTA.
type Profile int

const (
	// ProfileBBES is a bare signature with no trust anchor.
	ProfileBBES Profile = iota
	// ProfileLTTM carries an embedded OCSP response (legacy time-mark).
	ProfileLTTM
	// ProfileLT is anchored by a signature timestamp.
	ProfileLT
	// ProfileLTA adds archival timestamps on top of LT.
	ProfileLTA
)

// Profiles lists every profile in strength order.
var Profiles = []Profile{ProfileBBES, ProfileLTTM, ProfileLT, ProfileLTA}

// extensionTargets is the adjacency table of legal upgrades. LT_TM has no
// upgrade path and LTA is terminal.
var extensionTargets = map[Profile][]Profile{
	ProfileBBES: {ProfileLT, ProfileLTA},
	ProfileLTTM: nil,
	ProfileLT:   {ProfileLTA},
	ProfileLTA:  nil,
}

// String returns the profile name.
func (p Profile) String() string {
	switch p {
	case ProfileBBES:
		return "B_BES"
	case ProfileLTTM:
		return "LT_TM"
	case ProfileLT:
		return "LT"
	case ProfileLTA:
		return "LTA"
	default:
		return fmt.Sprintf("Profile(%d)", int(p))
	}
}

// Valid reports whether p is one of the declared profiles.
func (p Profile) Valid() bool {
	return p >= ProfileBBES && p <= ProfileLTA
}

// AtLeast reports whether p is as strong as q or stronger.
func (p Profile) AtLeast(q Profile) bool {
	return p >= q
}

// ExtensionTargets returns the profiles p may be upgraded to.
func (p Profile) ExtensionTargets() []Profile {
	targets := extensionTargets[p]
	out := make([]Profile, len(targets))
	copy(out, targets)
	return out
}

// CanExtendTo reports whether the table has an edge from p to target.
func (p Profile) CanExtendTo(target Profile) bool {
	for _, t := range extensionTargets[p] {
		if t == target {
			return true
		}
	}
	return false
}

// ParseProfile parses a profile name. Both "B_BES" and "BES" spellings are
// accepted, case-insensitively.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "B_BES", "BES", "B-BES":
		return ProfileBBES, nil
	case "LT_TM", "TM", "LT-TM":
		return ProfileLTTM, nil
	case "LT":
		return ProfileLT, nil
	case "LTA":
		return ProfileLTA, nil
	}
	return 0, fmt.Errorf("unknown signature profile %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid signature profile %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Profile) UnmarshalText(text []byte) error {
	parsed, err := ParseProfile(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
