package xades

import (
	"encoding/json"
	"testing"
)

func TestProfileString(t *testing.T) {
	tests := []struct {
		profile Profile
		want    string
	}{
		{ProfileBBES, "B_BES"},
		{ProfileLTTM, "LT_TM"},
		{ProfileLT, "LT"},
		{ProfileLTA, "LTA"},
		{Profile(42), "Profile(42)"},
	}
	for _, tt := range tests {
		if got := tt.profile.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"B_BES", ProfileBBES, false},
		{"bes", ProfileBBES, false},
		{"LT_TM", ProfileLTTM, false},
		{"tm", ProfileLTTM, false},
		{"lt", ProfileLT, false},
		{" LTA ", ProfileLTA, false},
		{"XL", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProfile(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseProfile(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Profile]bool{
		{ProfileBBES, ProfileLT}:  true,
		{ProfileBBES, ProfileLTA}: true,
		{ProfileLT, ProfileLTA}:   true,
	}
	for _, from := range Profiles {
		for _, to := range Profiles {
			want := allowed[[2]Profile{from, to}]
			if got := from.CanExtendTo(to); got != want {
				t.Errorf("%v.CanExtendTo(%v) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLTTMIsNeverATarget(t *testing.T) {
	for _, from := range Profiles {
		if from.CanExtendTo(ProfileLTTM) {
			t.Errorf("%v may extend to LT_TM", from)
		}
	}
}

func TestExtensionTargetsReturnsCopy(t *testing.T) {
	targets := ProfileBBES.ExtensionTargets()
	if len(targets) != 2 {
		t.Fatalf("got %v", targets)
	}
	targets[0] = ProfileLTTM
	if ProfileBBES.CanExtendTo(ProfileLTTM) {
		t.Error("modifying the returned slice changed the table")
	}
	if len(ProfileLTA.ExtensionTargets()) != 0 {
		t.Error("LTA must be terminal")
	}
}

func TestProfileOrdering(t *testing.T) {
	if !ProfileLTA.AtLeast(ProfileLT) || !ProfileLT.AtLeast(ProfileLTTM) || !ProfileLTTM.AtLeast(ProfileBBES) {
		t.Error("profiles are not ordered B_BES < LT_TM < LT < LTA")
	}
	if ProfileBBES.AtLeast(ProfileLT) {
		t.Error("B_BES reported as at least LT")
	}
}

func TestProfileJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Profile{"p": ProfileLTA})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"p":"LTA"}` {
		t.Errorf("got %s", data)
	}

	var back map[string]Profile
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["p"] != ProfileLTA {
		t.Errorf("got %v", back["p"])
	}

	if _, err := Profile(9).MarshalText(); err == nil {
		t.Error("expected error for invalid profile")
	}
}
