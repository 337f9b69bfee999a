package xades

import (
	"testing"
	"time"
)

func ptr(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	signing := time.Date(2014, 11, 13, 12, 49, 57, 0, time.UTC)
	ocspTime := time.Date(2014, 11, 13, 12, 50, 3, 0, time.UTC)
	tsTime := time.Date(2014, 11, 13, 12, 50, 1, 0, time.UTC)

	tests := []struct {
		name        string
		sig         *Signature
		wantProfile Profile
		wantTime    *time.Time
	}{
		{
			name:        "signing time only",
			sig:         &Signature{ID: "S0", SigningTime: ptr(signing)},
			wantProfile: ProfileBBES,
		},
		{
			name:        "ocsp without timestamp",
			sig:         &Signature{ID: "S0", SigningTime: ptr(signing), OCSPResponseCreationTime: ptr(ocspTime)},
			wantProfile: ProfileLTTM,
			wantTime:    ptr(ocspTime),
		},
		{
			name:        "timestamp",
			sig:         &Signature{ID: "S0", SigningTime: ptr(signing), TimeStampCreationTime: ptr(tsTime)},
			wantProfile: ProfileLT,
			wantTime:    ptr(tsTime),
		},
		{
			name: "timestamp wins over ocsp",
			sig: &Signature{
				ID:                       "S0",
				SigningTime:              ptr(signing),
				OCSPResponseCreationTime: ptr(ocspTime),
				TimeStampCreationTime:    ptr(tsTime),
			},
			wantProfile: ProfileLT,
			wantTime:    ptr(tsTime),
		},
		{
			name: "archival",
			sig: &Signature{
				ID:                       "S0",
				OCSPResponseCreationTime: ptr(ocspTime),
				TimeStampCreationTime:    ptr(tsTime),
				ArchivalEvidence:         true,
			},
			wantProfile: ProfileLTA,
			wantTime:    ptr(tsTime),
		},
		{
			name:        "archival signal without timestamp",
			sig:         &Signature{ID: "S0", ArchivalEvidence: true},
			wantProfile: ProfileBBES,
		},
		{
			name:        "nil",
			sig:         nil,
			wantProfile: ProfileBBES,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, trusted := Classify(tt.sig)
			if profile != tt.wantProfile {
				t.Errorf("profile = %v, want %v", profile, tt.wantProfile)
			}
			if (trusted == nil) != (tt.wantTime == nil) {
				t.Fatalf("trusted time = %v, want %v", trusted, tt.wantTime)
			}
			if trusted != nil && !trusted.Equal(*tt.wantTime) {
				t.Errorf("trusted time = %v, want %v", trusted, tt.wantTime)
			}
			if (trusted != nil) != (profile != ProfileBBES) {
				t.Errorf("trusted time presence does not match profile %v", profile)
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	sig := &Signature{
		ID:                       "S0",
		OCSPResponseCreationTime: ptr(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	p1, t1 := Classify(sig)
	p2, t2 := Classify(sig)
	if p1 != p2 || !t1.Equal(*t2) {
		t.Errorf("classification changed: %v/%v then %v/%v", p1, t1, p2, t2)
	}
	if sig.Profile() != p1 {
		t.Errorf("Profile() = %v, want %v", sig.Profile(), p1)
	}
}

func TestClassifyReturnsCopy(t *testing.T) {
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := &Signature{ID: "S0", TimeStampCreationTime: ptr(ts)}
	trusted := sig.TrustedSigningTime()
	*trusted = trusted.Add(time.Hour)
	if !sig.TimeStampCreationTime.Equal(ts) {
		t.Error("modifying the trusted time changed the record")
	}
}
