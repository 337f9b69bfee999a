package xades

import "time"

// Classify derives the profile and the trusted signing time from the
// evidence on sig. Rules, in precedence order:
//
//  1. OCSP response time without a timestamp: LT_TM, trusted at the OCSP time.
//  2. Timestamp present: LT, or LTA with archival evidence, trusted at the
//     timestamp time.
//  3. Otherwise B_BES with no trusted time.
//
// The returned time is a copy; callers may keep it.
func Classify(sig *Signature) (Profile, *time.Time) {
	if sig == nil {
		return ProfileBBES, nil
	}
	switch {
	case sig.OCSPResponseCreationTime != nil && sig.TimeStampCreationTime == nil:
		return ProfileLTTM, cloneTime(sig.OCSPResponseCreationTime)
	case sig.TimeStampCreationTime != nil:
		if sig.ArchivalEvidence {
			return ProfileLTA, cloneTime(sig.TimeStampCreationTime)
		}
		return ProfileLT, cloneTime(sig.TimeStampCreationTime)
	default:
		return ProfileBBES, nil
	}
}
