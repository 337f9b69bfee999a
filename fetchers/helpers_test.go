package fetchers

import (
	"encoding/pem"
	"regexp"
)

func mustRegexp(s string) *regexp.Regexp {
	return regexp.MustCompile(s)
}

func pemEncode(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
