package fetchers

import (
	"crypto"
	"crypto/tls"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// LoadAccessCertificate reads the PKCS#12 file some OCSP responders require
// as a TLS client certificate.
func LoadAccessCertificate(file, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read OCSP access certificate: %w", err)
	}
	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode OCSP access certificate %s: %w", file, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("OCSP access certificate %s: unsupported key type %T", file, key)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  signer,
		Leaf:        cert,
	}
	for _, c := range chain {
		tlsCert.Certificate = append(tlsCert.Certificate, c.Raw)
	}
	log.WithField("subject", cert.Subject.String()).Debug("loaded OCSP access certificate")
	return tlsCert, nil
}
