package tsl

import (
	"bytes"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	current := newListSigner(t, "Current Operator", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	previous := newListSigner(t, "Previous Operator", time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC))
	signed := current.sign(t, listXML("EE", 7, nil, nil))

	cert, err := VerifySignature(signed, []*x509.Certificate{previous.cert, current.cert})
	require.NoError(t, err)
	assert.Equal(t, current.cert.Raw, cert.Raw)

	list, err := Parse(signed)
	require.NoError(t, err, "the signature element does not disturb parsing")
	assert.Equal(t, 7, list.SequenceNumber)
}

func TestVerifySignatureRejects(t *testing.T) {
	operator := newListSigner(t, "Operator", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	impostor := newListSigner(t, "Impostor", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	signed := operator.sign(t, listXML("EE", 7, nil, nil))

	tampered := bytes.Replace(signed, []byte("<TSLSequenceNumber>7<"), []byte("<TSLSequenceNumber>8<"), 1)
	require.NotEqual(t, signed, tampered)

	tests := []struct {
		name    string
		data    []byte
		signers []*x509.Certificate
	}{
		{"no signers", signed, nil},
		{"wrong signer", signed, []*x509.Certificate{impostor.cert}},
		{"tampered content", tampered, []*x509.Certificate{operator.cert}},
		{"unsigned", listXML("EE", 7, nil, nil), []*x509.Certificate{operator.cert}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifySignature(tt.data, tt.signers)
			assert.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}
}
