// Package timestamps provides RFC 3161 timestamp support.
package timestamps

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/digitorus/timestamp"
	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrTimestampFailed   = errors.New("timestamp request failed")
	ErrTimestampRejected = errors.New("timestamp request rejected")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrTimestampMismatch = errors.New("timestamp message imprint mismatch")
)

var log = logrus.WithField("component", "timestamps")

// TimeStampResp represents a timestamp response (RFC 3161).
type TimeStampResp struct {
	Status         PKIStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// PKIStatusInfo represents the status of a PKI operation.
type PKIStatusInfo struct {
	Status       int
	StatusString []string       `asn1:"optional"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

// TimestampRequestOptions configures a timestamp request.
type TimestampRequestOptions struct {
	HashAlgorithm crypto.Hash
	Policy        asn1.ObjectIdentifier
	IncludeNonce  bool
	RequestCerts  bool
}

// DefaultTimestampRequestOptions returns default options.
func DefaultTimestampRequestOptions() *TimestampRequestOptions {
	return &TimestampRequestOptions{
		HashAlgorithm: crypto.SHA256,
		IncludeNonce:  true,
		RequestCerts:  true,
	}
}

// Timestamper creates timestamp tokens.
type Timestamper interface {
	// Timestamp returns a DER-encoded TimeStampToken over data.
	Timestamp(ctx context.Context, data []byte) ([]byte, error)
}

// HTTPTimestamper implements Timestamper against an RFC 3161 HTTP service.
type HTTPTimestamper struct {
	URL        string
	HTTPClient *http.Client
	Username   string
	Password   string
	Options    *TimestampRequestOptions
}

// NewHTTPTimestamper creates a new HTTP timestamper. A nil client gets a
// 30 second timeout.
func NewHTTPTimestamper(url string, client *http.Client) *HTTPTimestamper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTimestamper{
		URL:        url,
		HTTPClient: client,
		Options:    DefaultTimestampRequestOptions(),
	}
}

// SetCredentials sets authentication credentials.
func (t *HTTPTimestamper) SetCredentials(username, password string) {
	t.Username = username
	t.Password = password
}

// Timestamp implements Timestamper.
func (t *HTTPTimestamper) Timestamp(ctx context.Context, data []byte) ([]byte, error) {
	opts := t.Options
	if opts == nil {
		opts = DefaultTimestampRequestOptions()
	}
	return t.TimestampWithOptions(ctx, data, opts)
}

// TimestampWithOptions requests a token with custom options.
func (t *HTTPTimestamper) TimestampWithOptions(ctx context.Context, data []byte, opts *TimestampRequestOptions) ([]byte, error) {
	req, err := CreateTimestampRequest(data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	if t.Username != "" {
		httpReq.SetBasicAuth(t.Username, t.Password)
	}

	log.WithField("url", t.URL).Debug("requesting timestamp")
	resp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrTimestampFailed, resp.StatusCode)
	}

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimestampFailed, err)
	}

	return ParseTimestampResponse(respData, data, opts.HashAlgorithm)
}

// CreateTimestampRequest creates a DER-encoded timestamp request.
func CreateTimestampRequest(data []byte, opts *TimestampRequestOptions) ([]byte, error) {
	if opts == nil {
		opts = DefaultTimestampRequestOptions()
	}
	reqOpts := &timestamp.RequestOptions{
		Hash:         opts.HashAlgorithm,
		Certificates: opts.RequestCerts,
	}
	if len(opts.Policy) > 0 {
		reqOpts.TSAPolicyOID = opts.Policy
	}
	if opts.IncludeNonce {
		nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
		if err != nil {
			return nil, err
		}
		reqOpts.Nonce = nonce
	}
	return timestamp.CreateRequest(bytes.NewReader(data), reqOpts)
}

// ParseTimestampResponse checks a timestamp response against the original
// data and returns the embedded TimeStampToken.
func ParseTimestampResponse(respData []byte, originalData []byte, hashAlg crypto.Hash) ([]byte, error) {
	var resp TimeStampResp
	if _, err := asn1.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	if resp.Status.Status > 1 { // 0 granted, 1 granted with mods
		return nil, fmt.Errorf("%w: status %d", ErrTimestampRejected, resp.Status.Status)
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, fmt.Errorf("%w: response carries no token", ErrInvalidTimestamp)
	}

	token := resp.TimeStampToken.FullBytes
	if err := verifyImprint(token, originalData, hashAlg); err != nil {
		return nil, err
	}
	return token, nil
}

// ParseToken parses and verifies the CMS signature of a token.
func ParseToken(token []byte) (*timestamp.Timestamp, error) {
	ts, err := timestamp.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}
	return ts, nil
}

// VerifyTimestamp verifies a token against the original data, using the
// hash algorithm named in the token.
func VerifyTimestamp(token []byte, originalData []byte) error {
	return verifyImprint(token, originalData, 0)
}

// GenTime returns the generation time of a token.
func GenTime(token []byte) (time.Time, error) {
	ts, err := ParseToken(token)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time, nil
}

func verifyImprint(token, originalData []byte, hashAlg crypto.Hash) error {
	ts, err := ParseToken(token)
	if err != nil {
		return err
	}
	if hashAlg == 0 {
		hashAlg = ts.HashAlgorithm
	}
	if !hashAlg.Available() {
		return fmt.Errorf("%w: unsupported hash algorithm", ErrInvalidTimestamp)
	}
	h := hashAlg.New()
	h.Write(originalData)
	if !bytes.Equal(ts.HashedMessage, h.Sum(nil)) {
		return ErrTimestampMismatch
	}
	return nil
}
