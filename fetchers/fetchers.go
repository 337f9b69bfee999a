// Package fetchers retrieves OCSP responses and certificates over HTTP.
package fetchers

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/gobdoc/config"
)

var log = logrus.WithField("component", "fetchers")

// Common errors
var (
	ErrFetchFailed         = errors.New("fetch failed")
	ErrOCSPParseFailed     = errors.New("OCSP parse failed")
	ErrCertParseFailed     = errors.New("certificate parse failed")
	ErrNoOCSPServers       = errors.New("no OCSP servers")
	ErrCertificateRevoked  = errors.New("certificate is revoked")
	ErrCertificateUnknown  = errors.New("certificate status is unknown")
	ErrNoIssuerCertificate = errors.New("no issuing certificate found")
)

// FetcherConfig configures the fetcher behavior.
type FetcherConfig struct {
	// HTTP client timeout
	Timeout time.Duration
	// Maximum response size in bytes
	MaxResponseSize int64
	// User-Agent header
	UserAgent string
	// OCSPSource, when set, is used instead of the responders named in
	// the certificate.
	OCSPSource string
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *FetcherConfig {
	return &FetcherConfig{
		Timeout:         30 * time.Second,
		MaxResponseSize: 10 * 1024 * 1024, // 10 MB
		UserAgent:       "gobdoc/1.0",
	}
}

// ConfigFromConfiguration derives the fetcher settings from cfg. The OCSP
// access certificate is loaded when both its file and password are set.
func ConfigFromConfiguration(cfg *config.Configuration) (*FetcherConfig, error) {
	fc := DefaultConfig()
	fc.Timeout = time.Duration(cfg.ConnectionTimeout+cfg.SocketTimeout) * time.Millisecond
	fc.OCSPSource = cfg.OCSPSource

	clientCfg := DefaultHTTPClientConfig()
	clientCfg.Timeout = fc.Timeout
	clientCfg.DialTimeout = time.Duration(cfg.ConnectionTimeout) * time.Millisecond
	clientCfg.ResponseHeaderTimeout = time.Duration(cfg.SocketTimeout) * time.Millisecond
	if cfg.IsOCSPSigningConfigurationAvailable() {
		cert, err := LoadAccessCertificate(cfg.OCSPAccessCertificateFile, cfg.OCSPAccessCertificatePassword)
		if err != nil {
			return nil, err
		}
		clientCfg.ClientCertificates = append(clientCfg.ClientCertificates, cert)
	}
	client, err := NewHTTPClient(clientCfg)
	if err != nil {
		return nil, err
	}
	fc.HTTPClient = client
	return fc, nil
}

// Fetcher provides HTTP fetching functionality.
type Fetcher struct {
	config *FetcherConfig
	client *http.Client
}

// NewFetcher creates a new fetcher.
func NewFetcher(config *FetcherConfig) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultConfig().MaxResponseSize
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &Fetcher{config: config, client: client}
}

// Fetch fetches data from an http or https URL.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) ([]byte, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", ErrFetchFailed, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme: %s", ErrFetchFailed, parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return f.do(req)
}

func (f *Fetcher) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return data, nil
}

// OCSPFetcher fetches OCSP responses.
type OCSPFetcher struct {
	fetcher *Fetcher
}

// NewOCSPFetcher creates a new OCSP fetcher.
func NewOCSPFetcher(config *FetcherConfig) *OCSPFetcher {
	return &OCSPFetcher{fetcher: NewFetcher(config)}
}

// Servers returns the responders asked for cert, in order.
func (f *OCSPFetcher) Servers(cert *x509.Certificate) []string {
	if f.fetcher.config.OCSPSource != "" {
		return []string{f.fetcher.config.OCSPSource}
	}
	return cert.OCSPServer
}

// FetchOCSP returns the DER OCSP response for cert. Each responder is tried
// in turn, POST first and GET second. A response reporting the certificate
// as revoked or unknown is an error.
func (f *OCSPFetcher) FetchOCSP(ctx context.Context, cert, issuer *x509.Certificate) ([]byte, error) {
	servers := f.Servers(cert)
	if len(servers) == 0 {
		return nil, ErrNoOCSPServers
	}

	ocspReq, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var errs []error
	for _, server := range servers {
		der, resp, err := f.fetchFromServer(ctx, server, ocspReq, issuer)
		if err != nil {
			log.WithError(err).WithField("server", server).Debug("OCSP request failed")
			errs = append(errs, err)
			continue
		}
		switch resp.Status {
		case ocsp.Good:
			return der, nil
		case ocsp.Revoked:
			return nil, fmt.Errorf("%w: serial %s revoked at %s", ErrCertificateRevoked, cert.SerialNumber, resp.RevokedAt.UTC().Format(time.RFC3339))
		default:
			return nil, fmt.Errorf("%w: serial %s", ErrCertificateUnknown, cert.SerialNumber)
		}
	}
	return nil, errors.Join(errs...)
}

func (f *OCSPFetcher) fetchFromServer(ctx context.Context, serverURL string, ocspReq []byte, issuer *x509.Certificate) ([]byte, *ocsp.Response, error) {
	der, resp, err := f.fetchPOST(ctx, serverURL, ocspReq, issuer)
	if err == nil {
		return der, resp, nil
	}
	if ctx.Err() != nil {
		return nil, nil, err
	}
	return f.fetchGET(ctx, serverURL, ocspReq, issuer)
}

func (f *OCSPFetcher) fetchPOST(ctx context.Context, serverURL string, ocspReq []byte, issuer *x509.Certificate) ([]byte, *ocsp.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(ocspReq))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")
	return f.exchange(req, issuer)
}

func (f *OCSPFetcher) fetchGET(ctx context.Context, serverURL string, ocspReq []byte, issuer *x509.Certificate) ([]byte, *ocsp.Response, error) {
	encoded := base64.StdEncoding.EncodeToString(ocspReq)
	fullURL := serverURL
	if fullURL == "" || fullURL[len(fullURL)-1] != '/' {
		fullURL += "/"
	}
	fullURL += url.PathEscape(encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, nil, err
	}
	return f.exchange(req, issuer)
}

func (f *OCSPFetcher) exchange(req *http.Request, issuer *x509.Certificate) ([]byte, *ocsp.Response, error) {
	body, err := f.fetcher.do(req)
	if err != nil {
		return nil, nil, err
	}
	resp, err := ocsp.ParseResponse(body, issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOCSPParseFailed, err)
	}
	return body, resp, nil
}

// CertFetcher fetches certificates.
type CertFetcher struct {
	fetcher *Fetcher
}

// NewCertFetcher creates a new certificate fetcher.
func NewCertFetcher(config *FetcherConfig) *CertFetcher {
	return &CertFetcher{fetcher: NewFetcher(config)}
}

// FetchCertificate fetches a DER or PEM certificate from a URL.
func (f *CertFetcher) FetchCertificate(ctx context.Context, urlStr string) (*x509.Certificate, error) {
	data, err := f.fetcher.Fetch(ctx, urlStr)
	if err != nil {
		return nil, err
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// FetchIssuingCertificate follows the authority information access URLs
// of cert.
func (f *CertFetcher) FetchIssuingCertificate(ctx context.Context, cert *x509.Certificate) (*x509.Certificate, error) {
	for _, u := range cert.IssuingCertificateURL {
		issuer, err := f.FetchCertificate(ctx, u)
		if err == nil {
			return issuer, nil
		}
		log.WithError(err).WithField("url", u).Debug("issuer download failed")
	}
	return nil, ErrNoIssuerCertificate
}

// ParseCertificates parses a single DER certificate or a sequence of PEM
// CERTIFICATE blocks.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	if cert, err := x509.ParseCertificate(data); err == nil {
		return []*x509.Certificate{cert}, nil
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertParseFailed, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, ErrCertParseFailed
	}
	return certs, nil
}
