package tsl

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/gobdoc/config"
	"github.com/georgepadayatti/gobdoc/fetchers"
)

// Status is the signature state of a loaded trusted list.
type Status string

const (
	StatusValid      Status = "VALID"
	StatusInvalid    Status = "INVALID"
	StatusNotChecked Status = "NOT_CHECKED"
	StatusFailed     Status = "FAILED"
)

// Summary describes one list seen while loading.
type Summary struct {
	Location       string
	Territory      string
	SequenceNumber int
	Status         Status
	Err            error
}

// Loader reads a trusted list, and optionally the lists it points to, into
// trust anchors. Locations may be http(s) URLs, file: URLs or paths.
type Loader struct {
	// Location of the entry list.
	Location string

	// Signers verify the entry list. When empty the signature is not
	// checked.
	Signers []*x509.Certificate

	// FollowPointers loads the lists the entry list points to, one level
	// deep. Their signatures are checked with the certificates published
	// in the pointer.
	FollowPointers bool

	// Territories limits followed pointers. Empty follows all.
	Territories []string

	// ExtraAnchors are PEM or DER files trusted as CAs in addition to the
	// lists.
	ExtraAnchors []string

	fetcher *fetchers.Fetcher
}

// NewLoader builds a loader from the configuration. Network reads use the
// configured connection and socket timeouts.
func NewLoader(cfg *config.Configuration) (*Loader, error) {
	fc, err := fetchers.ConfigFromConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &Loader{
		Location:       cfg.TSLLocation,
		FollowPointers: true,
		ExtraAnchors:   append([]string(nil), cfg.TrustAnchors...),
		fetcher:        fetchers.NewFetcher(fc),
	}, nil
}

// WithFetcher replaces the HTTP fetcher.
func (l *Loader) WithFetcher(f *fetchers.Fetcher) *Loader {
	l.fetcher = f
	return l
}

// Load reads the entry list and returns the collected anchors with one
// summary per list. A failure on the entry list is an error; a failure on
// a pointed list is only reported in its summary.
func (l *Loader) Load(ctx context.Context) (*TrustAnchors, []Summary, error) {
	anchors := &TrustAnchors{}
	if len(l.ExtraAnchors) > 0 {
		extra, err := LoadCertificateFiles(l.ExtraAnchors...)
		if err != nil {
			return nil, nil, err
		}
		anchors.AddCA(extra...)
	}
	if l.Location == "" {
		return anchors, nil, nil
	}

	list, summary := l.loadOne(ctx, l.Location, l.Signers)
	summaries := []Summary{summary}
	if summary.Err != nil {
		return nil, summaries, fmt.Errorf("failed to load trusted list %s: %w", l.Location, summary.Err)
	}
	anchors.Merge(list.Anchors())

	if l.FollowPointers {
		for _, p := range list.Pointers {
			if !p.IsTrustedList() || p.Location == "" || !l.wantTerritory(p.Territory) {
				continue
			}
			child, s := l.loadOne(ctx, p.Location, p.Certificates)
			if s.Territory == "" {
				s.Territory = p.Territory
			}
			summaries = append(summaries, s)
			if s.Err != nil {
				log.WithError(s.Err).WithField("location", p.Location).Warn("skipping trusted list")
				continue
			}
			anchors.Merge(child.Anchors())
		}
	}

	log.WithFields(logrus.Fields{
		"lists": len(summaries),
		"ca":    len(anchors.CA),
		"tsa":   len(anchors.TSA),
	}).Info("trusted lists loaded")
	return anchors, summaries, nil
}

func (l *Loader) loadOne(ctx context.Context, location string, signers []*x509.Certificate) (*TrustedList, Summary) {
	summary := Summary{Location: location, Status: StatusNotChecked}

	data, err := l.read(ctx, location)
	if err != nil {
		summary.Status = StatusFailed
		summary.Err = err
		return nil, summary
	}
	if len(signers) > 0 {
		if _, err := VerifySignature(data, signers); err != nil {
			summary.Status = StatusInvalid
			summary.Err = err
			return nil, summary
		}
		summary.Status = StatusValid
	}

	list, err := Parse(data)
	if err != nil {
		summary.Status = StatusFailed
		summary.Err = err
		return nil, summary
	}
	summary.Territory = list.Territory
	summary.SequenceNumber = list.SequenceNumber
	return list, summary
}

func (l *Loader) read(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			if l.fetcher == nil {
				l.fetcher = fetchers.NewFetcher(nil)
			}
			return l.fetcher.Fetch(ctx, location)
		case "file":
			return os.ReadFile(u.Path)
		}
	}
	return os.ReadFile(location)
}

func (l *Loader) wantTerritory(territory string) bool {
	if len(l.Territories) == 0 {
		return true
	}
	for _, t := range l.Territories {
		if strings.EqualFold(t, territory) {
			return true
		}
	}
	return false
}
