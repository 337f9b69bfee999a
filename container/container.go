// Package container holds the signatures and data files of one signed
// container and runs profile extension and validation over them.
package container

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/gobdoc/config"
	"github.com/georgepadayatti/gobdoc/validation"
	"github.com/georgepadayatti/gobdoc/xades"
)

var log = logrus.WithField("component", "container")

// SignatureMimeType is the media type of a XAdES signature document.
const SignatureMimeType = "application/vnd.etsi.asic-e+xml"

type entry struct {
	name string
	sig  *xades.Signature
}

// Container is an in-memory signed container. It is safe for concurrent
// use.
type Container struct {
	mu         sync.RWMutex
	parser     *xades.Parser
	dataFiles  []validation.Document
	signatures []entry
	// generation changes on every mutation of signatures.
	generation uint64
}

// NewContainer returns an empty container whose signatures are parsed with
// archival evidence taken from inspector. A nil inspector counts archive
// timestamps in the signature itself.
func NewContainer(inspector xades.ArchivalInspector) *Container {
	return &Container{parser: xades.NewParser(inspector)}
}

// AddDataFile adds a payload file. Names must be unique.
func (c *Container) AddDataFile(doc validation.Document) error {
	if doc.Name == "" {
		return fmt.Errorf("data file name is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.dataFiles {
		if d.Name == doc.Name {
			return fmt.Errorf("data file %s already exists", doc.Name)
		}
	}
	doc.Data = bytes.Clone(doc.Data)
	c.dataFiles = append(c.dataFiles, doc)
	return nil
}

// DataFiles returns copies of the payload files.
func (c *Container) DataFiles() []validation.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]validation.Document, len(c.dataFiles))
	for i, d := range c.dataFiles {
		d.Data = bytes.Clone(d.Data)
		out[i] = d
	}
	return out
}

// AddSignature parses data and adds the signature under name. An empty
// name is replaced by META-INF/signatures<n>.xml.
func (c *Container) AddSignature(name string, data []byte) (*xades.Signature, error) {
	sig, err := c.parser.Extract(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("META-INF/signatures%d.xml", len(c.signatures))
	}
	for _, e := range c.signatures {
		if e.sig.ID == sig.ID {
			return nil, fmt.Errorf("signature id %s already exists", sig.ID)
		}
		if e.name == name {
			return nil, fmt.Errorf("signature file %s already exists", name)
		}
	}
	c.signatures = append(c.signatures, entry{name: name, sig: sig})
	c.generation++
	log.WithFields(logrus.Fields{"signature": sig.ID, "profile": sig.Profile()}).Debug("signature added")
	return sig.Clone(), nil
}

// Signatures returns copies of the signature records in container order.
func (c *Container) Signatures() []*xades.Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*xades.Signature, len(c.signatures))
	for i, e := range c.signatures {
		out[i] = e.sig.Clone()
	}
	return out
}

// SignatureFiles returns the file name of every signature, in container
// order.
func (c *Container) SignatureFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.signatures))
	for i, e := range c.signatures {
		out[i] = e.name
	}
	return out
}

func (c *Container) snapshot() ([]entry, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]entry(nil), c.signatures...), c.generation
}

// Validate validates every signature against the data files. One report
// generator is used per signature and the signatures are validated in
// parallel. Reports are returned in container order.
func (c *Container) Validate(ctx context.Context, v validation.Validator, cfg *config.Configuration) ([]*validation.Reports, error) {
	entries, _ := c.snapshot()
	detached := c.DataFiles()
	reports := make([]*validation.Reports, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		vc := validation.NewValidationContext(validation.Document{
			Name:     e.name,
			MimeType: SignatureMimeType,
			Data:     bytes.Clone(e.sig.Raw),
		}, detached, cfg)
		gen := validation.NewReportGenerator(vc, v)
		g.Go(func() error {
			r, err := gen.Open(gctx)
			if err != nil {
				return err
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
