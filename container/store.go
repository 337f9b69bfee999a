package container

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/georgepadayatti/gobdoc/validation"
	"github.com/georgepadayatti/gobdoc/xades"
)

// DirStore reads and writes a container unpacked into a directory.
// Signatures are the META-INF/signatures*.xml files. Every file outside
// META-INF, except mimetype, is a data file.
type DirStore struct {
	Dir string
}

// IsSignatureFile reports whether the slash-separated relative name is a
// signature document.
func IsSignatureFile(name string) bool {
	dir, file := path.Split(name)
	return dir == "META-INF/" && strings.HasPrefix(file, "signatures") && strings.HasSuffix(file, ".xml")
}

// Load reads the directory into a new container.
func (s DirStore) Load(inspector xades.ArchivalInspector) (*Container, error) {
	c := NewContainer(inspector)
	err := filepath.WalkDir(s.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		switch {
		case IsSignatureFile(name):
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			if _, err := c.AddSignature(name, data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		case name == "mimetype" || strings.HasPrefix(name, "META-INF/"):
			return nil
		default:
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			return c.AddDataFile(validation.Document{
				Name:     name,
				MimeType: mimeType(name),
				Data:     data,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load container %s: %w", s.Dir, err)
	}
	log.WithField("dir", s.Dir).Debugf("loaded %d signatures", len(c.SignatureFiles()))
	return c, nil
}

// Save writes the signatures of c to the directory. Each file is replaced
// atomically.
func (s DirStore) Save(c *Container) error {
	entries, _ := c.snapshot()
	for _, e := range entries {
		if err := writeFileAtomic(filepath.Join(s.Dir, filepath.FromSlash(e.name)), e.sig.Raw); err != nil {
			return fmt.Errorf("failed to save %s: %w", e.name, err)
		}
	}
	return nil
}

func writeFileAtomic(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-"+filepath.Base(name))
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
