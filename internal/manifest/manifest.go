// Package manifest loads group definitions from YAML so a process can start
// with groups and tasks already registered.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/registry"
)

// ErrEmpty is returned for a manifest with no content.
var ErrEmpty = errors.New("manifest is empty")

// Manifest is the decoded form of a groups file:
//
//	current: g1
//	groups:
//	  - name: g1
//	    tasks:
//	      - {name: a, kind: square, arg: 5, timeout_ms: 2000}
type Manifest struct {
	Current string  `yaml:"current"`
	Groups  []Group `yaml:"groups"`
}

// Group is one group entry of a manifest.
type Group struct {
	Name  string           `yaml:"name"`
	Tasks []model.TaskSpec `yaml:"tasks"`
}

// Parse decodes a manifest from YAML bytes.
func Parse(data []byte) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Manifest{}, ErrEmpty
	}
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}

// LoadReader reads and decodes a manifest from r.
func LoadReader(r io.Reader) (Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read: %w", err)
	}
	return Parse(data)
}

// Load reads and decodes the manifest at path.
func Load(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	defer f.Close()

	m, err := LoadReader(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// Apply registers every group and task of m in reg, then selects m.Current
// if set. It stops at the first error, leaving earlier entries registered.
// It returns the number of tasks added.
func (m Manifest) Apply(reg *registry.Registry) (int, error) {
	added := 0
	for _, g := range m.Groups {
		if err := reg.CreateGroup(g.Name); err != nil {
			return added, fmt.Errorf("manifest: group %q: %w", g.Name, err)
		}
		for _, spec := range g.Tasks {
			if _, err := reg.AddTask(g.Name, spec); err != nil {
				return added, fmt.Errorf("manifest: group %q task %q: %w", g.Name, spec.Name, err)
			}
			added++
		}
	}

	if m.Current != "" {
		if err := reg.SwitchGroup(m.Current); err != nil {
			return added, fmt.Errorf("manifest: current: %w", err)
		}
	}
	return added, nil
}
