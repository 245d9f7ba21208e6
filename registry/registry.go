// Package registry loads the dataset manifest once at startup and
// serves it read-only to the rest of the gateway: nothing after Load
// ever mutates a Registry.
package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tabularun/tabularun/types"
)

// Registry is an immutable, in-memory catalog of dataset descriptors.
type Registry struct {
	root     string
	datasets map[string]*types.DatasetDescriptor
	ids      []string // sorted, for deterministic List order
}

// Load reads a JSON manifest (an array of dataset descriptors) from
// manifestPath, validates every descriptor, and verifies that each
// referenced file exists under datasetsRoot. A descriptor with an
// empty VersionHash has one computed from its files' contents; a
// descriptor with a non-empty VersionHash is trusted as-is (it is the
// operator's declaration of a known-good snapshot, not recomputed on
// every load, which would make large datasets expensive to start).
func Load(manifestPath, datasetsRoot string) (*Registry, error) {
	body, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("registry: read manifest %s: %w", manifestPath, err)
	}

	var descriptors []*types.DatasetDescriptor
	if err := json.Unmarshal(body, &descriptors); err != nil {
		return nil, fmt.Errorf("registry: parse manifest %s: %w", manifestPath, err)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("registry: manifest %s declares no datasets", manifestPath)
	}

	r := &Registry{root: datasetsRoot, datasets: make(map[string]*types.DatasetDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if _, dup := r.datasets[d.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate dataset id %q", d.ID)
		}
		for _, f := range d.Files {
			abs := filepath.Join(datasetsRoot, f.Path)
			if _, err := os.Stat(abs); err != nil {
				return nil, fmt.Errorf("registry: dataset %q file %q: %w", d.ID, f.Path, err)
			}
		}
		if d.VersionHash == "" {
			hash, err := hashDatasetFiles(datasetsRoot, d)
			if err != nil {
				return nil, fmt.Errorf("registry: dataset %q: %w", d.ID, err)
			}
			d.VersionHash = hash
		}
		r.datasets[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Get returns the descriptor for id, or (nil, false) if unknown.
func (r *Registry) Get(id string) (*types.DatasetDescriptor, bool) {
	d, ok := r.datasets[id]
	return d, ok
}

// List returns every registered dataset descriptor, sorted by id.
func (r *Registry) List() []*types.DatasetDescriptor {
	out := make([]*types.DatasetDescriptor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.datasets[id])
	}
	return out
}

// ResolvePath returns the absolute on-disk path of a dataset file,
// rooted at the registry's datasets directory.
func (r *Registry) ResolvePath(datasetID, fileName string) (string, error) {
	d, ok := r.Get(datasetID)
	if !ok {
		return "", fmt.Errorf("registry: unknown dataset %q", datasetID)
	}
	f, ok := d.FileByName(fileName)
	if !ok {
		return "", fmt.Errorf("registry: dataset %q has no file %q", datasetID, fileName)
	}
	return filepath.Join(r.root, f.Path), nil
}

// hashDatasetFiles computes a deterministic content hash over every
// file in a dataset, in declared (not filesystem) order, so editing a
// file changes the hash, and so does reordering the declared files.
func hashDatasetFiles(root string, d *types.DatasetDescriptor) (string, error) {
	h := sha256.New()
	for _, f := range d.Files {
		abs := filepath.Join(root, f.Path)
		body, err := readFileBounded(abs)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s:%d:", f.Path, len(body))
		h.Write(body)
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// readFileBounded reads a dataset file for hashing. Datasets are
// expected to be modest CSV files; this intentionally does not stream
// in chunks since the registry only hashes at startup, once per file.
func readFileBounded(path string) ([]byte, error) {
	return os.ReadFile(path)
}
