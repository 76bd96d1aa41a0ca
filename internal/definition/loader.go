// Package definition loads table definitions from YAML, validates them
// against the backend OpenAPI index, and serves them from a registry that
// is swapped atomically on reload.
package definition

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/concierge/model"
)

// ChecksumSuffix names the sidecar file holding a definition's expected
// SHA-256, e.g. hotels.yaml.sha256.
const ChecksumSuffix = ".sha256"

// ErrChecksumMismatch is returned when a definition does not match its sidecar.
var ErrChecksumMismatch = errors.New("definition checksum mismatch")

// Loader scans directories for YAML definition files. Each file's SHA-256 is
// compared with its sidecar when one exists; in strict mode the sidecar is
// required.
type Loader struct {
	strict bool
}

// NewLoader creates a Loader.
func NewLoader(strictChecksums bool) *Loader {
	return &Loader{strict: strictChecksums}
}

// LoadAll recursively loads every *.yaml and *.yml file under the
// directories, in lexical path order.
func (l *Loader) LoadAll(directories []string) ([]model.DomainDefinition, error) {
	var defs []model.DomainDefinition

	for _, dir := range directories {
		var paths []string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml":
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}

		sort.Strings(paths)
		for _, path := range paths {
			def, err := l.LoadFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
		}
	}

	return defs, nil
}

// LoadFile parses one definition file and records its checksum and path.
func (l *Loader) LoadFile(path string) (model.DomainDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DomainDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	if err := l.verify(path, checksum); err != nil {
		return model.DomainDefinition{}, err
	}

	var def model.DomainDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.DomainDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	def.Checksum = checksum
	def.SourceFile = path

	return def, nil
}

func (l *Loader) verify(path, checksum string) error {
	want, err := os.ReadFile(path + ChecksumSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		if l.strict {
			return fmt.Errorf("%s: missing %s sidecar", path, ChecksumSuffix)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading checksum for %s: %w", path, err)
	}

	// Accept the sha256sum output format: "<hex>  <filename>".
	fields := strings.Fields(string(want))
	if len(fields) == 0 || !strings.EqualFold(fields[0], checksum) {
		return fmt.Errorf("%s: %w", path, ErrChecksumMismatch)
	}
	return nil
}
