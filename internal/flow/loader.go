// Package flow loads multi-step flow definitions from YAML, validates them,
// and serves them from a lock-free registry.
package flow

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/inkline/model"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Loader scans directories for YAML flow files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new flow Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadBuiltin parses the flows compiled into the binary.
func (l *Loader) LoadBuiltin() ([]model.FlowDefinition, error) {
	return l.LoadFS(builtinFS, "builtin")
}

// LoadAll recursively scans directories for *.yaml and *.yml files.
func (l *Loader) LoadAll(directories []string) ([]model.FlowDefinition, error) {
	var defs []model.FlowDefinition
	for _, dir := range directories {
		loaded, err := l.LoadFS(os.DirFS(dir), ".")
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
		for i := range loaded {
			loaded[i].SourceFile = filepath.Join(dir, loaded[i].SourceFile)
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

// LoadFS walks root within fsys and parses every YAML file it finds.
func (l *Loader) LoadFS(fsys fs.FS, root string) ([]model.FlowDefinition, error) {
	var defs []model.FlowDefinition
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		def, err := parse(data, path)
		if err != nil {
			return err
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// LoadFile loads and parses a single YAML flow file.
func (l *Loader) LoadFile(path string) (model.FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FlowDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return parse(data, path)
}

func parse(data []byte, path string) (model.FlowDefinition, error) {
	var def model.FlowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.FlowDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path
	return def, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
