package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"fabingest/internal/services"
)

// Spec is one [[plugin]] entry of a manifest.
type Spec struct {
	Name    string         `toml:"name" yaml:"name"`
	Kind    string         `toml:"kind" yaml:"kind"`
	Version string         `toml:"version" yaml:"version"`
	Enabled *bool          `toml:"enabled" yaml:"enabled"`
	Options map[string]any `toml:"options" yaml:"options"`

	// Source is the manifest file the entry came from.
	Source string `toml:"-" yaml:"-"`
}

// IsEnabled reports whether the entry should be loaded. Entries are enabled
// unless they say otherwise.
func (s Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ServiceOptions returns the entry options in the form plugins resolve from
// their locator.
func (s Spec) ServiceOptions() services.Options {
	out := make(services.Options, len(s.Options))
	for k, v := range s.Options {
		out[k] = v
	}
	return out
}

type manifestFile struct {
	Plugins []Spec `toml:"plugin" yaml:"plugin"`
}

var manifestExtensions = map[string]bool{".toml": true, ".yaml": true, ".yml": true}

// IsManifest reports whether path names a manifest file by extension.
func IsManifest(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return manifestExtensions[strings.ToLower(filepath.Ext(base))]
}

// Discover lists manifest files directly inside dir in lexical order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsManifest(entry.Name()) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadManifest parses a TOML or YAML manifest. Entries are trimmed and
// validated; a manifest with an invalid entry is rejected as a whole.
func ReadManifest(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file manifestFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&file); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", filepath.Base(path), err)
		}
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse manifest %s: %w", filepath.Base(path), err)
		}
	default:
		return nil, fmt.Errorf("parse manifest %s: unsupported extension", filepath.Base(path))
	}

	for i := range file.Plugins {
		spec := &file.Plugins[i]
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Kind = strings.TrimSpace(spec.Kind)
		spec.Version = strings.TrimSpace(spec.Version)
		spec.Source = path
		if spec.Kind == "" {
			return nil, services.Wrap(services.ErrConfiguration, "plugin", "manifest",
				fmt.Sprintf("%s entry %d: kind is required", filepath.Base(path), i+1), nil)
		}
		if spec.Name == "" {
			spec.Name = spec.Kind
		}
	}
	return file.Plugins, nil
}
