package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ladder file formats accepted by Load.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type ladderFile struct {
	Ranks []Rank `json:"ranks" yaml:"ranks"`
}

// Load decodes a ladder document of the given format and builds the policy.
func Load(r io.Reader, format string) (*RankPolicy, error) {
	var doc ladderFile
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode yaml ladder: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode json ladder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported ladder format %q", format)
	}
	return New(doc.Ranks)
}

// LoadFile reads a ladder file, choosing YAML for .yaml/.yml and JSON otherwise.
func LoadFile(path string) (*RankPolicy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rank policy: %w", err)
	}
	defer f.Close()

	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}

	p, err := Load(f, format)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return p, nil
}
