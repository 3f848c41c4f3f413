package config

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// File is a set of source definitions loaded from disk.
type File struct {
	Sources []*SourceConfig `json:"sources" yaml:"sources"`

	location string
}

// Location returns the path the file was loaded from.
func (f *File) Location() string {
	return f.location
}

// Lookup finds a source definition by id.
func (f *File) Lookup(sourceID string) (*SourceConfig, bool) {
	for _, cfg := range f.Sources {
		if cfg.SourceID == sourceID {
			return cfg, true
		}
	}
	return nil, false
}

// LoadFile loads source definitions from the given path. The format is
// determined by the file extension:
// - .json for JSON
// - .yaml or .yml for YAML
// - .hcl for HCL
// - .sourcekit will try both YAML and HCL formats
func LoadFile(ctx context.Context, path string) (*File, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading source definitions")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var file *File

	// For .sourcekit files, try both YAML and HCL
	if ext == ".sourcekit" || filepath.Base(path) == ".sourcekit" {
		file, err = loadYAML(data)
		if err == nil {
			file.location = path
			return file, nil
		}
		file, err = loadHCL(data, path)
		if err == nil {
			file.location = path
			return file, nil
		}
		return nil, errors.Errorf("failed to parse %s as YAML or HCL: %w", path, err)
	}

	switch ext {
	case ".json":
		file, err = loadJSON(data)
	case ".yaml", ".yml":
		file, err = loadYAML(data)
	case ".hcl":
		file, err = loadHCL(data, path)
	default:
		return nil, errors.Errorf("unsupported file extension %q", ext)
	}
	if err != nil {
		return nil, err
	}

	file.location = path
	return file, nil
}

func loadJSON(data []byte) (*File, error) {
	var file File
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		return nil, errors.Errorf("parsing JSON: %w", err)
	}
	return &file, nil
}

func loadYAML(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Errorf("parsing YAML: %w", err)
	}
	return &file, nil
}

// hclFile is the HCL schema for source definitions:
//
//	source "fixtures" {
//	  name      = "Fixture data"
//	  type      = "local"
//	  path      = "/data/$year"
//	  vars      = { year = "2024" }
//	  static    = { timeout = 10 }
//	  directory = true
//	  level     = 2
//	}
type hclFile struct {
	Sources []struct {
		ID        string    `hcl:"id,label"`
		Name      string    `hcl:"name,optional"`
		Type      string    `hcl:"type"`
		Path      string    `hcl:"path"`
		Vars      cty.Value `hcl:"vars,optional"`
		Static    cty.Value `hcl:"static,optional"`
		Directory *bool     `hcl:"directory,optional"`
		Level     int       `hcl:"level,optional"`
	} `hcl:"source,block"`
}

func loadHCL(data []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hclSrc, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing HCL: %s", diags.Error())
	}

	evalCtx := &hcl.EvalContext{Variables: map[string]cty.Value{}}

	var raw hclFile
	diags = gohcl.DecodeBody(hclSrc.Body, evalCtx, &raw)
	if diags.HasErrors() {
		return nil, errors.Errorf("decoding HCL: %s", diags.Error())
	}

	file := &File{}
	for _, block := range raw.Sources {
		cfg := &SourceConfig{
			SourceID:     block.ID,
			Name:         block.Name,
			SourceType:   block.Type,
			PathTemplate: block.Path,
			IsDirectory:  block.Directory,
			Level:        block.Level,
		}
		if cfg.Name == "" {
			cfg.Name = block.ID
		}
		if vars := ctyToStringMap(block.Vars); vars != nil {
			cfg.DynamicVariables = vars
		}
		if static := ctyToMap(block.Static); static != nil {
			cfg.StaticConfig = static
		}
		file.Sources = append(file.Sources, cfg)
	}
	return file, nil
}

func ctyToStringMap(v cty.Value) map[string]string {
	if v.IsNull() || !v.IsKnown() || !v.CanIterateElements() {
		return nil
	}
	out := map[string]string{}
	for key, val := range v.AsValueMap() {
		if val.Type() == cty.String && !val.IsNull() {
			out[key] = val.AsString()
		}
	}
	return out
}

func ctyToMap(v cty.Value) map[string]any {
	if v.IsNull() || !v.IsKnown() || !v.CanIterateElements() {
		return nil
	}
	out := map[string]any{}
	for key, val := range v.AsValueMap() {
		out[key] = ctyToGo(val)
	}
	return out
}

func ctyToGo(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var items []any
		for _, item := range v.AsValueSlice() {
			items = append(items, ctyToGo(item))
		}
		return items
	case ty.IsObjectType() || ty.IsMapType():
		return ctyToMap(v)
	default:
		return nil
	}
}
