// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		wantErr     bool
		errContains string
		check       func(t *testing.T, f *File)
	}{
		{
			name: "json",
			file: "sources.json",
			content: `{
  "sources": [
    {
      "source_id": "reports",
      "name": "Reports",
      "source_type": "local",
      "path_template": "/data/$year",
      "dynamic_variables": {"year": "2024"},
      "is_directory": true,
      "level": 2,
      "static_config": {"timeout": 10}
    }
  ]
}`,
			check: func(t *testing.T, f *File) {
				require.Len(t, f.Sources, 1)
				cfg := f.Sources[0]
				assert.Equal(t, "reports", cfg.SourceID)
				assert.Equal(t, "local", cfg.SourceType)
				assert.Equal(t, "/data/2024/", cfg.ResolvedPath(), "variables resolve and the directory separator appends")
				assert.Equal(t, 2, cfg.EffectiveLevel())
				assert.Equal(t, 10, cfg.StaticInt("timeout", 0))
			},
		},
		{
			name:        "json_unknown_field_rejected",
			file:        "sources.json",
			content:     `{"sources": [], "surces": []}`,
			wantErr:     true,
			errContains: "parsing JSON",
		},
		{
			name: "yaml",
			file: "sources.yaml",
			content: `
sources:
  - source_id: bucket
    source_type: s3
    path_template: s3://my-bucket/reports/
    static_config:
      region: eu-west-1
`,
			check: func(t *testing.T, f *File) {
				require.Len(t, f.Sources, 1)
				assert.Equal(t, "bucket", f.Sources[0].SourceID)
				assert.Equal(t, "eu-west-1", f.Sources[0].StaticString("region", ""))
			},
		},
		{
			name: "hcl",
			file: "sources.hcl",
			content: `
source "fixtures" {
  name      = "Fixture data"
  type      = "local"
  path      = "/data/$year"
  vars      = { year = "2024" }
  static    = { timeout = 10, verify_ssl = false }
  directory = true
  level     = 2
}

source "api" {
  type = "http"
  path = "https://example.com/items.json"
}
`,
			check: func(t *testing.T, f *File) {
				require.Len(t, f.Sources, 2)

				fixtures, ok := f.Lookup("fixtures")
				require.True(t, ok)
				assert.Equal(t, "Fixture data", fixtures.Name)
				assert.Equal(t, "/data/2024/", fixtures.ResolvedPath())
				assert.Equal(t, 10, fixtures.StaticInt("timeout", 0), "HCL numbers land as usable ints")
				assert.False(t, fixtures.StaticBool("verify_ssl", true))
				assert.Equal(t, 2, fixtures.Level)

				api, ok := f.Lookup("api")
				require.True(t, ok)
				assert.Equal(t, "api", api.Name, "name defaults to the block label")
				assert.Nil(t, api.IsDirectory)
			},
		},
		{
			name: "sourcekit_extension_accepts_yaml",
			file: "deps.sourcekit",
			content: `
sources:
  - source_id: yamlish
    source_type: local
    path_template: /tmp/file
`,
			check: func(t *testing.T, f *File) {
				_, ok := f.Lookup("yamlish")
				assert.True(t, ok)
			},
		},
		{
			name: "sourcekit_extension_accepts_hcl",
			file: "deps.sourcekit",
			content: `
source "hclish" {
  type = "local"
  path = "/tmp/file"
}
`,
			check: func(t *testing.T, f *File) {
				_, ok := f.Lookup("hclish")
				assert.True(t, ok)
			},
		},
		{
			name:        "unsupported_extension",
			file:        "sources.toml",
			content:     `whatever`,
			wantErr:     true,
			errContains: "unsupported file extension",
		},
		{
			name:        "invalid_hcl",
			file:        "sources.hcl",
			content:     `source {{{`,
			wantErr:     true,
			errContains: "parsing HCL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			f, err := LoadFile(context.Background(), path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, f.Location())
			tt.check(t, f)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
