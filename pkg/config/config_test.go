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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestResolvedPath(t *testing.T) {
	tests := []struct {
		name string
		cfg  SourceConfig
		want string
	}{
		{
			name: "no_variables",
			cfg:  SourceConfig{PathTemplate: "/data/file.txt"},
			want: "/data/file.txt",
		},
		{
			name: "single_variable",
			cfg: SourceConfig{
				PathTemplate:     "/data/$year/report.csv",
				DynamicVariables: map[string]string{"year": "2024"},
			},
			want: "/data/2024/report.csv",
		},
		{
			name: "repeated_and_multiple_variables",
			cfg: SourceConfig{
				PathTemplate:     "/$region/$year/$region.log",
				DynamicVariables: map[string]string{"region": "eu", "year": "2024"},
			},
			want: "/eu/2024/eu.log",
		},
		{
			name: "missing_variable_resolves_empty",
			cfg:  SourceConfig{PathTemplate: "/data/$nope/file"},
			want: "/data//file",
		},
		{
			name: "directory_gets_trailing_separator",
			cfg: SourceConfig{
				PathTemplate: "/data/reports",
				IsDirectory:  boolPtr(true),
			},
			want: "/data/reports/",
		},
		{
			name: "existing_separator_not_doubled",
			cfg: SourceConfig{
				PathTemplate: "/data/reports/",
				IsDirectory:  boolPtr(true),
			},
			want: "/data/reports/",
		},
		{
			name: "file_never_gets_separator",
			cfg: SourceConfig{
				PathTemplate: "/data/report.csv",
				IsDirectory:  boolPtr(false),
			},
			want: "/data/report.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolvedPath())
		})
	}
}

func TestExtractVariables(t *testing.T) {
	cfg := SourceConfig{PathTemplate: "/$b/$a/$b"}
	assert.Equal(t, []string{"a", "b"}, cfg.ExtractVariables(), "deduplicated and sorted")

	none := SourceConfig{PathTemplate: "/plain/path"}
	assert.Empty(t, none.ExtractVariables())
}

func TestMissingVariables(t *testing.T) {
	cfg := SourceConfig{
		PathTemplate: "/$region/$year/$name",
		DynamicVariables: map[string]string{
			"region": "eu",
			"year":   "", // empty counts as missing
		},
	}
	assert.Equal(t, []string{"name", "year"}, cfg.MissingVariables())

	complete := SourceConfig{
		PathTemplate:     "/$region",
		DynamicVariables: map[string]string{"region": "eu"},
	}
	assert.Empty(t, complete.MissingVariables())
}

func TestEffectiveLevel(t *testing.T) {
	tests := []struct {
		name string
		cfg  SourceConfig
		want int
	}{
		{name: "zero_stays_zero", cfg: SourceConfig{Level: 0}, want: 0},
		{name: "in_range", cfg: SourceConfig{Level: 3}, want: 3},
		{name: "clamped_to_max", cfg: SourceConfig{Level: 99}, want: MaxLevel},
		{name: "negative_clamped_to_zero", cfg: SourceConfig{Level: -2}, want: 0},
		{
			name: "explicit_file_forces_zero",
			cfg:  SourceConfig{Level: 3, IsDirectory: boolPtr(false)},
			want: 0,
		},
		{
			name: "explicit_directory_keeps_level",
			cfg:  SourceConfig{Level: 3, IsDirectory: boolPtr(true)},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.EffectiveLevel())
		})
	}
}

func TestStaticAccessors(t *testing.T) {
	cfg := SourceConfig{StaticConfig: map[string]any{
		"host":       "example.com",
		"port":       float64(2222), // JSON numbers decode as float64
		"port_str":   "2223",
		"verify":     true,
		"verify_str": "false",
		"headers":    map[string]any{"X-Env": "prod"},
		"patterns":   []any{"*.tmp", "*.log"},
	}}

	assert.Equal(t, "example.com", cfg.StaticString("host", "fallback"))
	assert.Equal(t, "fallback", cfg.StaticString("missing", "fallback"))
	assert.Equal(t, "fallback", cfg.StaticString("port", "fallback"), "non-string values fall back")

	assert.Equal(t, 2222, cfg.StaticInt("port", 1))
	assert.Equal(t, 2223, cfg.StaticInt("port_str", 1), "numeric strings parse")
	assert.Equal(t, 1, cfg.StaticInt("host", 1))

	assert.True(t, cfg.StaticBool("verify", false))
	assert.False(t, cfg.StaticBool("verify_str", true), "boolean strings parse")
	assert.True(t, cfg.StaticBool("missing", true))

	assert.Equal(t, map[string]any{"X-Env": "prod"}, cfg.StaticMap("headers"))
	assert.Nil(t, cfg.StaticMap("host"))

	assert.Equal(t, []string{"*.tmp", "*.log"}, cfg.StaticStrings("patterns"))
	assert.Nil(t, cfg.StaticStrings("missing"))
}

func TestTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, (&SourceConfig{}).Timeout(), "default timeout")
	assert.Equal(t, 10*time.Second, (&SourceConfig{
		StaticConfig: map[string]any{"timeout": 10},
	}).Timeout())
	assert.Equal(t, 30*time.Second, (&SourceConfig{
		StaticConfig: map[string]any{"timeout": -5},
	}).Timeout(), "nonsense timeouts fall back")
}
