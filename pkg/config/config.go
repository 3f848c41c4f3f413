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

// Package config defines the SourceConfig record that identifies and
// parametrizes one logical data source, plus the multi-format file loader for
// source definitions.
package config

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxLevel bounds recursive directory exploration.
const MaxLevel = 5

// varPattern matches $name template variables.
var varPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// SourceConfig identifies one logical source and everything needed to reach
// it. It is immutable by convention: backends read it, nothing mutates it
// after construction.
type SourceConfig struct {
	SourceID   string `json:"source_id" yaml:"source_id"`
	Name       string `json:"name" yaml:"name"`
	SourceType string `json:"source_type" yaml:"source_type"`

	// StaticConfig holds backend-specific settings: credentials, host,
	// region, timeouts, headers.
	StaticConfig map[string]any `json:"static_config,omitempty" yaml:"static_config,omitempty"`

	// PathTemplate may embed $name variables resolved from DynamicVariables.
	PathTemplate     string            `json:"path_template" yaml:"path_template"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty" yaml:"dynamic_variables,omitempty"`

	// IsDirectory is a tri-state override: explicit true/false wins over
	// backend detection, nil lets the backend decide.
	IsDirectory *bool `json:"is_directory,omitempty" yaml:"is_directory,omitempty"`

	// Level bounds tree exploration depth, 0..5. Only meaningful when the
	// source is a directory.
	Level int `json:"level" yaml:"level"`

	CreatedAt    time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	LastAccessed *time.Time `json:"last_accessed,omitempty" yaml:"last_accessed,omitempty"`
	LastTested   *time.Time `json:"last_tested,omitempty" yaml:"last_tested,omitempty"`
	Status       string     `json:"status,omitempty" yaml:"status,omitempty"`
}

// EffectiveLevel clamps Level into [0, MaxLevel] and forces 0 when the config
// is explicitly not a directory.
func (c *SourceConfig) EffectiveLevel() int {
	if c.IsDirectory != nil && !*c.IsDirectory {
		return 0
	}
	level := c.Level
	if level < 0 {
		level = 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}

// ResolvedPath substitutes every $var occurrence in the path template from
// DynamicVariables (missing variables resolve to empty) and appends a
// trailing separator when the config is explicitly a directory.
func (c *SourceConfig) ResolvedPath() string {
	resolved := varPattern.ReplaceAllStringFunc(c.PathTemplate, func(match string) string {
		return c.DynamicVariables[match[1:]]
	})
	if c.IsDirectory != nil && *c.IsDirectory && resolved != "" && !strings.HasSuffix(resolved, "/") {
		resolved += "/"
	}
	return resolved
}

// ExtractVariables returns the variable names referenced by the path
// template, deduplicated and sorted.
func (c *SourceConfig) ExtractVariables() []string {
	seen := map[string]bool{}
	var names []string
	for _, match := range varPattern.FindAllStringSubmatch(c.PathTemplate, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	sort.Strings(names)
	return names
}

// MissingVariables returns the referenced variables that have no non-empty
// substitution. A config with missing variables must not reach a backend.
func (c *SourceConfig) MissingVariables() []string {
	var missing []string
	for _, name := range c.ExtractVariables() {
		if c.DynamicVariables[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// StaticString reads a string from StaticConfig, with fallback.
func (c *SourceConfig) StaticString(key, fallback string) string {
	if v, ok := c.StaticConfig[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		}
	}
	return fallback
}

// StaticInt reads an integer from StaticConfig, tolerating the numeric types
// the various loaders produce.
func (c *SourceConfig) StaticInt(key string, fallback int) int {
	switch v := c.StaticConfig[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// StaticBool reads a boolean from StaticConfig.
func (c *SourceConfig) StaticBool(key string, fallback bool) bool {
	switch v := c.StaticConfig[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// StaticMap reads a nested map from StaticConfig (headers, directory_api).
func (c *SourceConfig) StaticMap(key string) map[string]any {
	switch v := c.StaticConfig[key].(type) {
	case map[string]any:
		return v
	}
	return nil
}

// StaticStrings reads a string list from StaticConfig.
func (c *SourceConfig) StaticStrings(key string) []string {
	switch v := c.StaticConfig[key].(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Timeout returns the per-source operation timeout from static config
// (seconds), defaulting to 30s.
func (c *SourceConfig) Timeout() time.Duration {
	seconds := c.StaticInt("timeout", 30)
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}
