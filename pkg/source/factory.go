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

package source

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/walteh/sourcekit/pkg/config"
)

// Constructor builds a backend from a validated config and the shared
// dependency set.
type Constructor func(ctx context.Context, cfg *config.SourceConfig, deps *Deps) (Source, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{}

	// aliases fold equivalent type names onto their canonical backend.
	aliases = map[string]string{
		"file":       "local",
		"local_file": "local",
		"https":      "http",
		"smb":        "samba",
	}
)

// Register adds a backend constructor under a type name. Backend packages
// call this from init, so importing a backend is what makes its type
// available; new backend types can be registered at runtime the same way.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// RegisteredTypes lists the currently registered type names, sorted.
func RegisteredTypes() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create is the single entry point for building a source from its config. It
// fails fast on unresolved template variables and on unknown types; the
// unknown-type error lists what is registered so the caller can act on it.
func Create(ctx context.Context, cfg *config.SourceConfig, deps *Deps) (Source, error) {
	if missing := cfg.MissingVariables(); len(missing) > 0 {
		return nil, ConfigurationErrf("source %s has unresolved template variables: %s",
			cfg.SourceID, strings.Join(missing, ", "))
	}

	name := strings.ToLower(cfg.SourceType)
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}

	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, ConfigurationErrf("unknown source type %q, registered types: %s",
			cfg.SourceType, strings.Join(RegisteredTypes(), ", "))
	}

	zerolog.Ctx(ctx).Debug().
		Str("source", cfg.SourceID).
		Str("type", name).
		Msg("creating source")

	src, err := ctor(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// InferType guesses a source type from a bare path or URL by scheme. Bare
// paths are local; an empty input cannot be inferred.
func InferType(pathOrURL string) (string, error) {
	trimmed := strings.TrimSpace(pathOrURL)
	if trimmed == "" {
		return "", ConfigurationErrf("cannot infer source type from empty path")
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return "s3", nil
	case strings.HasPrefix(lower, "sftp://"):
		return "sftp", nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return "http", nil
	case strings.HasPrefix(lower, "smb://"):
		return "samba", nil
	}
	if idx := strings.Index(lower, "://"); idx >= 0 {
		return "", ConfigurationErrf("cannot infer source type from scheme %q", lower[:idx])
	}
	return "local", nil
}
