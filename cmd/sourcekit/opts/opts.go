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

package opts

import (
	"context"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

// RootOpts carries the loaded source definitions and the shared source
// dependencies into every command.
type RootOpts struct {
	Config *config.File
	Deps   *source.Deps
}

// Open builds the source named by sourceID from the loaded config.
func (o *RootOpts) Open(ctx context.Context, sourceID string) (source.Source, error) {
	cfg, ok := o.Config.Lookup(sourceID)
	if !ok {
		return nil, errors.Errorf("source %q not defined in %s", sourceID, o.Config.Location())
	}
	return source.Create(ctx, cfg, o.Deps)
}
