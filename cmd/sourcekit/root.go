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

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
	"github.com/walteh/sourcekit/pkg/cache"
	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

var (
	// Flags
	configFile string
	cacheDir   string
	debug      bool
)

// fillRootOpts loads the source definitions and builds the shared
// dependencies every command uses.
func fillRootOpts(ctx context.Context, root *opts.RootOpts) error {
	cfg, err := config.LoadFile(ctx, configFile)
	if err != nil {
		return errors.Errorf("loading config: %w", err)
	}

	dir := cacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "sourcekit")
	}
	root.Config = cfg
	root.Deps = &source.Deps{
		Listing: cache.NewPersistentCache(filepath.Join(dir, "listings")),
		TreeDir: filepath.Join(dir, "sources"),
		State:   cache.NewState(filepath.Join(dir, "sources")),
	}
	return nil
}

// addRootFlags adds shared flags to the root command
func addRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", ".sourcekit", "source definitions file path")
	cmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default: under the system temp dir)")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// setupLogging configures zerolog based on flags
func setupLogging() {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
}
