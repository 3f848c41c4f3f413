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

package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
)

// NewRefreshCmd creates the refresh command
func NewRefreshCmd(root *opts.RootOpts) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "refresh <source-id>",
		Short: "Drop cached listings so the next read hits the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "refresh").Logger().WithContext(ctx)

			src, err := root.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			if path != "" {
				src.ClearCachePath(ctx, path)
			} else {
				src.ClearCache(ctx)
			}
			cmd.Println("cache cleared for", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "only clear this path and its descendants")
	return cmd
}
