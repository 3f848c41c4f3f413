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
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
	"github.com/walteh/sourcekit/pkg/source"
)

// NewCatCmd creates the cat command
func NewCatCmd(root *opts.RootOpts) *cobra.Command {
	var (
		limit  int64
		binary bool
	)

	cmd := &cobra.Command{
		Use:   "cat <source-id>",
		Short: "Read a source's data to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "cat").Logger().WithContext(ctx)

			src, err := root.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			mode := source.ModeAuto
			if binary {
				mode = source.ModeBinary
			}
			stream, err := src.ReadStream(ctx, source.ReadOptions{Mode: mode, Limit: limit})
			if err != nil {
				return err
			}
			defer stream.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), stream); err != nil {
				return errors.Errorf("streaming %s: %w", args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 0, "max bytes to read (0 = no limit)")
	cmd.Flags().BoolVar(&binary, "binary", false, "skip text decoding, pass bytes through")
	return cmd
}
