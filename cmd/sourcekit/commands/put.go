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
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
	"github.com/walteh/sourcekit/pkg/source"
)

// NewPutCmd creates the put command
func NewPutCmd(root *opts.RootOpts) *cobra.Command {
	var (
		appendTo bool
		method   string
	)

	cmd := &cobra.Command{
		Use:   "put <source-id> [file]",
		Short: "Write data to a source, from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "put").Logger().WithContext(ctx)

			var (
				data []byte
				err  error
			)
			if len(args) == 2 && args[1] != "-" {
				data, err = os.ReadFile(args[1])
				if err != nil {
					return errors.Errorf("reading %s: %w", args[1], err)
				}
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Errorf("reading stdin: %w", err)
				}
			}

			src, err := root.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			if err := src.WriteData(ctx, data, source.WriteOptions{Append: appendTo, Method: method}); err != nil {
				return err
			}

			// The write changed the listing under the target's parent; cached
			// pages for this source are stale now.
			src.ClearCache(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&appendTo, "append", false, "append instead of overwriting")
	cmd.Flags().StringVar(&method, "method", "", "HTTP verb for HTTP sources (PUT or POST)")
	return cmd
}
