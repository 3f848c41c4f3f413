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
	"github.com/walteh/sourcekit/pkg/source"
)

// NewActivateCmd creates the activate command
func NewActivateCmd(root *opts.RootOpts) *cobra.Command {
	var tool string

	cmd := &cobra.Command{
		Use:   "activate <source-id>",
		Short: "Mark a source as the active one for other tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "activate").Logger().WithContext(ctx)

			// Validate the id against the config before recording it.
			if _, ok := root.Config.Lookup(args[0]); !ok {
				return source.ConfigurationErrf("source %q not defined in %s", args[0], root.Config.Location())
			}

			root.Deps.State.Activate(ctx, args[0], tool)
			cmd.Println("activated", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "sourcekit", "tool name recorded with the activation")
	return cmd
}

// NewDeactivateCmd creates the deactivate command
func NewDeactivateCmd(root *opts.RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <source-id>",
		Short: "Clear the active source, if this source is the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "deactivate").Logger().WithContext(ctx)

			root.Deps.State.Deactivate(ctx, args[0])
			cmd.Println("deactivated", args[0])
			return nil
		},
	}
}
