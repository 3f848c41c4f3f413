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
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
	"github.com/walteh/sourcekit/pkg/source"
)

// NewTreeCmd creates the tree command
func NewTreeCmd(root *opts.RootOpts) *cobra.Command {
	var level int

	cmd := &cobra.Command{
		Use:   "tree <source-id> [path]",
		Short: "Explore a source's directory tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "tree").Logger().WithContext(ctx)

			cfg, ok := root.Config.Lookup(args[0])
			if !ok {
				return source.ConfigurationErrf("source %q not defined in %s", args[0], root.Config.Location())
			}
			if cmd.Flags().Changed("level") {
				cfg.Level = level
			}

			src, err := source.Create(ctx, cfg, root.Deps)
			if err != nil {
				return err
			}
			defer src.Close()

			start := ""
			if len(args) == 2 {
				start = args[1]
			}

			items, err := src.ExploreTree(ctx, start)
			if err != nil {
				return err
			}

			node := pterm.TreeNode{
				Text:     args[0],
				Children: treeNodes(items),
			}
			rendered, err := pterm.DefaultTree.WithRoot(node).Srender()
			if err != nil {
				return err
			}
			cmd.Print(rendered)
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "exploration depth, overriding the configured level")
	return cmd
}

func treeNodes(items []source.Item) []pterm.TreeNode {
	nodes := make([]pterm.TreeNode, 0, len(items))
	for _, item := range items {
		text := item.Name
		switch {
		case item.Error != "":
			text = pterm.Red(text + " (" + item.Error + ")")
		case item.IsDirectory:
			text = pterm.Blue(text + "/")
			// Directories at the depth boundary render with an ellipsis so the
			// user can tell unexplored from empty.
			if len(item.Children) == 0 && item.HasChildren != nil && *item.HasChildren {
				text += pterm.Gray(" …")
			}
		}
		nodes = append(nodes, pterm.TreeNode{
			Text:     text,
			Children: treeNodes(item.Children),
		})
	}
	return nodes
}
