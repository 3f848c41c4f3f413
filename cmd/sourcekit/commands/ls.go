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
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
	"github.com/walteh/sourcekit/pkg/source"
)

// NewLsCmd creates the ls command
func NewLsCmd(root *opts.RootOpts) *cobra.Command {
	var (
		page      int
		limit     int
		sortBy    string
		sortOrder string
		filter    string
	)

	cmd := &cobra.Command{
		Use:   "ls <source-id> [path]",
		Short: "List one page of a source's contents",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "ls").Logger().WithContext(ctx)

			src, err := root.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			path := ""
			if len(args) == 2 {
				path = args[1]
			}

			result, err := src.ListContentsPaginated(ctx, path, &source.Pagination{
				Page:       page,
				Limit:      limit,
				SortBy:     sortBy,
				SortOrder:  sortOrder,
				FilterType: filter,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, item := range result.Items {
				name := item.Name
				if item.IsDirectory {
					name = color.BlueString(name + "/")
				}
				fmt.Fprintf(out, "%-10s %-20s %s\n", formatSize(item.Size), item.LastModified, name)
			}
			fmt.Fprintf(out, "page %d/%d, %d items total\n",
				result.Page, result.TotalPages, result.TotalCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&limit, "limit", source.DefaultPageLimit, "items per page")
	cmd.Flags().StringVar(&sortBy, "sort", source.SortByName, "sort key (name, size, modified)")
	cmd.Flags().StringVar(&sortOrder, "order", source.SortAsc, "sort order (asc, desc)")
	cmd.Flags().StringVar(&filter, "filter", "", "filter by type (files, directories)")
	return cmd
}

func formatSize(size *int64) string {
	if size == nil {
		return "-"
	}
	v := *size
	switch {
	case v >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(v)/(1<<30))
	case v >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(v)/(1<<20))
	case v >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(v)/(1<<10))
	default:
		return fmt.Sprintf("%d", v)
	}
}
