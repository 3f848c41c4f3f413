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
	"sort"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/walteh/sourcekit/cmd/sourcekit/opts"
	"github.com/walteh/sourcekit/pkg/source"
)

// testConcurrency bounds how many sources are probed at once with --all.
const testConcurrency = 4

// NewTestCmd creates the test command
func NewTestCmd(root *opts.RootOpts) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "test [source-id]",
		Short: "Test connectivity of one source, or every configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "test").Logger().WithContext(ctx)

			if all {
				return testAll(cmd, root)
			}
			if len(args) != 1 {
				return errors.New("expected a source id (or --all)")
			}

			src, err := root.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			printTestResult(cmd, args[0], src.TestConnection(ctx))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "test every source in the config")
	return cmd
}

func testAll(cmd *cobra.Command, root *opts.RootOpts) error {
	ctx := cmd.Context()

	var mu sync.Mutex
	results := map[string]*source.TestResult{}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(testConcurrency)
	for _, cfg := range root.Config.Sources {
		cfg := cfg
		group.Go(func() error {
			src, err := source.Create(gctx, cfg, root.Deps)
			if err != nil {
				mu.Lock()
				results[cfg.SourceID] = &source.TestResult{
					Status:  source.StatusError,
					Message: err.Error(),
				}
				mu.Unlock()
				return nil
			}
			defer src.Close()

			res := src.TestConnection(gctx)
			mu.Lock()
			results[cfg.SourceID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printTestResult(cmd, id, results[id])
	}
	return nil
}

func printTestResult(cmd *cobra.Command, sourceID string, res *source.TestResult) {
	mark := color.RedString("✗")
	if res.Success {
		mark = color.GreenString("✓")
	}
	line := fmt.Sprintf("%s %-20s %-12s %s", mark, sourceID, res.Status, res.Message)
	if res.ResponseTime != nil {
		line += fmt.Sprintf(" (%.0fms)", *res.ResponseTime*1000)
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
