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
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/walteh/sourcekit/cmd/sourcekit/commands"
	"github.com/walteh/sourcekit/cmd/sourcekit/opts"

	// Importing a backend registers its source type.
	_ "github.com/walteh/sourcekit/pkg/source/github"
	_ "github.com/walteh/sourcekit/pkg/source/httpsrc"
	_ "github.com/walteh/sourcekit/pkg/source/local"
	_ "github.com/walteh/sourcekit/pkg/source/s3"
	_ "github.com/walteh/sourcekit/pkg/source/samba"
	_ "github.com/walteh/sourcekit/pkg/source/sftp"
)

func main() {
	root := &opts.RootOpts{}

	rootCmd := &cobra.Command{
		Use:   "sourcekit",
		Short: "A uniform interface over local, S3, SFTP, SMB and HTTP data sources",
		Long: `sourcekit reads, writes and explores configured data sources through one
interface, regardless of where the data lives. Sources are defined in a
config file (JSON, YAML or HCL) and addressed by id.`,
		// Config loading happens after flag parsing so --config and --debug
		// take effect before any command runs.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			ctx := log.Logger.WithContext(cmd.Context())
			cmd.SetContext(ctx)
			return fillRootOpts(ctx, root)
		},
	}
	addRootFlags(rootCmd)

	rootCmd.AddCommand(
		commands.NewTestCmd(root),
		commands.NewLsCmd(root),
		commands.NewTreeCmd(root),
		commands.NewCatCmd(root),
		commands.NewPutCmd(root),
		commands.NewRefreshCmd(root),
		commands.NewActivateCmd(root),
		commands.NewDeactivateCmd(root),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
