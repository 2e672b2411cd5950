// Copyright 2026 Chainguard, Inc.
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
package cli

import (
	"github.com/spf13/cobra"
)

func bashCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bash",
		Short: "Open a shell in the lower image",
		Long: `Open an interactive shell in the lower image. The binary package index
is repaired when the shell exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := newContext(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			return bc.Bash(cmd.Context())
		},
	}
}

func upperBashCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upper-bash",
		Short: "Open a shell with the upper image overlaid on the lower image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := newContext(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			return bc.UpperBash(cmd.Context())
		},
	}
}

func upperCleanCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upper-clean",
		Short: "Remove the upper image so the next build assembles it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := newContext(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			return bc.UpperClean(cmd.Context())
		},
	}
}
