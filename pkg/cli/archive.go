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
	"fmt"

	"github.com/spf13/cobra"
)

func archiveCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Archive the project manifest and trees",
		Long: `Write the manifest and the files, savedconfig, patches, kernel and overlay
trees to genpack-<name>.tar.gz. Paths listed in .genpackignore are left out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bc, err := newContext(ctx, flags, false)
			if err != nil {
				return err
			}
			dest, err := bc.Archive(ctx)
			if err != nil {
				return fmt.Errorf("failed to archive %s: %w", bc.Source.Name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dest)
			return nil
		},
	}
}
