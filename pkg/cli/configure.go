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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"chainguard.dev/genpack/pkg/configure"
)

func configureCmd() *cobra.Command {
	var settingsFile string
	var list bool

	cmd := &cobra.Command{
		Use:    "configure ROOT",
		Short:  "Apply the boot-time configurators to a root filesystem",
		Hidden: true,
		Args:   cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, name := range configure.Registered() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			if len(args) == 0 {
				return errors.New("configure needs the root directory to apply to")
			}
			root := args[0]
			if settingsFile == "" {
				settingsFile = filepath.Join(root, "boot", configure.SettingsFile)
			}
			settings, err := configure.LoadSettings(settingsFile)
			if err != nil {
				return err
			}
			return configure.RunAll(cmd.Context(), root, settings)
		},
	}
	cmd.Flags().StringVar(&settingsFile, "settings", "", "settings file (default is ROOT/boot/system.ini)")
	cmd.Flags().BoolVar(&list, "list", false, "list the registered configurators")
	return cmd
}
