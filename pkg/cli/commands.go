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
// Package cli implements the genpack command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"sigs.k8s.io/release-utils/version"

	"chainguard.dev/genpack/pkg/build"
)

func New() *cobra.Command {
	var level slag.Level
	var dir, traceFile string
	var shutdown func(context.Context) error
	flags := &BuildFlags{}

	cmd := &cobra.Command{
		Use:   "genpack",
		Short: "Build layered Gentoo system images",
		Long: `Build a bootable squashfs system image from the genpack.json5 (or
genpack.json) manifest in the current directory.

Without a command, genpack runs "build".`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			http.DefaultTransport = userAgentTransport{http.DefaultTransport}

			if flags.Debug && !cmd.Flags().Changed("log-level") {
				level = slag.Level(slog.LevelDebug)
			}
			slog.SetDefault(slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true, Level: charmlog.Level(level)})))

			if traceFile != "" {
				var err error
				if shutdown, err = setupTracing(traceFile); err != nil {
					return err
				}
			}

			// The helper mounts the working directory as the project.
			if dir != "" {
				if err := os.Chdir(dir); err != nil {
					return fmt.Errorf("changing to project directory: %w", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return BuildCmd(cmd.Context(), flags)
		},
	}
	cmd.PersistentFlags().Var(&level, "log-level", "log level (e.g. debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&dir, "directory", "C", "", "project directory (default is the current directory)")
	cmd.PersistentFlags().StringVar(&traceFile, "trace", "", "write a trace of the build stages to this file")
	_ = cmd.PersistentFlags().MarkHidden("trace")
	addBuildFlags(cmd.PersistentFlags(), flags)

	// Finalizers also run when a command fails.
	cobra.OnFinalize(func() {
		if shutdown == nil {
			return
		}
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("flushing trace", "error", err)
		}
		shutdown = nil
	})

	cmd.AddCommand(buildCmd(flags))
	cmd.AddCommand(lowerCmd(flags))
	cmd.AddCommand(upperCmd(flags))
	cmd.AddCommand(packCmd(flags))
	cmd.AddCommand(bashCmd(flags))
	cmd.AddCommand(upperBashCmd(flags))
	cmd.AddCommand(upperCleanCmd(flags))
	cmd.AddCommand(archiveCmd(flags))
	cmd.AddCommand(configureCmd())
	cmd.AddCommand(completion())
	cmd.AddCommand(version.Version())
	return cmd
}

type userAgentTransport struct{ t http.RoundTripper }

func (u userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", build.UserAgent())
	return u.t.RoundTrip(req)
}
