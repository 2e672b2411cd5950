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
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"chainguard.dev/genpack/pkg/build"
)

func buildCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "build",
		Short:   "Build the lower and upper images and pack the artifact",
		Example: `  genpack build --variant paravirt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return BuildCmd(cmd.Context(), flags)
		},
	}
}

func lowerCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lower",
		Short: "Bring the lower image up to date",
		Long: `Bring the lower image up to date, reinstalling the packages even if the
image looks current.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stage(cmd.Context(), flags, "LowerCmd", func(bc *build.Context, ctx context.Context) error {
				return bc.Lower(ctx, true)
			})
		},
	}
}

func upperCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upper",
		Short: "Assemble the upper image from the lower image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stage(cmd.Context(), flags, "UpperCmd", (*build.Context).Upper)
		},
	}
}

func packCmd(flags *BuildFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "pack",
		Short:   "Pack the upper image into a squashfs artifact",
		Example: `  genpack pack --compression xz`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stage(cmd.Context(), flags, "PackCmd", (*build.Context).Pack)
		},
	}
}

// BuildCmd runs every stage of the build.
func BuildCmd(ctx context.Context, flags *BuildFlags) error {
	return stage(ctx, flags, "BuildCmd", (*build.Context).Build)
}

func stage(ctx context.Context, flags *BuildFlags, name string, run func(*build.Context, context.Context) error) error {
	ctx, span := otel.Tracer("genpack").Start(ctx, name)
	defer span.End()

	bc, err := newContext(ctx, flags, true)
	if err != nil {
		return err
	}
	bc.Summarize(ctx)

	if err := run(bc, ctx); err != nil {
		return fmt.Errorf("failed to build %s: %w", bc.Manifest.Name, err)
	}
	return nil
}
