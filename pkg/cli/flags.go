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

	"github.com/chainguard-dev/clog"
	"github.com/spf13/pflag"

	"chainguard.dev/genpack/pkg/build"
	"chainguard.dev/genpack/pkg/config"
)

// addBuildFlags registers the flags shared by every project command.
func addBuildFlags(fs *pflag.FlagSet, flags *BuildFlags) {
	fs.StringVar(&flags.Variant, "variant", "", "variant to build (default is the manifest's default_variant)")
	fs.BoolVar(&flags.Devel, "devel", false, "build a development image")
	fs.StringVar(&flags.Compression, "compression", "", fmt.Sprintf("squashfs compression, one of %v (default is the manifest's)", config.Compressions))
	fs.StringVar(&flags.OverlayOverride, "overlay-override", "", "directory used in place of the genpack overlay checkout")
	fs.BoolVar(&flags.IndependentBinpkgs, "independent-binpkgs", false, "keep binary packages in the lower image instead of the shared cache")
	fs.BoolVar(&flags.DeepDepclean, "deep-depclean", false, "remove build-time only dependencies from the lower image")
	fs.StringVar(&flags.EnvFile, "env-file", "", "file to use for preloaded environment variables")
	fs.StringVar(&flags.ConfigDir, "config-dir", "", "directory holding settings.yaml (default is $XDG_CONFIG_HOME/genpack)")
	fs.BoolVar(&flags.Debug, "debug", false, "enables debug logging and traces helper commands")
}

// BuildFlags holds the parsed project command flags.
type BuildFlags struct {
	Variant            string
	Devel              bool
	Compression        string
	OverlayOverride    string
	IndependentBinpkgs bool
	DeepDepclean       bool
	EnvFile            string
	ConfigDir          string
	Debug              bool
}

// BuildOptions converts BuildFlags into build options.
func (flags *BuildFlags) BuildOptions(settings config.Settings) []build.Option {
	return []build.Option{
		build.WithSettings(settings),
		build.WithVariant(flags.Variant),
		build.WithDevel(flags.Devel),
		build.WithCompression(flags.Compression),
		build.WithOverlayOverride(flags.OverlayOverride),
		build.WithIndependentBinpkgs(flags.IndependentBinpkgs),
		build.WithDeepDepclean(flags.DeepDepclean),
		build.WithEnvFile(flags.EnvFile),
		build.WithDebug(flags.Debug),
	}
}

// newContext prepares the project in the working directory and returns its
// build context. With ping the helper is checked before any stage runs.
func newContext(ctx context.Context, flags *BuildFlags, ping bool) (*build.Context, error) {
	if err := build.InitProject(ctx, "."); err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(flags.ConfigDir)
	if err != nil {
		return nil, err
	}
	bc, err := build.New(ctx, flags.BuildOptions(settings)...)
	if err != nil {
		return nil, err
	}

	if ping {
		if err := bc.Runner.TestUsability(ctx); err != nil {
			return nil, fmt.Errorf("%s is not usable: %w", bc.Runner.Name(), err)
		}
		clog.FromContext(ctx).Debugf("using %s", bc.Runner.Name())
	}
	return bc, nil
}
