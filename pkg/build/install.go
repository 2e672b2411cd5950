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

package build

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/genpack/pkg/upstream"
)

// Targets of the main package installation.
var worldTargets = []string{"@world", "genpack-progs", "@genpack-runtime", "@genpack-buildtime"}

// bootstrapUse restricts the first git installation to what cloning over
// https needs.
const bootstrapUse = "-* curl ssl curl_ssl_openssl openssl"

// emerge builds an emerge command line. Binary packages are used and built
// for everything except excludes.
func emerge(update string, keepGoing bool, excludes []string, targets ...string) []string {
	cmd := []string{"emerge", "-bk", "--binpkg-respect-use=y"}
	if update != "" {
		cmd = append(cmd, update)
	}
	if keepGoing {
		cmd = append(cmd, "--keep-going")
	}
	if len(excludes) > 0 {
		joined := strings.Join(excludes, " ")
		cmd = append(cmd, "--usepkg-exclude", joined, "--buildpkg-exclude", joined)
	}
	return append(cmd, targets...)
}

// cleanupScript removes unneeded packages and stale caches from the lower
// image.
func cleanupScript(deep, independentBinpkgs bool) string {
	depclean := "emerge --depclean"
	if deep {
		depclean += " --with-bdeps=n"
	}
	eclean := "eclean-pkg"
	if independentBinpkgs {
		// Nothing else shares the packages kept in the image.
		eclean += " -d"
	}
	return strings.Join([]string{depclean, "etc-update --automode -5", "eclean-dist -d", eclean}, " && ")
}

// profile returns the full profile name for arch and the manifest's
// sub-profile.
func profile(arch, sub string) (string, error) {
	keyword, err := upstream.KeywordArch(arch)
	if err != nil {
		return "", err
	}
	name := "genpack-overlay:genpack/" + keyword
	if sub != "" {
		name += "/" + sub
	}
	return name, nil
}

// installPackages runs the package installation phases of the lower layer.
func (b *Context) installPackages(ctx context.Context) error {
	log := clog.FromContext(ctx)
	m := b.Manifest

	cfg, err := b.lowerConfig()
	if err != nil {
		return err
	}

	name, err := profile(b.Arch, m.Profile)
	if err != nil {
		return err
	}
	log.Infof("setting profile %s", name)
	if err := b.Runner.Run(ctx, cfg, "eselect", "profile", "set", name); err != nil {
		return fmt.Errorf("setting profile: %w", err)
	}

	if err := b.applyPolicy(ctx); err != nil {
		return err
	}

	if cd := m.CircularDepBreaker; cd != nil && len(cd.Packages) > 0 {
		log.Infof("emerging circular dependency breakers: %s", strings.Join(cd.Packages, " "))
		breakerCfg := cfg
		if cd.Use != "" {
			breakerCfg = cfg.With(map[string]string{"USE": cd.Use})
		}
		if err := b.Runner.Run(ctx, breakerCfg, emerge("-u", true, m.BinpkgExcludes, cd.Packages...)...); err != nil {
			return fmt.Errorf("emerging circular dependency breakers: %w", err)
		}
	}

	log.Infof("emerging all packages")
	if err := b.Runner.Run(ctx, cfg, emerge("-uDN", true, m.BinpkgExcludes, worldTargets...)...); err != nil {
		return fmt.Errorf("emerging packages: %w", err)
	}

	log.Infof("rebuilding kernel modules if necessary")
	if err := b.Runner.Run(ctx, cfg, "rebuild-kernel-modules-if-necessary"); err != nil {
		return err
	}

	log.Infof("rebuilding preserved packages")
	if err := b.Runner.Run(ctx, cfg, emerge("", false, m.BinpkgExcludes, "@preserved-rebuild")...); err != nil {
		return err
	}

	log.Infof("unmerging masked packages")
	if err := b.Runner.Run(ctx, cfg, "unmerge-masked-packages"); err != nil {
		return err
	}

	log.Infof("cleaning up")
	return b.Runner.Run(ctx, cfg, "sh", "-c", cleanupScript(b.DeepDepclean, b.IndependentBinpkgs))
}
