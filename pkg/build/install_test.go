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
	"testing"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/stretchr/testify/require"

	"chainguard.dev/genpack/pkg/config"
)

func TestEmerge(t *testing.T) {
	require.Equal(t,
		[]string{"emerge", "-bk", "--binpkg-respect-use=y", "-uDN", "--keep-going", "@world", "genpack-progs", "@genpack-runtime", "@genpack-buildtime"},
		emerge("-uDN", true, nil, worldTargets...))

	require.Equal(t,
		[]string{"emerge", "-bk", "--binpkg-respect-use=y", "--usepkg-exclude", "sys-kernel/gentoo-kernel app-misc/x", "--buildpkg-exclude", "sys-kernel/gentoo-kernel app-misc/x", "@preserved-rebuild"},
		emerge("", false, []string{"sys-kernel/gentoo-kernel", "app-misc/x"}, "@preserved-rebuild"))
}

func TestCleanupScript(t *testing.T) {
	require.Equal(t, "emerge --depclean && etc-update --automode -5 && eclean-dist -d && eclean-pkg", cleanupScript(false, false))
	require.Equal(t, "emerge --depclean --with-bdeps=n && etc-update --automode -5 && eclean-dist -d && eclean-pkg -d", cleanupScript(true, true))
}

func TestProfile(t *testing.T) {
	got, err := profile("x86_64", "")
	require.NoError(t, err)
	require.Equal(t, "genpack-overlay:genpack/amd64", got)

	got, err = profile("aarch64", "systemd/desktop")
	require.NoError(t, err)
	require.Equal(t, "genpack-overlay:genpack/arm64/systemd/desktop", got)

	_, err = profile("sparc64", "")
	require.Error(t, err)
}

func TestInstallPackages(t *testing.T) {
	ctx := slogtest.Context(t)
	b, r, _ := newProject(t, `{
		profile: "paravirt",
		binpkg_excludes: "sys-kernel/gentoo-kernel",
		circulardep_breaker: {packages: ["media-libs/freetype"], use: "-harfbuzz"},
	}`)

	require.NoError(t, b.installPackages(ctx))

	runs := r.commands("run")
	require.Equal(t, "eselect profile set genpack-overlay:genpack/amd64/paravirt", runs[0])
	require.Contains(t, runs, "emerge -bk --binpkg-respect-use=y -u --keep-going --usepkg-exclude sys-kernel/gentoo-kernel --buildpkg-exclude sys-kernel/gentoo-kernel media-libs/freetype")
	require.Contains(t, runs, "emerge -bk --binpkg-respect-use=y -uDN --keep-going --usepkg-exclude sys-kernel/gentoo-kernel --buildpkg-exclude sys-kernel/gentoo-kernel @world genpack-progs @genpack-runtime @genpack-buildtime")
	require.Equal(t, []string{
		"rebuild-kernel-modules-if-necessary",
		"emerge -bk --binpkg-respect-use=y --usepkg-exclude sys-kernel/gentoo-kernel --buildpkg-exclude sys-kernel/gentoo-kernel @preserved-rebuild",
		"unmerge-masked-packages",
		"sh -c " + cleanupScript(false, false),
	}, runs[len(runs)-4:])

	breaker, ok := r.find("emerge -bk --binpkg-respect-use=y -u --keep-going")
	require.True(t, ok)
	require.Equal(t, "-harfbuzz", breaker.Cfg.Environment["USE"])
	require.Equal(t, b.BinpkgsDir, breaker.Cfg.BinpkgsDir)

	world, ok := r.find("emerge -bk --binpkg-respect-use=y -uDN")
	require.True(t, ok)
	require.NotContains(t, world.Cfg.Environment, "USE")
}

func TestInstallPackagesIndependentBinpkgs(t *testing.T) {
	ctx := slogtest.Context(t)
	b, r, _ := newProject(t, `{independent_binpkgs: true}`, WithDeepDepclean(true))

	require.NoError(t, b.installPackages(ctx))
	world, ok := r.find("emerge -bk --binpkg-respect-use=y -uDN")
	require.True(t, ok)
	require.Empty(t, world.Cfg.BinpkgsDir)
	require.Contains(t, r.commands("run"), "sh -c "+cleanupScript(true, true))
	require.NoDirExists(t, b.BinpkgsDir)
}

func TestAccountArgs(t *testing.T) {
	uid, gid, no := 1000, 100, false

	require.Equal(t, []string{"groupadd", "wheel"}, groupaddArgs(config.Group{Name: "wheel"}))
	require.Equal(t, []string{"groupadd", "-g", "100", "users"}, groupaddArgs(config.Group{Name: "users", GID: &gid}))

	require.Equal(t, []string{"useradd", "-m", "user"}, useraddArgs(config.User{Name: "user"}))
	require.Equal(t,
		[]string{"useradd", "-u", "1000", "-c", "Build user", "-d", "/home/build", "-g", "users", "-G", "wheel,video", "-s", "/bin/zsh", "-p", "", "build"},
		useraddArgs(config.User{
			Name:             "build",
			UID:              &uid,
			Comment:          "Build user",
			Home:             "/home/build",
			CreateHome:       &no,
			Shell:            "/bin/zsh",
			InitialGroup:     "users",
			AdditionalGroups: config.StringOrList{"wheel", "video"},
			EmptyPassword:    true,
		}))
}
