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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"chainguard.dev/genpack/pkg/config"
)

func TestNewVariant(t *testing.T) {
	got := NewVariant("/p/work/x86_64", "")
	want := Variant{
		LowerImage: "/p/work/x86_64/lower.img",
		LowerFiles: "/p/work/x86_64/lower.files",
		LowerState: "/p/work/x86_64/lower.state.yaml",
		UpperImage: "/p/work/x86_64/upper.img",
		UpperState: "/p/work/x86_64/upper.state.yaml",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewVariant() mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "default", got.String())

	got = NewVariant("/p/work/x86_64", "gui")
	want = Variant{
		Name:       "gui",
		LowerImage: "/p/work/x86_64/lower-gui.img",
		LowerFiles: "/p/work/x86_64/lower-gui.files",
		LowerState: "/p/work/x86_64/lower-gui.state.yaml",
		UpperImage: "/p/work/x86_64/upper-gui.img",
		UpperState: "/p/work/x86_64/upper-gui.state.yaml",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewVariant() mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, got.LowerFiles, got.Layout().LowerFiles)
}

func TestNew(t *testing.T) {
	b, _, _ := newProject(t, `{
		name: "appliance",
		devel: true,
		packages: ["app-misc/foo"],
	}`, WithDeepDepclean(true))

	require.Equal(t, "x86_64", b.Arch)
	require.Equal(t, filepath.Join(b.ProjectDir, "work", "x86_64"), b.WorkDir)
	require.Equal(t, filepath.Join(b.CacheDir, "x86_64", "binpkgs"), b.BinpkgsDir)
	require.Equal(t, filepath.Join(b.CacheDir, "download"), b.DownloadDir)
	require.Equal(t, "", b.Variant.Name)
	require.Equal(t, "appliance", b.Manifest.Name)
	require.Equal(t, config.DefaultLowerCapacity, b.Manifest.LowerCapacity)
	require.True(t, b.Devel, "devel is taken from the manifest")
	require.True(t, b.DeepDepclean)
	require.NotEmpty(t, b.BuildID)

	env := b.environment()
	require.Equal(t, "appliance", env["ARTIFACT"])
	require.Equal(t, "1", env["GENPACK_DEVEL"])
	require.Equal(t, b.BuildID, env["GENPACK_BUILD_ID"])
}

func TestNewSelectsVariant(t *testing.T) {
	manifest := `{
		name: "box",
		default_variant: "cli",
		packages: ["app-misc/base"],
		variants: {
			cli: {packages: ["app-misc/cli"]},
			gui: {name: "box-desktop", packages: ["-app-misc/base", "x11-base/xorg-server"]},
		},
	}`

	b, _, _ := newProject(t, manifest)
	require.Equal(t, "cli", b.Variant.Name)
	require.Equal(t, []string{"app-misc/base", "app-misc/cli"}, b.Manifest.Packages)
	require.Equal(t, "box-cli-x86_64.squashfs", b.Outfile())

	b, _, _ = newProject(t, manifest, WithVariant("gui"))
	require.Equal(t, "gui", b.Variant.Name)
	require.Equal(t, []string{"x11-base/xorg-server"}, b.Manifest.Packages)
	require.Equal(t, "box-desktop-gui-x86_64.squashfs", b.Outfile())
	require.Equal(t, "lower-gui.img", filepath.Base(b.Variant.LowerImage))
}

func TestNewRejects(t *testing.T) {
	ctx := slogtest.Context(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.RelaxedManifest), []byte(`{variants: {a: {}}}`), 0o644))

	_, err := New(ctx, WithProjectDir(dir), WithArch("x86_64"), WithRunner(newFakeRunner()), WithVariant("b"))
	var se config.SchemaError
	require.True(t, errors.As(err, &se), "got %v", err)

	_, err = New(ctx, WithProjectDir(dir), WithArch("x86_64"), WithRunner(newFakeRunner()), WithCompression("zstd"))
	require.ErrorContains(t, err, "unknown compression")

	_, err = New(ctx, WithProjectDir(dir), WithArch("mips"))
	require.ErrorContains(t, err, "unsupported architecture")

	_, err = New(ctx, WithProjectDir(t.TempDir()), WithArch("x86_64"))
	require.ErrorIs(t, err, config.ErrNoManifest)
}

func TestOverlayOverride(t *testing.T) {
	overlay := t.TempDir()
	link := filepath.Join(t.TempDir(), "overlay")
	require.NoError(t, os.Symlink(overlay, link))

	b, _, _ := newProject(t, `{}`, WithOverlayOverride(link))
	require.NotEqual(t, link, b.OverlayOverride, "symlinks are resolved")
	require.DirExists(t, b.OverlayOverride)

	err := WithOverlayOverride(filepath.Join(overlay, "missing"))(&Context{})
	require.Error(t, err)
}

func TestInitProject(t *testing.T) {
	ctx := slogtest.Context(t)
	dir := t.TempDir()

	require.NoError(t, InitProject(ctx, dir))
	b, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	require.Equal(t, "/work/\n/*.squashfs\n/*.img\n/*.iso\n/*.tar.gz\n", string(b))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("custom\n"), 0o644))
	require.NoError(t, InitProject(ctx, dir))
	b, err = os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	require.Equal(t, "custom\n", string(b))
}
