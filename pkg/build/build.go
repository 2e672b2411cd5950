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

// Package build assembles a bootable system image in two layers: a lower
// image holding a complete build root, and an upper image holding only the
// files the installed packages own, which is finally packed into squashfs.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/yookoala/realpath"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
	"sigs.k8s.io/release-utils/version"

	"chainguard.dev/genpack/pkg/config"
	"chainguard.dev/genpack/pkg/container"
	rlhttp "chainguard.dev/genpack/pkg/http"
	"chainguard.dev/genpack/pkg/staleness"
	"chainguard.dev/genpack/pkg/upstream"
	"chainguard.dev/genpack/pkg/util"
)

// Project trees below the project directory.
const (
	FilesDir       = "files"
	SavedconfigDir = "savedconfig"
	PatchesDir     = "patches"
	KernelDir      = "kernel"
	OverlayDir     = "overlay"
)

// Context holds everything a build step needs. It is constructed once by
// New and is not modified afterwards.
type Context struct {
	// Arch is the machine architecture, as reported by uname.
	Arch string
	// ProjectDir holds the manifest and the project trees.
	ProjectDir string
	// WorkDir holds the layer images of Arch.
	WorkDir string
	// CacheDir is the per-user cache root.
	CacheDir string
	// BinpkgsDir is the shared binary package cache of Arch.
	BinpkgsDir string
	// DownloadDir is the shared distfiles cache.
	DownloadDir string

	Source   *config.Source
	Manifest *config.Manifest
	Variant  Variant

	Runner  container.Runner
	Locator *upstream.Locator

	OverlaySource   string
	OverlayOverride string
	// Compression overrides the manifest's compression when set.
	Compression        string
	Devel              bool
	IndependentBinpkgs bool
	DeepDepclean       bool
	Debug              bool

	// BuildID identifies this invocation in container environments.
	BuildID string

	settings     config.Settings
	envFile      string
	variantName  string
	manifestOpts []config.LoadOption
}

// New loads the project manifest and returns a build Context for the
// selected variant.
func New(ctx context.Context, opts ...Option) (*Context, error) {
	log := clog.FromContext(ctx)

	b := Context{
		ProjectDir: ".",
		settings:   config.DefaultSettings(),
		BuildID:    uuid.NewString(),
	}
	for _, opt := range opts {
		if err := opt(&b); err != nil {
			return nil, err
		}
	}

	if b.Arch == "" {
		arch, err := machine()
		if err != nil {
			return nil, fmt.Errorf("detecting architecture: %w", err)
		}
		b.Arch = arch
	}

	projectDir, err := filepath.Abs(b.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve path %s: %w", b.ProjectDir, err)
	}
	b.ProjectDir = projectDir

	workRoot := b.settings.WorkDir
	if !filepath.IsAbs(workRoot) {
		workRoot = filepath.Join(b.ProjectDir, workRoot)
	}
	b.WorkDir = filepath.Join(workRoot, b.Arch)

	if b.CacheDir == "" {
		b.CacheDir = b.settings.CacheDir
	}
	b.BinpkgsDir = filepath.Join(b.CacheDir, b.Arch, "binpkgs")
	b.DownloadDir = filepath.Join(b.CacheDir, "download")
	if b.OverlaySource == "" {
		b.OverlaySource = b.settings.OverlaySource
	}

	loadOpts := b.manifestOpts
	if b.envFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(b.envFile))
	}
	src, err := config.Load(ctx, b.ProjectDir, loadOpts...)
	if err != nil {
		return nil, err
	}
	b.Source = src

	name, err := src.SelectVariant(b.variantName)
	if err != nil {
		return nil, err
	}
	b.Variant = NewVariant(b.WorkDir, name)

	m, err := config.Resolve(ctx, src, b.Arch, name)
	if err != nil {
		return nil, err
	}
	b.Manifest = m

	b.Devel = b.Devel || m.Devel
	b.IndependentBinpkgs = b.IndependentBinpkgs || m.IndependentBinpkgs
	if b.Compression != "" && !slices.Contains(config.Compressions, b.Compression) {
		return nil, fmt.Errorf("unknown compression %q, expected one of %v", b.Compression, config.Compressions)
	}

	if b.Runner == nil {
		b.Runner = container.NewHelper(b.settings.Helper, b.Debug)
	}
	if b.Locator == nil {
		client := rlhttp.NewClient(rate.NewLimiter(rate.Limit(b.settings.RequestsPerSecond), 1), UserAgent())
		l, err := upstream.New(
			upstream.WithBaseURL(b.settings.BaseURL),
			upstream.WithFlavor(b.settings.Stage3Flavor),
			upstream.WithClient(client),
		)
		if err != nil {
			return nil, err
		}
		b.Locator = l
	}

	log.Debugf("build %s for %s, variant %s", b.BuildID, b.Arch, b.Variant)
	return &b, nil
}

// UserAgent is sent with every upstream request.
func UserAgent() string {
	return "genpack/" + version.GetVersionInfo().GitVersion
}

// Summarize logs the paths the build works with.
func (b *Context) Summarize(ctx context.Context) {
	log := clog.FromContext(ctx)
	log.Infof("genpack is building %s:", b.Manifest.Name)
	log.Infof("  manifest: %s", filepath.Join(b.ProjectDir, b.Source.File))
	log.Infof("  arch: %s", b.Arch)
	log.Infof("  variant: %s", b.Variant)
	log.Infof("  work dir: %s", b.WorkDir)
	if b.IndependentBinpkgs {
		log.Infof("  binpkgs: kept in the lower image")
	} else {
		log.Infof("  binpkgs: %s", b.BinpkgsDir)
	}
	if b.OverlayOverride != "" {
		log.Infof("  overlay override: %s", b.OverlayOverride)
	}
}

// Build brings the lower and upper images up to date and packs the
// artifact.
func (b *Context) Build(ctx context.Context) error {
	if err := b.Lower(ctx, false); err != nil {
		return err
	}
	if err := b.Upper(ctx); err != nil {
		return err
	}
	return b.Pack(ctx)
}

// Oracle returns the staleness oracle for this project.
func (b *Context) Oracle() *staleness.Oracle {
	return staleness.New(b.Runner, b.Source.ModTime, []string{
		b.projectPath(SavedconfigDir),
		b.projectPath(PatchesDir),
		b.projectPath(KernelDir),
		b.projectPath(OverlayDir),
	}, b.projectPath(FilesDir))
}

// environment returns the variables passed to every container command.
func (b *Context) environment() map[string]string {
	env := map[string]string{
		"ARTIFACT":         b.Manifest.Name,
		"GENPACK_BUILD_ID": b.BuildID,
	}
	if b.Devel {
		env["GENPACK_DEVEL"] = "1"
	}
	return util.RightJoinMap(b.Source.Environment, env)
}

// lowerConfig is the container configuration for commands run against the
// lower image alone.
func (b *Context) lowerConfig() (*container.Config, error) {
	cfg := &container.Config{
		Image:       b.Variant.LowerImage,
		OverlayDir:  b.OverlayOverride,
		Environment: b.environment(),
	}
	if !b.IndependentBinpkgs {
		if err := os.MkdirAll(b.BinpkgsDir, 0o755); err != nil {
			return nil, err
		}
		dir, err := realpath.Realpath(b.BinpkgsDir)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", b.BinpkgsDir, err)
		}
		cfg.BinpkgsDir = dir
	}
	return cfg, nil
}

// upperConfig is the container configuration for commands whose writes land
// in the upper image.
func (b *Context) upperConfig() (*container.Config, error) {
	if err := os.MkdirAll(b.DownloadDir, 0o755); err != nil {
		return nil, err
	}
	return &container.Config{
		Image:       b.Variant.LowerImage,
		Overlay:     &container.Overlay{Image: b.Variant.UpperImage, Subdir: "upper"},
		DownloadDir: b.DownloadDir,
		OverlayDir:  b.OverlayOverride,
		Environment: b.environment(),
	}, nil
}

func (b *Context) projectPath(elem ...string) string {
	return filepath.Join(append([]string{b.ProjectDir}, elem...)...)
}

func machine() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Machine[:]), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// remove deletes path, treating an already absent file as success.
func remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Second)
}
