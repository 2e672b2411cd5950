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
	"fmt"

	"github.com/yookoala/realpath"

	"chainguard.dev/genpack/pkg/config"
	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/upstream"
)

type Option func(*Context) error

// WithProjectDir sets the directory holding the manifest. Defaults to the
// current directory.
func WithProjectDir(dir string) Option {
	return func(b *Context) error {
		b.ProjectDir = dir
		return nil
	}
}

// WithSettings sets the user settings the build starts from.
func WithSettings(s config.Settings) Option {
	return func(b *Context) error {
		b.settings = s
		return nil
	}
}

// WithArch overrides the detected machine architecture.
func WithArch(arch string) Option {
	return func(b *Context) error {
		if _, err := upstream.KeywordArch(arch); err != nil {
			return err
		}
		b.Arch = arch
		return nil
	}
}

// WithCacheDir sets the cache root holding binary packages and distfiles.
func WithCacheDir(dir string) Option {
	return func(b *Context) error {
		b.CacheDir = dir
		return nil
	}
}

// WithVariant selects a variant. The manifest's default_variant applies when
// name is empty.
func WithVariant(name string) Option {
	return func(b *Context) error {
		b.variantName = name
		return nil
	}
}

func WithDevel(devel bool) Option {
	return func(b *Context) error {
		b.Devel = devel
		return nil
	}
}

func WithCompression(compression string) Option {
	return func(b *Context) error {
		b.Compression = compression
		return nil
	}
}

// WithOverlayOverride bind-mounts dir over the genpack overlay checkout.
func WithOverlayOverride(dir string) Option {
	return func(b *Context) error {
		if dir == "" {
			return nil
		}
		resolved, err := realpath.Realpath(dir)
		if err != nil {
			return fmt.Errorf("resolving overlay override %s: %w", dir, err)
		}
		if !isDir(resolved) {
			return fmt.Errorf("overlay override %s is not a directory", dir)
		}
		b.OverlayOverride = resolved
		return nil
	}
}

// WithIndependentBinpkgs keeps binary packages inside the lower image
// instead of the shared cache.
func WithIndependentBinpkgs(independent bool) Option {
	return func(b *Context) error {
		b.IndependentBinpkgs = independent
		return nil
	}
}

// WithDeepDepclean also removes build-time only dependencies.
func WithDeepDepclean(deep bool) Option {
	return func(b *Context) error {
		b.DeepDepclean = deep
		return nil
	}
}

// WithEnvFile sets a file of environment variables passed to every
// container command.
func WithEnvFile(path string) Option {
	return func(b *Context) error {
		b.envFile = path
		return nil
	}
}

// WithManifestOptions passes opts through to config.Load.
func WithManifestOptions(opts ...config.LoadOption) Option {
	return func(b *Context) error {
		b.manifestOpts = append(b.manifestOpts, opts...)
		return nil
	}
}

func WithRunner(r container.Runner) Option {
	return func(b *Context) error {
		b.Runner = r
		return nil
	}
}

func WithLocator(l *upstream.Locator) Option {
	return func(b *Context) error {
		b.Locator = l
		return nil
	}
}

// WithDebug makes the helper verbose.
func WithDebug(debug bool) Option {
	return func(b *Context) error {
		b.Debug = debug
		return nil
	}
}
