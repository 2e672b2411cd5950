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

package container

import (
	"context"
	"io"
)

// Runner executes commands against layer images.
type Runner interface {
	Name() string
	// TestUsability reports whether the runner is installed and allowed to
	// operate on images.
	TestUsability(ctx context.Context) error
	// Format creates an empty filesystem in an allocated image file.
	Format(ctx context.Context, image string) error
	// Extract unpacks a base tarball into an image.
	Extract(ctx context.Context, image, tarball string) error
	// Exec runs a command with privileges against the image root, without
	// a container. Only cfg.Image, cfg.Stdin and cfg.Stdout are used.
	Exec(ctx context.Context, cfg *Config, cmd ...string) error
	// Run runs a command in a container booted from cfg.Image.
	Run(ctx context.Context, cfg *Config, cmd ...string) error
	// Copy copies the files listed in list (one relative path per line)
	// from the src image into dstDir of the dst image.
	Copy(ctx context.Context, src, dst, dstDir string, list io.Reader) error
}
