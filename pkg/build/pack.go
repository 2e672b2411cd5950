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
	"os"
	"path"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"

	"chainguard.dev/genpack/pkg/config"
	"chainguard.dev/genpack/pkg/container"
)

// packExcludes are left out of every artifact.
var packExcludes = []string{"build", "build.d", "build.d/*", "var/log/*.log", "var/tmp/*"}

func compressionArgs(compression string) ([]string, error) {
	switch compression {
	case "xz":
		return []string{"-comp", "xz", "-b", "1M"}, nil
	case "gzip":
		return []string{"-Xcompression-level", "1"}, nil
	case "lzo":
		return []string{"-comp", "lzo"}, nil
	case "none":
		return []string{"-no-compression"}, nil
	}
	return nil, fmt.Errorf("unknown compression %q, expected one of %v", compression, config.Compressions)
}

// Outfile is the file name of the packed artifact.
func (b *Context) Outfile() string {
	if b.Manifest.Outfile != "" {
		return b.Manifest.Outfile
	}
	name := b.Manifest.Name
	if b.Variant.Name != "" {
		name += "-" + b.Variant.Name
	}
	return fmt.Sprintf("%s-%s.squashfs", name, b.Arch)
}

func (b *Context) compression() string {
	if b.Compression != "" {
		return b.Compression
	}
	return b.Manifest.Compression
}

func mksquashfsArgs(outfile, compression string) ([]string, error) {
	comp, err := compressionArgs(compression)
	if err != nil {
		return nil, err
	}
	cmd := []string{
		"mksquashfs", path.Join(container.ExtraDir, "upper"), path.Join(container.HostDir, outfile),
		"-wildcards", "-noappend", "-no-exports",
	}
	cmd = append(cmd, comp...)
	cmd = append(cmd, "-e")
	return append(cmd, packExcludes...), nil
}

// Pack writes the upper image as a squashfs artifact into the project
// directory.
func (b *Context) Pack(ctx context.Context) error {
	ctx, span := otel.Tracer("genpack").Start(ctx, "Pack")
	defer span.End()
	log := clog.FromContext(ctx)
	start := time.Now()

	if err := b.requireLower(); err != nil {
		return err
	}
	if err := b.requireUpper(); err != nil {
		return err
	}

	outfile := b.Outfile()
	compression := b.compression()
	cmd, err := mksquashfsArgs(outfile, compression)
	if err != nil {
		return err
	}

	dest := b.projectPath(outfile)
	if exists(dest) {
		log.Infof("%s already exists, removing it", outfile)
		if err := remove(dest); err != nil {
			return err
		}
	}

	log.Infof("creating squashfs image %s with %s compression", outfile, compression)
	cfg := &container.Config{Image: b.Variant.LowerImage, ExtraImage: b.Variant.UpperImage}
	if err := b.Runner.Run(ctx, cfg, cmd...); err != nil {
		return err
	}

	if fi, err := os.Stat(dest); err == nil {
		log.Infof("%s: %s, packed in %s", outfile, humanize.IBytes(uint64(fi.Size())), since(start))
	}
	return nil
}
