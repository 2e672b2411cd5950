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
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/state"
	"chainguard.dev/genpack/pkg/util"
)

// filesScript copies the project's files tree over the upper layer and runs
// the build scripts packages installed for the artifact.
const filesScript = `set -e
if [ -d /mnt/host/files ]; then
	echo "Copying files from /mnt/host/files"
	cp -rdv /mnt/host/files/. /
fi
execute-artifact-build-scripts
`

// Upper assembles the upper image of the selected variant from the files
// owned by packages in the lower image.
func (b *Context) Upper(ctx context.Context) error {
	ctx, span := otel.Tracer("genpack").Start(ctx, "Upper")
	defer span.End()
	log := clog.FromContext(ctx)
	start := time.Now()
	v := b.Variant

	if err := b.requireLower(); err != nil {
		return err
	}

	digest, err := util.HashFile(v.LowerFiles)
	if err != nil {
		return err
	}

	rebuild, err := b.Oracle().NeedsUpperRebuild(ctx, v.Layout(), digest)
	if err != nil {
		log.Warnf("reading %s: %v", v.UpperState, err)
	}
	if rebuild {
		log.Infof("discarding upper image %s", v.UpperImage)
		if err := b.removeUpper(); err != nil {
			return err
		}
	}

	marker, err := state.Load(v.UpperState)
	if err != nil {
		return err
	}
	if !exists(v.UpperImage) {
		if err := b.createImage(ctx, v.UpperImage, b.Manifest.UpperCapacity); err != nil {
			return err
		}
		marker = &state.Marker{State: state.Absent}
	}
	if err := marker.To(state.Building); err != nil {
		return err
	}
	marker.Files = digest
	if err := state.Save(v.UpperState, marker); err != nil {
		return err
	}

	if err := b.copyOwnedFiles(ctx); err != nil {
		return err
	}

	cfg, err := b.upperConfig()
	if err != nil {
		return err
	}

	log.Infof("executing package scripts and generating metadata")
	if err := b.Runner.Run(ctx, cfg, "exec-package-scripts-and-generate-metadata"); err != nil {
		return err
	}

	if err := b.createAccounts(ctx, cfg); err != nil {
		return err
	}

	filesCfg := *cfg
	filesCfg.Console = container.ConsolePipe
	filesCfg.Stdin = strings.NewReader(filesScript)
	if err := b.Runner.Run(ctx, &filesCfg, "sh"); err != nil {
		return err
	}

	for _, cmd := range b.Manifest.SetupCommands {
		log.Infof("executing setup command: %s", cmd)
		if err := b.Runner.Run(ctx, cfg, "sh", "-c", cmd); err != nil {
			return fmt.Errorf("setup command %q: %w", cmd, err)
		}
	}

	if services := b.Manifest.Services; len(services) > 0 {
		log.Infof("enabling services: %s", strings.Join(services, " "))
		if err := b.Runner.Run(ctx, cfg, append([]string{"systemctl", "enable"}, services...)...); err != nil {
			return err
		}
	}

	if err := marker.To(state.Complete); err != nil {
		return err
	}
	if err := state.Save(v.UpperState, marker); err != nil {
		return err
	}
	log.Infof("upper image %s assembled in %s", v.UpperImage, since(start))
	return nil
}

func (b *Context) copyOwnedFiles(ctx context.Context) error {
	f, err := os.Open(b.Variant.LowerFiles)
	if err != nil {
		return err
	}
	defer f.Close()

	clog.FromContext(ctx).Infof("copying files from %s to %s", b.Variant.LowerImage, b.Variant.UpperImage)
	return b.Runner.Copy(ctx, b.Variant.LowerImage, b.Variant.UpperImage, "upper", f)
}

func (b *Context) requireLower() error {
	for _, p := range []string{b.Variant.LowerImage, b.Variant.LowerFiles} {
		if !exists(p) {
			return &PreconditionError{Missing: p, Stage: "lower"}
		}
	}
	return nil
}

func (b *Context) requireUpper() error {
	if !exists(b.Variant.UpperImage) {
		return &PreconditionError{Missing: b.Variant.UpperImage, Stage: "upper"}
	}
	return nil
}

func (b *Context) removeUpper() error {
	if err := remove(b.Variant.UpperImage); err != nil {
		return err
	}
	return state.Remove(b.Variant.UpperState)
}
