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

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"

	"chainguard.dev/genpack/internal/capacity"
)

// createImage allocates a sparse file of gib GiB at path and formats it.
// The file is removed again if formatting fails.
func (b *Context) createImage(ctx context.Context, path string, gib int) (err error) {
	log := clog.FromContext(ctx)

	size, err := capacity.Bytes(gib)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.WorkDir, 0o755); err != nil {
		return err
	}

	log.Infof("creating image file %s (%s)", path, humanize.IBytes(uint64(size)))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := remove(path); rerr != nil {
				log.Warnf("removing partial image %s: %v", path, rerr)
			}
		}
	}()
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("allocating %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Infof("formatting %s", path)
	return b.Runner.Format(ctx, path)
}
