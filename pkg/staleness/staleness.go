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

// Package staleness decides which layers of an image build must be redone.
//
// Every decision is conservative: when an input cannot be inspected the
// affected layer is treated as out of date.
package staleness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/state"
)

// WorldFile is the package manager's record of explicitly requested
// packages inside the lower image.
const WorldFile = "/var/lib/portage/world"

// Layout names the on-disk artifacts of one variant.
type Layout struct {
	LowerImage string
	LowerFiles string
	LowerState string
	UpperImage string
	UpperState string
}

// Decision is the verdict on the lower image.
type Decision int

const (
	UpToDate Decision = iota
	// ReplaceRepository keeps the image but swaps the repository snapshot.
	ReplaceRepository
	// Rebuild discards the image and creates it from the base tarball.
	Rebuild
)

func (d Decision) String() string {
	switch d {
	case UpToDate:
		return "up-to-date"
	case ReplaceRepository:
		return "replace-repository"
	case Rebuild:
		return "rebuild"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Executor runs privileged commands against an image root.
type Executor interface {
	Exec(ctx context.Context, cfg *container.Config, cmd ...string) error
}

// Oracle answers staleness questions for one project.
type Oracle struct {
	exec Executor
	// manifestTime is the modification time of the project manifest.
	manifestTime time.Time
	// inputs are project trees that feed the lower layer.
	inputs []string
	// filesDir is the project tree copied verbatim into the upper layer.
	filesDir string
}

// New returns an Oracle. inputs are the project directories whose content
// is installed into the lower image; filesDir is copied into the upper one.
func New(exec Executor, manifestTime time.Time, inputs []string, filesDir string) *Oracle {
	return &Oracle{exec: exec, manifestTime: manifestTime, inputs: inputs, filesDir: filesDir}
}

// LowerDecision compares the lower image against the current upstream
// signatures of the base tarball and the repository snapshot.
func (o *Oracle) LowerDecision(ctx context.Context, l Layout, base, repository string) (Decision, error) {
	log := clog.FromContext(ctx)

	if !exists(l.LowerImage) {
		log.Infof("lower image %s does not exist", l.LowerImage)
		return Rebuild, nil
	}
	m, err := state.Load(l.LowerState)
	if err != nil {
		return Rebuild, err
	}
	switch {
	case m.Base == "":
		log.Infof("lower image %s has no recorded base tarball", l.LowerImage)
		return Rebuild, nil
	case m.Base != base:
		log.Infof("base tarball changed: %s -> %s", m.Base, base)
		return Rebuild, nil
	case m.Repository != repository:
		log.Infof("repository snapshot changed: %s -> %s", m.Repository, repository)
		return ReplaceRepository, nil
	}
	return UpToDate, nil
}

// NeedsLowerRebuild reports whether the lower image must be recreated.
func (o *Oracle) NeedsLowerRebuild(ctx context.Context, l Layout, base, repository string) (bool, error) {
	d, err := o.LowerDecision(ctx, l, base, repository)
	return d == Rebuild, err
}

// OverlayInvalidates reports whether the overlay checkout in the lower
// image moved after the file-ownership manifest was written.
func (o *Oracle) OverlayInvalidates(l Layout, overlayUpdated time.Time) bool {
	fi, err := os.Stat(l.LowerFiles)
	if err != nil {
		return false
	}
	return fi.ModTime().Before(overlayUpdated)
}

// FileListStale reports whether the file-ownership manifest predates any of
// the inputs that shape the lower layer's package set. A missing manifest is
// not stale: there is nothing to invalidate.
func (o *Oracle) FileListStale(ctx context.Context, l Layout) bool {
	log := clog.FromContext(ctx)

	fi, err := os.Stat(l.LowerFiles)
	if err != nil {
		return false
	}
	listed := fi.ModTime()

	latest := LatestModTime(ctx, o.inputs...)
	if o.manifestTime.After(latest) {
		latest = o.manifestTime
	}
	if listed.Before(latest) {
		log.Infof("%s is older than the project inputs (%s < %s)", l.LowerFiles, listed.Format(time.RFC3339), latest.Format(time.RFC3339))
		return true
	}

	world, err := o.worldModTime(ctx, l.LowerImage)
	if err != nil {
		log.Warnf("failed to get world file mtime, treating %s as stale: %v", l.LowerFiles, err)
		return true
	}
	if listed.Before(world) {
		log.Infof("%s is older than the world file", l.LowerFiles)
		return true
	}
	return false
}

func (o *Oracle) worldModTime(ctx context.Context, image string) (time.Time, error) {
	var out bytes.Buffer
	cfg := &container.Config{Image: image, Stdout: &out}
	if err := o.exec.Exec(ctx, cfg, "stat", "-c", "%Y", WorldFile); err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(out.String()), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing mtime of %s: %w", WorldFile, err)
	}
	return time.Unix(secs, 0), nil
}

// NeedsUpperRebuild reports whether the upper image must be discarded and
// assembled again from the lower image. filesDigest is the digest of the
// current file-ownership manifest.
func (o *Oracle) NeedsUpperRebuild(ctx context.Context, l Layout, filesDigest string) (bool, error) {
	log := clog.FromContext(ctx)

	if !exists(l.UpperImage) {
		return false, nil
	}
	m, err := state.Load(l.UpperState)
	if err != nil {
		return true, err
	}
	switch {
	case m.State != state.Complete:
		log.Infof("upper image %s is %s", l.UpperImage, m.State)
		return true, nil
	case m.Files != filesDigest:
		log.Infof("file-ownership manifest changed since %s was assembled", l.UpperImage)
		return true, nil
	case LatestModTime(ctx, o.filesDir).After(m.Updated):
		log.Infof("%s changed since %s was assembled", o.filesDir, l.UpperImage)
		return true, nil
	}
	return false, nil
}

// LatestModTime returns the newest modification time of any of paths or,
// for directories, anything below them. Missing paths are ignored; a tree
// that cannot be walked counts as modified now.
func LatestModTime(ctx context.Context, paths ...string) time.Time {
	log := clog.FromContext(ctx)

	var latest time.Time
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			if fi.ModTime().After(latest) {
				latest = fi.ModTime()
			}
			return nil
		})
		if err != nil {
			log.Warnf("walking %s: %v", root, err)
			latest = time.Now()
		}
	}
	return latest
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
