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

package staleness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/stretchr/testify/require"

	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/state"
)

type fakeExec struct {
	world time.Time
	err   error
	calls int
}

func (f *fakeExec) Exec(_ context.Context, cfg *container.Config, cmd ...string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	_, err := fmt.Fprintf(cfg.Stdout, "%d\n", f.world.Unix())
	return err
}

type project struct {
	dir    string
	layout Layout
}

func newProject(t *testing.T) project {
	t.Helper()
	dir := t.TempDir()
	work := filepath.Join(dir, "work", "x86_64")
	require.NoError(t, os.MkdirAll(work, 0o755))
	return project{
		dir: dir,
		layout: Layout{
			LowerImage: filepath.Join(work, "lower.img"),
			LowerFiles: filepath.Join(work, "lower.files"),
			LowerState: filepath.Join(work, "lower.state.yaml"),
			UpperImage: filepath.Join(work, "upper.img"),
			UpperState: filepath.Join(work, "upper.state.yaml"),
		},
	}
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// backdate sets the modification time of root and everything below it.
func backdate(t *testing.T, root string, mtime time.Time) {
	t.Helper()
	require.NoError(t, filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, mtime, mtime)
	}))
}

func TestLowerDecision(t *testing.T) {
	const base, repo = "Last-Modified:a ETag:1 Content-Length:10", "Last-Modified:b ETag:2 Content-Length:20"

	tests := []struct {
		name   string
		image  bool
		marker *state.Marker
		want   Decision
	}{{
		name: "no image",
		want: Rebuild,
	}, {
		name:  "image without marker",
		image: true,
		want:  Rebuild,
	}, {
		name:   "base changed",
		image:  true,
		marker: &state.Marker{State: state.Complete, Base: "old", Repository: repo},
		want:   Rebuild,
	}, {
		name:   "repository changed",
		image:  true,
		marker: &state.Marker{State: state.Complete, Base: base, Repository: "old"},
		want:   ReplaceRepository,
	}, {
		name:   "unchanged",
		image:  true,
		marker: &state.Marker{State: state.Complete, Base: base, Repository: repo},
		want:   UpToDate,
	}, {
		name:   "interrupted install keeps image",
		image:  true,
		marker: &state.Marker{State: state.Building, Base: base, Repository: repo},
		want:   UpToDate,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			p := newProject(t)
			if tt.image {
				touch(t, p.layout.LowerImage, time.Now())
			}
			if tt.marker != nil {
				require.NoError(t, state.Save(p.layout.LowerState, tt.marker))
			}

			o := New(&fakeExec{}, time.Time{}, nil, "")
			got, err := o.LowerDecision(ctx, p.layout, base, repo)
			require.NoError(t, err)
			require.Equal(t, tt.want, got, "got %s", got)

			rebuild, err := o.NeedsLowerRebuild(ctx, p.layout, base, repo)
			require.NoError(t, err)
			require.Equal(t, tt.want == Rebuild, rebuild)
		})
	}
}

func TestFileListStale(t *testing.T) {
	ctx := slogtest.Context(t)
	p := newProject(t)
	listed := time.Now().Add(-time.Hour).Truncate(time.Second)
	savedconfig := filepath.Join(p.dir, "savedconfig")
	firmware := filepath.Join(savedconfig, "sys-kernel", "linux-firmware")
	touch(t, firmware, listed.Add(-time.Hour))
	backdate(t, savedconfig, listed.Add(-time.Hour))

	exec := &fakeExec{world: listed.Add(-time.Minute)}
	o := New(exec, listed.Add(-time.Hour), []string{savedconfig, filepath.Join(p.dir, "patches")}, "")

	// Nothing listed yet: nothing to invalidate.
	require.False(t, o.FileListStale(ctx, p.layout))
	require.Zero(t, exec.calls)

	touch(t, p.layout.LowerFiles, listed)
	require.False(t, o.FileListStale(ctx, p.layout))
	require.Equal(t, 1, exec.calls)

	// A nested change below a local input tree.
	touch(t, firmware, listed.Add(time.Minute))
	require.True(t, o.FileListStale(ctx, p.layout))

	// Monotonic: making inputs even newer keeps it stale.
	touch(t, filepath.Join(p.dir, "patches", "app-misc", "foo", "fix.patch"), listed.Add(time.Hour))
	require.True(t, o.FileListStale(ctx, p.layout))
}

func TestFileListStaleManifestAndWorld(t *testing.T) {
	ctx := slogtest.Context(t)
	p := newProject(t)
	listed := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, p.layout.LowerFiles, listed)

	o := New(&fakeExec{world: listed.Add(-time.Minute)}, listed.Add(time.Second), nil, "")
	require.True(t, o.FileListStale(ctx, p.layout), "manifest is newer")

	o = New(&fakeExec{world: listed.Add(time.Minute)}, listed.Add(-time.Second), nil, "")
	require.True(t, o.FileListStale(ctx, p.layout), "world file is newer")

	o = New(&fakeExec{err: &container.ExternalToolError{Command: []string{"stat"}, ExitCode: 1}}, listed.Add(-time.Second), nil, "")
	require.True(t, o.FileListStale(ctx, p.layout), "world file query failure")
}

func TestOverlayInvalidates(t *testing.T) {
	p := newProject(t)
	listed := time.Now().Add(-time.Hour)
	o := New(&fakeExec{}, time.Time{}, nil, "")

	require.False(t, o.OverlayInvalidates(p.layout, listed.Add(time.Minute)))

	touch(t, p.layout.LowerFiles, listed)
	require.True(t, o.OverlayInvalidates(p.layout, listed.Add(time.Minute)))
	require.False(t, o.OverlayInvalidates(p.layout, listed.Add(-time.Minute)))
}

func TestNeedsUpperRebuild(t *testing.T) {
	ctx := slogtest.Context(t)
	p := newProject(t)
	files := filepath.Join(p.dir, "files")
	o := New(&fakeExec{}, time.Time{}, nil, files)

	rebuild, err := o.NeedsUpperRebuild(ctx, p.layout, "sha256:abc")
	require.NoError(t, err)
	require.False(t, rebuild, "nothing to discard")

	touch(t, p.layout.UpperImage, time.Now())
	rebuild, err = o.NeedsUpperRebuild(ctx, p.layout, "sha256:abc")
	require.NoError(t, err)
	require.True(t, rebuild, "image without marker")

	assembled := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, state.Save(p.layout.UpperState, &state.Marker{State: state.Complete, Files: "sha256:abc", Updated: assembled}))
	touch(t, filepath.Join(files, "etc", "motd"), assembled.Add(-time.Hour))
	backdate(t, files, assembled.Add(-time.Hour))

	rebuild, err = o.NeedsUpperRebuild(ctx, p.layout, "sha256:abc")
	require.NoError(t, err)
	require.False(t, rebuild)

	rebuild, err = o.NeedsUpperRebuild(ctx, p.layout, "sha256:def")
	require.NoError(t, err)
	require.True(t, rebuild, "file list changed")

	touch(t, filepath.Join(files, "etc", "motd"), assembled.Add(time.Second))
	rebuild, err = o.NeedsUpperRebuild(ctx, p.layout, "sha256:abc")
	require.NoError(t, err)
	require.True(t, rebuild, "files changed")
}
