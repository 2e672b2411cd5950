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
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/stretchr/testify/require"

	"chainguard.dev/genpack/pkg/config"
	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/upstream"
)

type call struct {
	Op    string
	Cfg   container.Config
	Cmd   []string
	Stdin string
}

func (c call) String() string {
	return c.Op + " " + strings.Join(c.Cmd, " ")
}

// fakeRunner records every command and answers the queries the build makes.
type fakeRunner struct {
	mu    sync.Mutex
	calls []call

	owned   []string
	lib64   bool
	overlay time.Time
	world   time.Time
	// fail maps a command name to the error it returns.
	fail map[string]error
}

var _ container.Runner = (*fakeRunner)(nil)

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		owned:   []string{"/usr/bin/bash", "/etc/os-release", "/usr/lib/os-release"},
		lib64:   true,
		overlay: time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC),
		world:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		fail:    map[string]error{},
	}
}

func (f *fakeRunner) record(op string, cfg *container.Config, cmd []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := call{Op: op, Cmd: cmd}
	if cfg != nil {
		c.Cfg = *cfg
		if cfg.Stdin != nil {
			b, err := io.ReadAll(cfg.Stdin)
			if err != nil {
				return err
			}
			c.Stdin = string(b)
		}
	}
	f.calls = append(f.calls, c)

	if len(cmd) > 0 {
		if err, ok := f.fail[cmd[0]]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeRunner) Name() string { return "fake" }

func (f *fakeRunner) TestUsability(context.Context) error { return nil }

func (f *fakeRunner) Format(_ context.Context, image string) error {
	return f.record("format", nil, []string{"mkfs", image})
}

func (f *fakeRunner) Extract(_ context.Context, image, tarball string) error {
	return f.record("extract", nil, []string{"stage3", image, tarball})
}

func (f *fakeRunner) Exec(_ context.Context, cfg *container.Config, cmd ...string) error {
	if err := f.record("exec", cfg, cmd); err != nil {
		return err
	}
	switch cmd[0] {
	case "test":
		if !f.lib64 {
			return &container.ExternalToolError{Command: cmd, ExitCode: 1}
		}
	case "stat":
		_, err := fmt.Fprintf(cfg.Stdout, "%d\n", f.world.Unix())
		return err
	case "sh":
		if cfg.Stdout != nil {
			_, err := fmt.Fprintf(cfg.Stdout, "Already up to date.\n%s %d.%09d\n", overlayUpdateTag, f.overlay.Unix(), f.overlay.Nanosecond())
			return err
		}
	}
	return nil
}

func (f *fakeRunner) Run(_ context.Context, cfg *container.Config, cmd ...string) error {
	if err := f.record("run", cfg, cmd); err != nil {
		return err
	}
	if cmd[0] == "list-pkg-files" {
		_, err := fmt.Fprintf(cfg.Stdout, "# owned files\n%s\n\n", strings.Join(f.owned, "\n"))
		return err
	}
	return nil
}

func (f *fakeRunner) Copy(_ context.Context, src, dst, dstDir string, list io.Reader) error {
	return f.record("copy", &container.Config{Stdin: list}, []string{"copy", src, dst, "--dst-dir=" + dstDir})
}

// commands returns the recorded commands of op, each joined by spaces.
func (f *fakeRunner) commands(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, strings.Join(c.Cmd, " "))
		}
	}
	return out
}

// find returns the first recorded call whose command starts with prefix.
func (f *fakeRunner) find(prefix string) (call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.calls {
		if strings.HasPrefix(strings.Join(c.Cmd, " "), prefix) {
			return c, true
		}
	}
	return call{}, false
}

func (f *fakeRunner) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

const latestStage3 = `-----BEGIN PGP SIGNED MESSAGE-----
Hash: SHA512

# Latest as of Mon, 12 Oct 2026 18:00:01 +0000
20261012T164543Z/stage3-amd64-systemd-20261012T164543Z.tar.xz 283394476
-----BEGIN PGP SIGNATURE-----

iQIzBAEBCgAdFiEE
-----END PGP SIGNATURE-----
`

// mirror serves a stage3 pointer file, a stage3 tarball and a repository
// snapshot. The ETags can be changed to simulate upstream releases.
type mirror struct {
	mu    sync.Mutex
	etags map[string]string
}

func (m *mirror) set(kind, etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.etags[kind] = etag
}

func (m *mirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body, etag string
	switch {
	case r.URL.Path == "/releases/amd64/autobuilds/latest-stage3-amd64-systemd.txt":
		body = latestStage3
	case strings.HasPrefix(r.URL.Path, "/releases/amd64/autobuilds/20261012T164543Z/"):
		etag = m.etags["stage3"]
		body = "stage3 " + etag
	case r.URL.Path == "/snapshots/portage-latest.tar.xz":
		etag = m.etags["portage"]
		body = "portage " + etag
	default:
		http.NotFound(w, r)
		return
	}
	if etag != "" {
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", "Mon, 12 Oct 2026 16:45:43 GMT")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte(body))
	}
}

func newMirror(t *testing.T) (*mirror, *upstream.Locator) {
	t.Helper()
	m := &mirror{etags: map[string]string{"stage3": `"s1"`, "portage": `"p1"`}}
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)

	l, err := upstream.New(upstream.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return m, l
}

// newProject writes manifest into a fresh project directory and returns a
// build Context for it, with its runner and upstream mirror.
func newProject(t *testing.T, manifest string, opts ...Option) (*Context, *fakeRunner, *mirror) {
	t.Helper()
	ctx := slogtest.Context(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.RelaxedManifest), []byte(manifest), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, config.RelaxedManifest), past, past))

	settings := config.DefaultSettings()
	settings.WorkDir = "work"
	settings.CacheDir = filepath.Join(t.TempDir(), "cache")

	r := newFakeRunner()
	m, l := newMirror(t)
	b, err := New(ctx, append([]Option{
		WithProjectDir(dir),
		WithSettings(settings),
		WithArch("x86_64"),
		WithRunner(r),
		WithLocator(l),
	}, opts...)...)
	require.NoError(t, err)
	return b, r, m
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}
