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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/genpack/internal/contextreader"
	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/staleness"
	"chainguard.dev/genpack/pkg/state"
	"chainguard.dev/genpack/pkg/upstream"
)

const overlayUpdateTag = "GENPACK_OVERLAY_LAST_UPDATE:"

// Lower brings the lower image of the selected variant up to date. With
// force the package installation runs even if the image looks current.
func (b *Context) Lower(ctx context.Context, force bool) error {
	ctx, span := otel.Tracer("genpack").Start(ctx, "Lower")
	defer span.End()
	log := clog.FromContext(ctx)
	start := time.Now()
	v := b.Variant

	if err := os.MkdirAll(b.WorkDir, 0o755); err != nil {
		return err
	}

	marker, err := state.Load(v.LowerState)
	if err != nil {
		return err
	}

	oracle := b.Oracle()
	switch {
	case force && exists(v.LowerFiles):
		if err := b.invalidate(ctx, marker, "a rebuild was requested"); err != nil {
			return err
		}
	case oracle.FileListStale(ctx, v.Layout()):
		if err := b.invalidate(ctx, marker, "project inputs changed"); err != nil {
			return err
		}
	}

	base, repo, err := b.fetchUpstream(ctx)
	if err != nil {
		return err
	}

	decision, err := oracle.LowerDecision(ctx, v.Layout(), base.Signature.String(), repo.Signature.String())
	if err != nil {
		return err
	}
	log.Infof("lower image %s: %s", v.LowerImage, decision)

	switch decision {
	case staleness.Rebuild:
		if marker, err = b.setupLowerImage(ctx, base, repo); err != nil {
			return err
		}
	case staleness.ReplaceRepository:
		if err := b.invalidate(ctx, marker, "the repository snapshot changed"); err != nil {
			return err
		}
		if err := b.replaceRepository(ctx, repo.Path); err != nil {
			return err
		}
		marker.Repository = repo.Signature.String()
		if err := state.Save(v.LowerState, marker); err != nil {
			return err
		}
	}

	overlayUpdated, err := b.syncOverlay(ctx)
	if err != nil {
		return err
	}
	if oracle.OverlayInvalidates(v.Layout(), overlayUpdated) {
		if err := b.invalidate(ctx, marker, "the genpack overlay was updated"); err != nil {
			return err
		}
	}
	marker.Overlay = overlayUpdated

	if exists(v.LowerFiles) {
		if marker.State != state.Complete {
			if err := marker.To(state.Complete); err != nil {
				return err
			}
		}
		log.Infof("lower image is up to date")
		return state.Save(v.LowerState, marker)
	}

	if marker.Interrupted() {
		log.Infof("resuming an interrupted installation in %s", v.LowerImage)
	}
	if err := marker.To(state.Building); err != nil {
		return err
	}
	if err := state.Save(v.LowerState, marker); err != nil {
		return err
	}

	if err := b.installPackages(ctx); err != nil {
		return err
	}
	if err := b.writeFileList(ctx); err != nil {
		return err
	}

	if err := marker.To(state.Complete); err != nil {
		return err
	}
	if err := state.Save(v.LowerState, marker); err != nil {
		return err
	}
	log.Infof("lower image %s built in %s", v.LowerImage, since(start))
	return nil
}

// invalidate removes the file-ownership manifest so that the package
// installation runs again.
func (b *Context) invalidate(ctx context.Context, marker *state.Marker, reason string) error {
	if !exists(b.Variant.LowerFiles) {
		return nil
	}
	clog.FromContext(ctx).Infof("removing %s: %s", b.Variant.LowerFiles, reason)
	if err := remove(b.Variant.LowerFiles); err != nil {
		return err
	}
	if marker.State != state.Complete {
		return nil
	}
	if err := marker.To(state.Stale); err != nil {
		return err
	}
	return state.Save(b.Variant.LowerState, marker)
}

// fetchUpstream makes sure the current base tarball and repository
// snapshot are downloaded.
func (b *Context) fetchUpstream(ctx context.Context) (base, repo *upstream.Fetched, err error) {
	ctx, span := otel.Tracer("genpack").Start(ctx, "fetchUpstream")
	defer span.End()

	// The base tarball is per architecture, the snapshot is not.
	baseDest := filepath.Join(b.WorkDir, "stage3.tar.xz")
	repoDest := filepath.Join(filepath.Dir(b.WorkDir), "portage.tar.xz")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := b.Locator.Stage3URL(gctx, b.Arch)
		if err != nil {
			return err
		}
		clog.FromContext(gctx).Infof("latest stage3 tarball: %s", url)
		base, err = b.Locator.Fetch(gctx, url, baseDest)
		return err
	})
	g.Go(func() error {
		var err error
		repo, err = b.Locator.Fetch(gctx, b.Locator.RepositoryURL(), repoDest)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return base, repo, nil
}

// setupLowerImage creates the lower image from scratch. A partially set up
// image is removed.
func (b *Context) setupLowerImage(ctx context.Context, base, repo *upstream.Fetched) (_ *state.Marker, err error) {
	ctx, span := otel.Tracer("genpack").Start(ctx, "setupLowerImage")
	defer span.End()
	log := clog.FromContext(ctx)
	v := b.Variant

	if err := remove(v.LowerFiles); err != nil {
		return nil, err
	}
	if err := state.Remove(v.LowerState); err != nil {
		return nil, err
	}
	marker := &state.Marker{State: state.Absent}

	if err := b.createImage(ctx, v.LowerImage, b.Manifest.LowerCapacity); err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		log.Errorf("setting up %s failed, removing it", v.LowerImage)
		if rerr := remove(v.LowerImage); rerr != nil {
			log.Warnf("removing %s: %v", v.LowerImage, rerr)
		}
		if rerr := state.Remove(v.LowerState); rerr != nil {
			log.Warnf("removing %s: %v", v.LowerState, rerr)
		}
	}()

	log.Infof("extracting %s", base.Path)
	if err := b.Runner.Extract(ctx, v.LowerImage, base.Path); err != nil {
		return nil, err
	}

	cfg := &container.Config{Image: v.LowerImage}
	if err := b.Runner.Exec(ctx, cfg, "mkdir", "-p", GentooRepo); err != nil {
		return nil, err
	}
	if err := b.extractRepository(ctx, repo.Path); err != nil {
		return nil, err
	}

	// https://bugs.gentoo.org/734000
	if err := b.Runner.Exec(ctx, cfg, "chown", "portage", "/var/cache/distfiles"); err != nil {
		return nil, err
	}
	if err := b.Runner.Exec(ctx, cfg, "chmod", "g+w", "/var/cache/distfiles"); err != nil {
		return nil, err
	}

	log.Infof("installing git")
	gitCfg, err := b.lowerConfig()
	if err != nil {
		return nil, err
	}
	gitCfg.OverlayDir = ""
	if err := b.Runner.Run(ctx, gitCfg.With(map[string]string{"USE": bootstrapUse}), "emerge", "-bk", "-u", "dev-vcs/git"); err != nil {
		return nil, err
	}

	// Without a marker the image is recreated, so an interrupted setup is
	// never mistaken for a usable image.
	if err := marker.To(state.Building); err != nil {
		return nil, err
	}
	marker.Base = base.Signature.String()
	marker.Repository = repo.Signature.String()
	if err := state.Save(v.LowerState, marker); err != nil {
		return nil, err
	}
	return marker, nil
}

// progressInterval is how often long transfers log how far they got.
const progressInterval = 15 * time.Second

func (b *Context) extractRepository(ctx context.Context, tarball string) error {
	f, err := os.Open(tarball)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	log := clog.FromContext(ctx)
	log.Infof("extracting %s (%s)", tarball, humanize.IBytes(uint64(fi.Size())))
	r := contextreader.New(ctx, f)
	stop := r.Report(progressInterval, func(read int64) {
		log.Infof("extracted %s of %s", humanize.IBytes(uint64(read)), humanize.IBytes(uint64(fi.Size())))
	})
	defer stop()
	return b.Runner.Exec(ctx, &container.Config{Image: b.Variant.LowerImage, Stdin: r},
		"tar", "Jxpf", "-", "-C", GentooRepo, "--strip-components=1")
}

// replaceRepository moves the current repository aside and extracts a new
// snapshot in its place.
func (b *Context) replaceRepository(ctx context.Context, tarball string) error {
	ctx, span := otel.Tracer("genpack").Start(ctx, "replaceRepository")
	defer span.End()

	script := fmt.Sprintf(`if [ -d %[1]s ]; then
	echo "Renaming existing repository"
	mv %[1]s %[1]s.old-$(date +%%Y%%m%%d-%%H%%M%%S)
fi
mkdir -p %[1]s
`, GentooRepo)
	cfg := &container.Config{Image: b.Variant.LowerImage, Stdin: strings.NewReader(script)}
	if err := b.Runner.Exec(ctx, cfg, "sh"); err != nil {
		return err
	}
	return b.extractRepository(ctx, tarball)
}

// overlaySyncScript clones or updates the genpack overlay and reports when
// its checkout last moved.
func overlaySyncScript(source string, reposConf []byte) string {
	return fmt.Sprintf(`set -e
if [ ! -d %[1]s ]; then
	echo Cloning %[2]s
	git clone %[2]s %[1]s
else
	git -C %[1]s pull
fi
if [ ! -f /%[3]s/%[4]s.conf ]; then
	mkdir -p /%[3]s
	cat > /%[3]s/%[4]s.conf <<'EOF'
%[5]sEOF
fi
if [ -f %[1]s/.git/ORIG_HEAD ]; then
	echo "%[6]s $(date -r %[1]s/.git/ORIG_HEAD +%%s.%%N)"
elif [ -f %[1]s/.git/HEAD ]; then
	echo "%[6]s $(date -r %[1]s/.git/HEAD +%%s.%%N)"
fi
`, GenpackOverlay, quoteShellArg(source), reposConfDir, genpackOverlayID, strings.TrimRight(string(reposConf), "\n")+"\n", overlayUpdateTag)
}

// syncOverlay clones or pulls the genpack overlay in the lower image and
// returns its last update time.
func (b *Context) syncOverlay(ctx context.Context) (time.Time, error) {
	ctx, span := otel.Tracer("genpack").Start(ctx, "syncOverlay")
	defer span.End()
	log := clog.FromContext(ctx)

	conf, err := reposConf(genpackOverlayID, GenpackOverlay)
	if err != nil {
		return time.Time{}, err
	}

	var out bytes.Buffer
	cfg := &container.Config{
		Image:  b.Variant.LowerImage,
		Stdin:  strings.NewReader(overlaySyncScript(b.OverlaySource, conf)),
		Stdout: &out,
	}
	if err := b.Runner.Exec(ctx, cfg, "sh"); err != nil {
		return time.Time{}, fmt.Errorf("syncing genpack overlay: %w", err)
	}

	updated, err := parseOverlayUpdate(&out, log.Infof)
	if err != nil {
		return time.Time{}, err
	}
	if !updated.IsZero() {
		log.Infof("genpack overlay last updated %s", updated.Format(time.RFC3339))
	}
	return updated, nil
}

// parseOverlayUpdate extracts the timestamp reported by the sync script.
// Other output is passed to logf.
func parseOverlayUpdate(r io.Reader, logf func(string, ...any)) (time.Time, error) {
	var updated time.Time
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		rest, ok := strings.CutPrefix(line, overlayUpdateTag)
		if !ok {
			if line != "" {
				logf("%s", line)
			}
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			return time.Time{}, &IntegrityError{Tool: "overlay sync", Detail: fmt.Sprintf("malformed timestamp %q", rest)}
		}
		whole, frac := math.Modf(secs)
		updated = time.Unix(int64(whole), int64(frac*1e9))
	}
	return updated, scanner.Err()
}
