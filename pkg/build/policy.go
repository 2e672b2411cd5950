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
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"gopkg.in/ini.v1"

	"chainguard.dev/genpack/pkg/config"
	"chainguard.dev/genpack/pkg/container"
)

// Repository locations inside the lower image.
const (
	GentooRepo       = "/var/db/repos/gentoo"
	GenpackOverlay   = "/var/db/repos/genpack-overlay"
	LocalOverlay     = "/var/db/repos/genpack-local-overlay"
	genpackOverlayID = "genpack-overlay"
	localOverlayID   = "genpack-local-overlay"
	reposConfDir     = "etc/portage/repos.conf"
)

// file is one regular file of a tar stream, relative to the image root.
type file struct {
	Name    string
	Content []byte
}

// policyFiles renders the package sets and per-package policy of m.
func policyFiles(m *config.Manifest) []file {
	return []file{
		{"etc/portage/sets/genpack-runtime", lines(m.Packages)},
		{"etc/portage/sets/genpack-buildtime", lines(m.BuildtimePackages)},
		{"etc/portage/package.accept_keywords/genpack", []byte(m.AcceptKeywords.String())},
		{"etc/portage/package.use/genpack", []byte(m.Use.String())},
		{"etc/portage/package.license/genpack", []byte(m.License.String())},
		{"etc/portage/package.mask/genpack", lines(m.Mask)},
	}
}

// reposConf renders a repos.conf entry for the repository id at location.
func reposConf(id, location string) ([]byte, error) {
	cfg := ini.Empty()
	sec, err := cfg.NewSection(id)
	if err != nil {
		return nil, err
	}
	if _, err := sec.NewKey("location", location); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// localOverlayFiles are the metadata a project overlay needs to be usable
// as a repository. They are installed only where the project does not
// provide its own.
func localOverlayFiles() ([]file, error) {
	conf, err := reposConf(localOverlayID, LocalOverlay)
	if err != nil {
		return nil, err
	}
	root := strings.TrimPrefix(LocalOverlay, "/")
	return []file{
		{path.Join(reposConfDir, localOverlayID+".conf"), conf},
		{path.Join(root, "metadata", "layout.conf"), []byte("masters = gentoo\n")},
		{path.Join(root, "profiles", "repo_name"), []byte(localOverlayID + "\n")},
	}, nil
}

// writeTar writes files as a tar stream.
func writeTar(w io.Writer, files []file, mtime time.Time) error {
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     f.Name,
			Mode:     0o644,
			Size:     int64(len(f.Content)),
			ModTime:  mtime,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %s: %w", f.Name, err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	return tw.Close()
}

// install extracts files at the root of the lower image. With keepExisting,
// files already present in the image are left alone.
func (b *Context) install(ctx context.Context, files []file, keepExisting bool) error {
	var buf bytes.Buffer
	if err := writeTar(&buf, files, time.Now()); err != nil {
		return err
	}
	cmd := []string{"tar", "xf", "-", "-C", "/"}
	if keepExisting {
		cmd = append(cmd, "--skip-old-files")
	}
	return b.Runner.Exec(ctx, &container.Config{Image: b.Variant.LowerImage, Stdin: &buf}, cmd...)
}

// applyPolicy writes the package sets and policy files into the lower image
// and mirrors the project trees that customize package builds.
func (b *Context) applyPolicy(ctx context.Context) error {
	log := clog.FromContext(ctx)

	log.Infof("writing package sets and policy")
	if err := b.install(ctx, policyFiles(b.Manifest), false); err != nil {
		return fmt.Errorf("writing policy files: %w", err)
	}

	for _, t := range localTrees {
		if err := b.reconcile(ctx, t); err != nil {
			return err
		}
	}

	if !isDir(b.projectPath(OverlayDir)) {
		return b.Runner.Exec(ctx, &container.Config{Image: b.Variant.LowerImage},
			"rm", "-f", "/"+path.Join(reposConfDir, localOverlayID+".conf"))
	}
	files, err := localOverlayFiles()
	if err != nil {
		return err
	}
	return b.install(ctx, files, true)
}

// localTree is a project directory mirrored into the lower image. When Dest
// ends in Name the directory itself is synced into the parent of Dest, so
// --delete never reaches files packages own next to it.
type localTree struct {
	Name string
	Dest string
}

var localTrees = []localTree{
	{SavedconfigDir, "/etc/portage/savedconfig"},
	{PatchesDir, "/etc/portage/patches"},
	{KernelDir, "/etc/kernel/kernel"},
	{OverlayDir, LocalOverlay},
}

// reconcile makes t.Dest an exact copy of the project tree, or removes it
// when the project has none.
func (b *Context) reconcile(ctx context.Context, t localTree) error {
	log := clog.FromContext(ctx)

	if !isDir(b.projectPath(t.Name)) {
		log.Debugf("removing %s, the project has no %s directory", t.Dest, t.Name)
		return b.Runner.Exec(ctx, &container.Config{Image: b.Variant.LowerImage}, "rm", "-rf", t.Dest)
	}

	log.Infof("installing %s to %s", t.Name, t.Dest)
	src, dst := path.Join(container.HostDir, t.Name), path.Dir(t.Dest)
	if path.Base(t.Dest) != t.Name {
		src, dst = src+"/", t.Dest
	}
	return b.Runner.Run(ctx, &container.Config{Image: b.Variant.LowerImage},
		"rsync", "-rlptD", "--delete", src, dst)
}

func lines(items []string) []byte {
	if len(items) == 0 {
		return nil
	}
	return []byte(strings.Join(items, "\n") + "\n")
}
