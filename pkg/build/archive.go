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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"github.com/zealic/xignore"
	"go.opentelemetry.io/otel"
)

// IgnoreFile lists project paths left out of the archive.
const IgnoreFile = ".genpackignore"

// archiveTrees are the project directories that belong in an archive.
var archiveTrees = []string{FilesDir, SavedconfigDir, PatchesDir, KernelDir, OverlayDir}

func loadIgnoreRules(dir string) ([]*xignore.Pattern, error) {
	f, err := os.Open(filepath.Join(dir, IgnoreFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	ignF := xignore.Ignorefile{}
	if err := ignF.FromReader(f); err != nil {
		return nil, err
	}

	var patterns []*xignore.Pattern
	for _, rule := range ignF.Patterns {
		pattern := xignore.NewPattern(rule)
		if err := pattern.Prepare(); err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func ignored(patterns []*xignore.Pattern, path string) bool {
	for _, pat := range patterns {
		if pat.Match(path) {
			return true
		}
	}
	return false
}

// ArchiveName is the file name of the project archive.
func (b *Context) ArchiveName() string {
	return fmt.Sprintf("genpack-%s.tar.gz", b.Source.Name)
}

// Archive writes the manifest and the project trees to a gzipped tarball in
// the project directory and returns its path.
func (b *Context) Archive(ctx context.Context) (string, error) {
	_, span := otel.Tracer("genpack").Start(ctx, "Archive")
	defer span.End()
	log := clog.FromContext(ctx)

	dest := b.projectPath(b.ArchiveName())
	if exists(dest) {
		log.Infof("%s already exists, removing it", dest)
		if err := remove(dest); err != nil {
			return "", err
		}
	}

	patterns, err := loadIgnoreRules(b.ProjectDir)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", IgnoreFile, err)
	}

	targets := []string{b.Source.File}
	for _, t := range archiveTrees {
		if isDir(b.projectPath(t)) {
			targets = append(targets, t)
		}
	}

	f, err := renameio.TempFile("", dest)
	if err != nil {
		return "", err
	}
	defer f.Cleanup()

	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, t := range targets {
		if err := b.addTree(ctx, tw, t, patterns); err != nil {
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return "", err
	}

	log.Infof("archive created: %s", dest)
	return dest, nil
}

// addTree adds the project path rel and everything below it to tw.
func (b *Context) addTree(ctx context.Context, tw *tar.Writer, rel string, patterns []*xignore.Pattern) error {
	log := clog.FromContext(ctx)

	return filepath.WalkDir(b.projectPath(rel), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name, err := filepath.Rel(b.ProjectDir, path)
		if err != nil {
			return err
		}
		name = filepath.ToSlash(name)
		if ignored(patterns, name) {
			log.Debugf("ignoring %s", name)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if fi.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		log.Debugf("adding %s", hdr.Name)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
}
