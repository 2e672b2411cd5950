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
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/renameio"

	"chainguard.dev/genpack/pkg/container"
	"chainguard.dev/genpack/pkg/util"
)

// stubs are directories and device nodes every image needs even though no
// package owns them.
var stubs = []string{
	"bin", "sbin", "lib", "usr/sbin", "run", "proc", "sys", "root", "home", "tmp", "mnt",
	"dev", "dev/console", "dev/null",
}

// parseFileList reads list-pkg-files output: one absolute path per line,
// blank lines and comments ignored. Paths are returned without the leading
// slash.
func parseFileList(r io.Reader) ([]string, error) {
	var files []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			return nil, &IntegrityError{Tool: "list-pkg-files", Detail: fmt.Sprintf("returned non-absolute path %q", line)}
		}
		files = append(files, strings.TrimLeft(line, "/"))
	}
	return files, scanner.Err()
}

// fileList merges owned files with the stubs and returns the sorted,
// duplicate-free result.
func fileList(owned []string, lib64 bool) []string {
	files := slices.Concat(owned, stubs)
	if lib64 {
		files = append(files, "lib64")
	}
	files = slices.DeleteFunc(files, func(f string) bool { return f == "" })
	return util.Dedup(files)
}

func renderFileList(files []string) []byte {
	var buf bytes.Buffer
	for _, f := range files {
		buf.WriteString(f)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// writeFileList queries the lower image for every file owned by an
// installed package and persists the file-ownership manifest.
func (b *Context) writeFileList(ctx context.Context) error {
	log := clog.FromContext(ctx)
	image := b.Variant.LowerImage

	lib64 := true
	if err := b.Runner.Exec(ctx, &container.Config{Image: image}, "test", "-d", "/lib64"); err != nil {
		if container.ExitCode(err) != 1 {
			return err
		}
		lib64 = false
	}

	var out bytes.Buffer
	cfg := &container.Config{Image: image, OverlayDir: b.OverlayOverride, Stdout: &out}
	if err := b.Runner.Run(ctx, cfg, "list-pkg-files"); err != nil {
		return err
	}
	owned, err := parseFileList(&out)
	if err != nil {
		return err
	}

	files := fileList(owned, lib64)
	log.Infof("%d files are owned by installed packages", len(files))
	return renameio.WriteFile(b.Variant.LowerFiles, renderFileList(files), 0o644)
}
