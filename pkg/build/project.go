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
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/renameio"
)

var gitignore = []string{"/work/", "/*.squashfs", "/*.img", "/*.iso", "/*.tar.gz"}

// InitProject writes a .gitignore for build outputs into dir unless the
// project already has one.
func InitProject(ctx context.Context, dir string) error {
	path := filepath.Join(dir, ".gitignore")
	if exists(path) {
		return nil
	}
	if err := renameio.WriteFile(path, []byte(strings.Join(gitignore, "\n")+"\n"), 0o644); err != nil {
		return err
	}
	clog.FromContext(ctx).Infof("created %s", path)
	return nil
}
