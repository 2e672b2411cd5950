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

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	"github.com/chainguard-dev/clog"
	"github.com/kballard/go-shellquote"
	"golang.org/x/sync/errgroup"
)

// ExternalToolError is returned when a helper process exits unsuccessfully.
type ExternalToolError struct {
	Command  []string
	ExitCode int
	Err      error
}

func (e *ExternalToolError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s: exit status %d", shellquote.Join(e.Command...), e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", shellquote.Join(e.Command...), e.Err)
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// Helper runs commands through the genpack-helper binary, which owns every
// operation needing privileges: loop-mounting images, extracting tarballs
// with ownership preserved, and booting systemd-nspawn containers.
type Helper struct {
	// Path of the genpack-helper binary.
	Path string
	// Mkfs is the filesystem formatter. Defaults to mkfs.ext4.
	Mkfs string
	// Debug asks the helper for verbose output.
	Debug bool
}

var _ Runner = (*Helper)(nil)

// NewHelper returns a Runner backed by the genpack-helper at path.
func NewHelper(path string, debug bool) *Helper {
	if path == "" {
		path = "genpack-helper"
	}
	return &Helper{Path: path, Mkfs: "mkfs.ext4", Debug: debug}
}

func (h *Helper) Name() string {
	return "genpack-helper"
}

func (h *Helper) TestUsability(ctx context.Context) error {
	if _, err := exec.LookPath(h.Path); err != nil {
		return fmt.Errorf("%s not found, install genpack-helper setuid root: %w", h.Path, err)
	}
	return h.exec(ctx, &Config{}, h.args("ping"))
}

func (h *Helper) Format(ctx context.Context, image string) error {
	return h.exec(ctx, &Config{}, []string{h.Mkfs, "-q", "-F", image})
}

func (h *Helper) Extract(ctx context.Context, image, tarball string) error {
	return h.exec(ctx, &Config{}, h.args("stage3", image, tarball))
}

func (h *Helper) Exec(ctx context.Context, cfg *Config, cmd ...string) error {
	args := append(h.args("lower", cfg.Image), cmd...)
	return h.exec(ctx, cfg, args)
}

func (h *Helper) Run(ctx context.Context, cfg *Config, cmd ...string) error {
	return h.exec(ctx, cfg, h.nspawnArgs(cfg, cmd))
}

func (h *Helper) Copy(ctx context.Context, src, dst, dstDir string, list io.Reader) error {
	args := h.args("copy", src, dst)
	if dstDir != "" {
		args = append(args, "--dst-dir="+dstDir)
	}
	return h.exec(ctx, &Config{Stdin: list}, args)
}

func (h *Helper) args(sub string, rest ...string) []string {
	args := []string{h.Path}
	if h.Debug {
		args = append(args, "-g")
	}
	args = append(args, sub)
	return append(args, rest...)
}

func (h *Helper) nspawnArgs(cfg *Config, cmd []string) []string {
	args := h.args("nspawn")

	if cfg.BinpkgsDir != "" {
		args = append(args, "--binpkgs-dir="+cfg.BinpkgsDir)
	}
	if cfg.DownloadDir != "" {
		args = append(args, "--download-dir="+cfg.DownloadDir)
	}
	if cfg.OverlayDir != "" {
		args = append(args, "--genpack-overlay-dir="+cfg.OverlayDir)
	}
	if cfg.Overlay != nil {
		args = append(args, fmt.Sprintf("--overlay-image=%s:%s", cfg.Overlay.Image, cfg.Overlay.Subdir))
	}
	if cfg.ExtraImage != "" {
		args = append(args, "--extra-image="+cfg.ExtraImage)
	}
	if cfg.Console != ConsoleDefault {
		args = append(args, "--console="+string(cfg.Console))
	}

	keys := make([]string, 0, len(cfg.Environment))
	for k := range cfg.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-E", k+"="+cfg.Environment[k])
	}

	args = append(args, cfg.Image)
	return append(args, cmd...)
}

// exec runs args to completion. Unless cfg redirects them, stdout is logged
// at info and stderr at warn level.
func (h *Helper) exec(ctx context.Context, cfg *Config, args []string) error {
	log := clog.FromContext(ctx)
	log.Debugf("running %s", shellquote.Join(args...))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) // #nosec G204
	if cfg.Interactive {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		return toolError(args, cmd.Run())
	}

	cmd.Stdin = cfg.Stdin
	pipes := map[slog.Level]io.Reader{}

	if cfg.Stdout != nil {
		cmd.Stdout = cfg.Stdout
	} else {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		pipes[slog.LevelInfo] = stdout
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	pipes[slog.LevelWarn] = stderr

	if err := cmd.Start(); err != nil {
		return toolError(args, err)
	}

	var g errgroup.Group
	for level, pipe := range pipes {
		g.Go(func() error { return monitorPipe(ctx, level, pipe) })
	}
	if err := g.Wait(); err != nil {
		log.Warnf("reading output of %s: %v", args[0], err)
	}
	return toolError(args, cmd.Wait())
}

func toolError(args []string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExternalToolError{Command: args, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return &ExternalToolError{Command: args, ExitCode: -1, Err: err}
}

// ExitCode extracts the exit status of a failed helper command, or -1.
func ExitCode(err error) int {
	var te *ExternalToolError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	return -1
}
