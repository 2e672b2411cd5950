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
	"errors"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/kballard/go-shellquote"
	"golang.org/x/term"

	"chainguard.dev/genpack/pkg/container"
)

// ErrNoTerminal is returned when an interactive shell is requested without
// a terminal on stdin.
var ErrNoTerminal = errors.New("an interactive shell needs a terminal")

// stdinIsTerminal reports whether an interactive shell can be attached.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// quoteShellArg quotes s for embedding in a /bin/sh script.
func quoteShellArg(s string) string {
	return shellquote.Join(s)
}

// Bash opens an interactive shell in the lower image. The binary package
// index is repaired afterwards, since packages are often built by hand.
func (b *Context) Bash(ctx context.Context) error {
	log := clog.FromContext(ctx)

	if !exists(b.Variant.LowerImage) {
		return &PreconditionError{Missing: b.Variant.LowerImage, Stage: "lower"}
	}
	cfg, err := b.lowerConfig()
	if err != nil {
		return err
	}
	if err := b.shell(ctx, cfg); err != nil {
		return err
	}

	log.Infof("fixing the binary package index")
	return b.Runner.Run(ctx, cfg, "emaint", "binhost", "--fix")
}

// UpperBash opens an interactive shell with the upper image overlaid on the
// lower one.
func (b *Context) UpperBash(ctx context.Context) error {
	if err := b.requireUpper(); err != nil {
		return err
	}
	cfg, err := b.upperConfig()
	if err != nil {
		return err
	}
	return b.shell(ctx, cfg)
}

// UpperClean discards the upper image so that the next build assembles it
// from scratch.
func (b *Context) UpperClean(ctx context.Context) error {
	log := clog.FromContext(ctx)
	if !exists(b.Variant.UpperImage) {
		log.Infof("%s does not exist", b.Variant.UpperImage)
	} else {
		log.Infof("removing %s", b.Variant.UpperImage)
	}
	return b.removeUpper()
}

// shell runs bash attached to the terminal. The images are first attached
// for a trivial command, so that a helper failure is reported as such and
// the exit status of the shell itself, which is the status of the last
// command typed, is not a failure.
func (b *Context) shell(ctx context.Context, cfg *container.Config) error {
	log := clog.FromContext(ctx)

	if !stdinIsTerminal() {
		return ErrNoTerminal
	}
	if err := b.Runner.Run(ctx, cfg, "true"); err != nil {
		return fmt.Errorf("attaching %s: %w", cfg.Image, err)
	}

	sh := *cfg
	sh.Interactive = true
	err := b.Runner.Run(ctx, &sh, "bash")
	if code := container.ExitCode(err); code > 0 {
		log.Warnf("shell exited with status %d", code)
		return nil
	}
	return err
}
