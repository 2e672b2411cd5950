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
	"io"
	"maps"
)

const (
	// HostDir is where the project directory appears inside a container.
	HostDir = "/mnt/host"
	// ExtraDir is where an extra image is mounted inside a container.
	ExtraDir = "/mnt/extra"
)

// Overlay stacks a writable image on top of the container root. Subdir is
// the directory inside Image that holds the overlay's upper tree.
type Overlay struct {
	Image  string
	Subdir string
}

// Console selects how the container's console is attached.
type Console string

const (
	ConsoleDefault     Console = ""
	ConsolePipe        Console = "pipe"
	ConsoleInteractive Console = "interactive"
)

type Config struct {
	// Image is the root image of the container.
	Image string
	// Overlay, if set, receives every write the container makes.
	Overlay *Overlay
	// ExtraImage is attached read-write below ExtraDir.
	ExtraImage string
	// Environment is passed to the container command.
	Environment map[string]string
	// BinpkgsDir is bind-mounted as the binary package cache.
	BinpkgsDir string
	// DownloadDir is bind-mounted as the distfiles cache.
	DownloadDir string
	// OverlayDir replaces the genpack overlay checkout in the image.
	OverlayDir string
	Console    Console

	// Stdin, if set, is fed to the command.
	Stdin io.Reader
	// Stdout, if set, receives the command's standard output instead of
	// the log.
	Stdout io.Writer
	// Interactive connects the command to the terminal.
	Interactive bool
}

// With returns a copy of cfg with env merged on top of its environment.
func (cfg Config) With(env map[string]string) *Config {
	merged := make(map[string]string, len(cfg.Environment)+len(env))
	maps.Copy(merged, cfg.Environment)
	maps.Copy(merged, env)
	cfg.Environment = merged
	return &cfg
}
