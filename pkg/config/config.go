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

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/joho/godotenv"
)

const (
	// RelaxedManifest allows comments and trailing commas.
	RelaxedManifest = "genpack.json5"
	// StrictManifest is plain JSON.
	StrictManifest = "genpack.json"
)

// Source is a loaded, not yet merged, project manifest.
type Source struct {
	// Dir is the project directory.
	Dir string
	// File is the manifest file name relative to Dir.
	File string
	// ModTime is the manifest modification time.
	ModTime time.Time
	// Name is the artifact name, defaulted from Dir when the manifest has none.
	Name string
	// Commit is the git HEAD of Dir, if it is a repository.
	Commit string
	// Environment holds variables passed to every container invocation.
	Environment map[string]string

	doc map[string]any
}

type loadOptions struct {
	filesystem  fs.FS
	envFilePath string
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

func (o *loadOptions) include(opts ...LoadOption) {
	for _, fn := range opts {
		fn(o)
	}
}

// WithFS sets the fs.FS the manifest is read from. Defaults to os.DirFS of
// the project directory.
func WithFS(filesystem fs.FS) LoadOption {
	return func(o *loadOptions) {
		o.filesystem = filesystem
	}
}

// WithEnvFile sets an environment file whose variables are passed to every
// container invocation.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.envFilePath = path
	}
}

// Load finds and parses the manifest in dir.
func Load(ctx context.Context, dir string, opts ...LoadOption) (*Source, error) {
	log := clog.FromContext(ctx)

	options := &loadOptions{}
	options.include(opts...)
	if options.filesystem == nil {
		options.filesystem = os.DirFS(dir)
	}

	file, err := findManifest(options.filesystem)
	if err != nil {
		return nil, err
	}

	fi, err := fs.Stat(options.filesystem, file)
	if err != nil {
		return nil, err
	}

	f, err := options.filesystem.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := decodeManifest(f, file == RelaxedManifest)
	if err != nil {
		return nil, SchemaError{Path: []string{file}, Problem: err}
	}

	src := &Source{
		Dir:         dir,
		File:        file,
		ModTime:     fi.ModTime(),
		Commit:      detectCommit(ctx, dir),
		Environment: map[string]string{},
		doc:         doc,
	}

	switch name := doc["name"].(type) {
	case string:
		src.Name = name
	case nil:
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		src.Name = filepath.Base(abs)
		log.Warnf("'name' not found in %s, using default: %s", file, src.Name)
	default:
		return nil, schemaErrorf([]string{file}, "name", "must be a string")
	}

	if options.envFilePath != "" {
		env, err := godotenv.Read(options.envFilePath)
		if err != nil {
			return nil, fmt.Errorf("loading environment file: %w", err)
		}
		src.Environment = env
	}

	return src, nil
}

func findManifest(fsys fs.FS) (string, error) {
	var found []string
	for _, name := range []string{RelaxedManifest, StrictManifest} {
		fi, err := fs.Stat(fsys, name)
		switch {
		case err == nil && !fi.IsDir():
			found = append(found, name)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
	}
	switch len(found) {
	case 0:
		return "", ErrNoManifest
	case 1:
		return found[0], nil
	}
	return "", ErrConfigConflict
}

// Variants lists the variant names declared by the manifest.
func (s *Source) Variants() []string {
	v, _ := s.doc["variants"].(map[string]any)
	return sortedKeys(v)
}

// DefaultVariant returns the variant used when none is requested.
func (s *Source) DefaultVariant() string {
	v, _ := s.doc["default_variant"].(string)
	return v
}

// SelectVariant resolves the requested variant name against the manifest.
// An empty request selects the default variant, which may itself be empty.
func (s *Source) SelectVariant(requested string) (string, error) {
	name := requested
	if name == "" {
		name = s.DefaultVariant()
	}
	if name == "" {
		return "", nil
	}
	if available := s.Variants(); !slices.Contains(available, name) {
		return "", schemaErrorf([]string{s.File}, "variants", "variant %q is not available, available variants: %v", name, available)
	}
	return name, nil
}

func detectCommit(ctx context.Context, dirPath string) string {
	log := clog.FromContext(ctx)

	repo, err := git.PlainOpen(dirPath)
	if err != nil {
		log.Debugf("unable to detect git commit for project: %v", err)
		return ""
	}

	head, err := repo.Head()
	if err != nil {
		return ""
	}

	return head.Hash().String()
}
