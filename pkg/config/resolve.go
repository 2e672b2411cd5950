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
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"mvdan.cc/sh/v3/syntax"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Resolve merges the manifest for arch and variant and validates the
// result. variant must already have been checked with SelectVariant.
func Resolve(ctx context.Context, src *Source, arch, variant string) (*Manifest, error) {
	m := &Manifest{}
	if err := Merge(ctx, m, src.doc, []string{src.File}, ScopeTop, arch, variant); err != nil {
		return nil, err
	}

	if variant != "" && !slices.Contains(m.Variants, variant) {
		return nil, schemaErrorf([]string{src.File}, "variants", "variant %q is not available, available variants: %v", variant, m.Variants)
	}

	if m.Name == "" {
		m.Name = src.Name
	}
	if m.Compression == "" {
		m.Compression = DefaultCompression
	}
	if m.LowerCapacity == 0 {
		m.LowerCapacity = DefaultLowerCapacity
	}
	if m.UpperCapacity == 0 {
		m.UpperCapacity = DefaultUpperCapacity
	}

	if err := m.validate(src.File); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) validate(file string) error {
	path := []string{file}

	if !slices.Contains(Compressions, m.Compression) {
		return schemaErrorf(path, "compression", "unknown compression type %q, must be one of %v", m.Compression, Compressions)
	}
	if strings.ContainsRune(m.Outfile, '/') {
		return schemaErrorf(path, "outfile", "must be a file name, not a path")
	}

	for i, u := range m.Users {
		if err := validate.Struct(u); err != nil {
			return SchemaError{Path: path, Key: fmt.Sprintf("users[%d]", i), Problem: err}
		}
	}
	for i, g := range m.Groups {
		if err := validate.Struct(g); err != nil {
			return SchemaError{Path: path, Key: fmt.Sprintf("groups[%d]", i), Problem: err}
		}
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	for i, cmd := range m.SetupCommands {
		if _, err := parser.Parse(strings.NewReader(cmd), ""); err != nil {
			return SchemaError{Path: path, Key: fmt.Sprintf("setup_commands[%d]", i), Problem: err}
		}
	}

	if cdb := m.CircularDepBreaker; cdb != nil {
		for _, p := range cdb.Packages {
			if strings.HasPrefix(p, "-") {
				return schemaErrorf(path, "circulardep_breaker", "package %q must not start with '-'", p)
			}
		}
	}
	return nil
}
