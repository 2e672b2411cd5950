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
	"errors"
	"fmt"
	"strings"
)

// ErrConfigConflict is returned when a project carries both manifest syntaxes.
var ErrConfigConflict = errors.New("both genpack.json5 and genpack.json found, remove one of them")

// ErrNoManifest is returned when a project carries no manifest at all.
var ErrNoManifest = errors.New(`neither genpack.json5 nor genpack.json found. ` +
	"`echo '{\"packages\":[\"genpack/paravirt\"]}' > genpack.json5` or so to create the minimal one")

// SchemaError reports a manifest that does not have the expected shape.
// Path names the scope the offending value was found in, for example
// ["genpack.json", "arch=x86_64"].
type SchemaError struct {
	Path    []string
	Key     string
	Problem error
}

func (e SchemaError) Error() string {
	where := strings.Join(e.Path, " > ")
	if e.Key != "" {
		if where != "" {
			where += " > "
		}
		where += e.Key
	}
	if where == "" {
		return fmt.Sprintf("manifest is invalid: %v", e.Problem)
	}
	return fmt.Sprintf("manifest is invalid at %s: %v", where, e.Problem)
}

func (e SchemaError) Unwrap() error {
	return e.Problem
}

func schemaErrorf(path []string, key, format string, args ...any) error {
	return SchemaError{Path: path, Key: key, Problem: fmt.Errorf(format, args...)}
}
