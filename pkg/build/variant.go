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
	"path/filepath"

	"chainguard.dev/genpack/pkg/staleness"
)

// Variant is a named alternative build of the same project. The zero name is
// the default variant.
type Variant struct {
	Name string

	LowerImage string
	LowerFiles string
	LowerState string
	UpperImage string
	UpperState string
}

// NewVariant derives the artifact paths of variant name below workDir.
func NewVariant(workDir, name string) Variant {
	suffix := ""
	if name != "" {
		suffix = "-" + name
	}
	path := func(layer, ext string) string {
		return filepath.Join(workDir, layer+suffix+ext)
	}
	return Variant{
		Name:       name,
		LowerImage: path("lower", ".img"),
		LowerFiles: path("lower", ".files"),
		LowerState: path("lower", ".state.yaml"),
		UpperImage: path("upper", ".img"),
		UpperState: path("upper", ".state.yaml"),
	}
}

func (v Variant) String() string {
	if v.Name == "" {
		return "default"
	}
	return v.Name
}

// Layout returns the paths the staleness oracle inspects.
func (v Variant) Layout() staleness.Layout {
	return staleness.Layout{
		LowerImage: v.LowerImage,
		LowerFiles: v.LowerFiles,
		LowerState: v.LowerState,
		UpperImage: v.UpperImage,
		UpperState: v.UpperState,
	}
}
