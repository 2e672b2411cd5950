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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultLowerCapacity is the lower image size in GiB.
	DefaultLowerCapacity = 24
	// DefaultUpperCapacity is the upper image size in GiB.
	DefaultUpperCapacity = 12
	// DefaultCompression is the squashfs compressor used when none is configured.
	DefaultCompression = "gzip"
)

// Compressions lists the accepted values of the compression key.
var Compressions = []string{"gzip", "xz", "lzo", "none"}

// Manifest is the effective build description for one architecture and
// variant, after every applicable overlay has been merged.
type Manifest struct {
	// Artifact name. Defaults to the project directory name.
	Name string `json:"name,omitempty"`
	// Sub-profile below genpack-overlay:genpack/<arch>.
	Profile string `json:"profile,omitempty"`
	// Output file name of the packed artifact.
	Outfile string `json:"outfile,omitempty"`
	// Squashfs compressor: gzip, xz, lzo or none.
	Compression string `json:"compression,omitempty"`
	// Build a development image.
	Devel bool `json:"devel,omitempty"`
	// Variant used when none is selected on the command line.
	DefaultVariant string `json:"default_variant,omitempty"`
	// Keep binary packages private to this project.
	IndependentBinpkgs bool `json:"independent_binpkgs,omitempty"`
	// Lower image capacity in GiB.
	LowerCapacity int `json:"lower-layer-capacity,omitempty"`
	// Upper image capacity in GiB.
	UpperCapacity int `json:"upper-layer-capacity,omitempty"`

	// Packages that end up in the artifact.
	Packages []string `json:"packages,omitempty"`
	// Packages needed only while building.
	BuildtimePackages []string `json:"buildtime_packages,omitempty"`
	// Keywords accepted per package atom.
	AcceptKeywords Policy `json:"accept_keywords,omitempty"`
	// USE flags per package atom.
	Use Policy `json:"use,omitempty"`
	// Accepted licenses per package atom.
	License Policy `json:"license,omitempty"`
	// Masked package atoms.
	Mask []string `json:"mask,omitempty"`
	// Packages never taken from or written to the binary package cache.
	BinpkgExcludes []string `json:"binpkg_excludes,omitempty"`
	// Accounts created in the upper layer.
	Users  []User  `json:"users,omitempty"`
	Groups []Group `json:"groups,omitempty"`
	// systemd units enabled in the upper layer.
	Services []string `json:"services,omitempty"`
	// Shell commands run in the upper layer, in order.
	SetupCommands []string `json:"setup_commands,omitempty"`
	// Packages emerged before the main emerge to break dependency cycles.
	CircularDepBreaker *CircularDepBreaker `json:"circulardep_breaker,omitempty"`

	// Names of the variants the manifest declares.
	Variants []string `json:"-"`
}

// CircularDepBreaker is emerged with its own USE flags ahead of @world.
type CircularDepBreaker struct {
	Packages []string `json:"packages,omitempty"`
	Use      string   `json:"use,omitempty"`
}

// PolicyValue is the value side of a package policy map entry. A nil value
// renders the atom alone.
type PolicyValue []string

// String renders the value the way portage configuration files expect it.
func (v PolicyValue) String() string {
	return strings.Join(v, " ")
}

// Policy maps package atoms to values, in the order the atoms were first
// written. Portage reads the rendered lines in order and later lines win.
type Policy []PolicyEntry

// PolicyEntry is one line of a package policy file.
type PolicyEntry struct {
	Atom  string
	Value PolicyValue
}

// Get returns the value of atom.
func (p Policy) Get(atom string) (PolicyValue, bool) {
	for _, e := range p {
		if e.Atom == atom {
			return e.Value, true
		}
	}
	return nil, false
}

// String renders the policy as "atom value" lines.
func (p Policy) String() string {
	var b strings.Builder
	for _, e := range p {
		b.WriteString(e.Atom)
		if len(e.Value) > 0 {
			b.WriteString(" ")
			b.WriteString(e.Value.String())
		}
		b.WriteString("\n")
	}
	return b.String()
}

// MarshalJSON writes the policy as a dictionary in atom order.
func (p Policy) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Atom)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// User describes an account created with useradd.
type User struct {
	Name             string       `json:"name" validate:"required,max=32,excludesall=:/"`
	UID              *int         `json:"uid,omitempty" validate:"omitempty,min=0"`
	Comment          string       `json:"comment,omitempty" validate:"excludes=:"`
	Home             string       `json:"home,omitempty" validate:"omitempty,startswith=/"`
	CreateHome       *bool        `json:"create_home,omitempty"`
	Shell            string       `json:"shell,omitempty" validate:"omitempty,startswith=/"`
	InitialGroup     string       `json:"initial_group,omitempty"`
	AdditionalGroups StringOrList `json:"additional_groups,omitempty"`
	EmptyPassword    bool         `json:"empty_password,omitempty"`
}

// ShouldCreateHome reports whether useradd should create the home directory.
func (u User) ShouldCreateHome() bool {
	return u.CreateHome == nil || *u.CreateHome
}

// Group describes a group created with groupadd.
type Group struct {
	Name string `json:"name" validate:"required,max=32,excludesall=:/"`
	GID  *int   `json:"gid,omitempty" validate:"omitempty,min=0"`
}

// StringOrList accepts either a single string or a list of strings.
type StringOrList []string

func (s *StringOrList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = StringOrList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("must be a string or a list of strings")
	}
	*s = many
	return nil
}
