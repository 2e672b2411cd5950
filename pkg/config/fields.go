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

// Scope identifies where in a manifest a block of keys appears.
type Scope uint8

const (
	ScopeTop Scope = 1 << iota
	ScopeArch
	ScopeVariant
)

func (s Scope) String() string {
	switch s {
	case ScopeTop:
		return "top"
	case ScopeArch:
		return "arch"
	case ScopeVariant:
		return "variant"
	}
	return "unknown"
}

type kind int

const (
	kindString kind = iota
	kindBool
	kindCapacity
	// List with "-" removal markers. Additions are deduplicated.
	kindList
	// Like kindList but a bare string is accepted as a one element list.
	kindStringOrList
	// Deduplicated list without removal markers.
	kindUnion
	// Ordered scalar map: later writers replace whole entries in place and
	// new entries are appended.
	kindPolicy
	kindUsers
	kindGroups
	kindCircularDep
	kindArch
	kindVariants
	// Legacy key that is rejected in favor of its replacement.
	kindDeprecated
)

// field is one row of the merge strategy table.
type field struct {
	key         string
	kind        kind
	scopes      Scope
	replacement string

	str    func(*Manifest) *string
	flag   func(*Manifest) *bool
	num    func(*Manifest) *int
	list   func(*Manifest) *[]string
	policy func(*Manifest) *Policy
}

const (
	anyScope     = ScopeTop | ScopeArch | ScopeVariant
	topOrVariant = ScopeTop | ScopeVariant
	topScopeOnly = ScopeTop
)

// fields is applied in order. arch blocks come after the keys of their own
// scope and variants come last so that narrower scopes always win.
var fields = []field{
	{key: "name", kind: kindString, scopes: topOrVariant, str: func(m *Manifest) *string { return &m.Name }},
	{key: "profile", kind: kindString, scopes: topOrVariant, str: func(m *Manifest) *string { return &m.Profile }},
	{key: "outfile", kind: kindString, scopes: topOrVariant, str: func(m *Manifest) *string { return &m.Outfile }},
	{key: "compression", kind: kindString, scopes: topOrVariant, str: func(m *Manifest) *string { return &m.Compression }},
	{key: "default_variant", kind: kindString, scopes: topScopeOnly, str: func(m *Manifest) *string { return &m.DefaultVariant }},
	{key: "devel", kind: kindBool, scopes: topScopeOnly, flag: func(m *Manifest) *bool { return &m.Devel }},
	{key: "independent_binpkgs", kind: kindBool, scopes: topScopeOnly, flag: func(m *Manifest) *bool { return &m.IndependentBinpkgs }},
	{key: "lower-layer-capacity", kind: kindCapacity, scopes: topScopeOnly, num: func(m *Manifest) *int { return &m.LowerCapacity }},
	{key: "upper-layer-capacity", kind: kindCapacity, scopes: topScopeOnly, num: func(m *Manifest) *int { return &m.UpperCapacity }},

	{key: "packages", kind: kindList, scopes: anyScope, list: func(m *Manifest) *[]string { return &m.Packages }},
	{key: "buildtime_packages", kind: kindList, scopes: anyScope, list: func(m *Manifest) *[]string { return &m.BuildtimePackages }},
	{key: "accept_keywords", kind: kindPolicy, scopes: anyScope, policy: func(m *Manifest) *Policy { return &m.AcceptKeywords }},
	{key: "use", kind: kindPolicy, scopes: anyScope, policy: func(m *Manifest) *Policy { return &m.Use }},
	{key: "mask", kind: kindList, scopes: anyScope, list: func(m *Manifest) *[]string { return &m.Mask }},
	{key: "license", kind: kindPolicy, scopes: anyScope, policy: func(m *Manifest) *Policy { return &m.License }},
	{key: "binpkg_excludes", kind: kindStringOrList, scopes: anyScope, list: func(m *Manifest) *[]string { return &m.BinpkgExcludes }},
	{key: "users", kind: kindUsers, scopes: topOrVariant},
	{key: "groups", kind: kindGroups, scopes: topOrVariant},
	{key: "services", kind: kindList, scopes: anyScope, list: func(m *Manifest) *[]string { return &m.Services }},
	{key: "setup_commands", kind: kindUnion, scopes: topOrVariant, list: func(m *Manifest) *[]string { return &m.SetupCommands }},
	{key: "circulardep_breaker", kind: kindCircularDep, scopes: topScopeOnly},

	{key: "buildtime-packages", kind: kindDeprecated, scopes: anyScope, replacement: "buildtime_packages"},
	{key: "binpkg-exclude", kind: kindDeprecated, scopes: anyScope, replacement: "binpkg_excludes"},
	{key: "circulardep-breaker", kind: kindDeprecated, scopes: anyScope, replacement: "circulardep_breaker"},

	{key: "arch", kind: kindArch, scopes: topOrVariant},
	{key: "variants", kind: kindVariants, scopes: topScopeOnly},
}

var fieldsByKey = func() map[string]*field {
	m := make(map[string]*field, len(fields))
	for i := range fields {
		m[fields[i].key] = &fields[i]
	}
	return m
}()

// deprecatedAccountKeys maps legacy user object keys to their replacements.
var deprecatedAccountKeys = map[string]string{
	"create-home":       "create_home",
	"initial-group":     "initial_group",
	"additional-groups": "additional_groups",
	"empty-password":    "empty_password",
}
