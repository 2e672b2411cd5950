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
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/chainguard-dev/clog/slogtest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// doc decodes a JSON literal the same way manifests are decoded.
func doc(t *testing.T, s string) map[string]any {
	t.Helper()
	m, err := decodeManifest(strings.NewReader(s), true)
	require.NoError(t, err)
	return m
}

func TestMergeListRemoval(t *testing.T) {
	ctx := slogtest.Context(t)
	m := &Manifest{}
	require.NoError(t, Merge(ctx, m, doc(t, `{"packages":["a","b"]}`), []string{"genpack.json"}, ScopeTop, "x86_64", ""))
	require.NoError(t, Merge(ctx, m, doc(t, `{"packages":["-a","c"]}`), []string{"genpack.json", "variant=v"}, ScopeVariant, "x86_64", ""))

	if diff := cmp.Diff([]string{"b", "c"}, m.Packages); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeIdempotent(t *testing.T) {
	ctx := slogtest.Context(t)
	branch := `{
		"packages": ["a", "-b", "c"],
		"mask": ["x"],
		"use": {"dev-lang/go": ["-cgo"], "sys-apps/foo": null},
		"users": ["alice", {"name": "bob", "uid": 1001}],
		"services": ["sshd.service"],
		"binpkg_excludes": "sys-kernel/gentoo-kernel"
	}`

	once := &Manifest{}
	require.NoError(t, Merge(ctx, once, doc(t, branch), nil, ScopeTop, "x86_64", ""))

	twice := &Manifest{}
	require.NoError(t, Merge(ctx, twice, doc(t, branch), nil, ScopeTop, "x86_64", ""))
	require.NoError(t, Merge(ctx, twice, doc(t, branch), nil, ScopeTop, "x86_64", ""))

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("merging twice changed the result (-once +twice):\n%s", diff)
	}
}

func TestMergeRemovalCommutesWithUnrelatedAdditions(t *testing.T) {
	ctx := slogtest.Context(t)
	base := `{"packages": ["a", "b"]}`

	removeFirst := &Manifest{}
	require.NoError(t, Merge(ctx, removeFirst, doc(t, base), nil, ScopeTop, "x86_64", ""))
	require.NoError(t, Merge(ctx, removeFirst, doc(t, `{"packages": ["-a"]}`), nil, ScopeTop, "x86_64", ""))
	require.NoError(t, Merge(ctx, removeFirst, doc(t, `{"packages": ["c"]}`), nil, ScopeTop, "x86_64", ""))

	addFirst := &Manifest{}
	require.NoError(t, Merge(ctx, addFirst, doc(t, base), nil, ScopeTop, "x86_64", ""))
	require.NoError(t, Merge(ctx, addFirst, doc(t, `{"packages": ["c"]}`), nil, ScopeTop, "x86_64", ""))
	require.NoError(t, Merge(ctx, addFirst, doc(t, `{"packages": ["-a"]}`), nil, ScopeTop, "x86_64", ""))

	require.Equal(t, removeFirst.Packages, addFirst.Packages)
	require.Equal(t, []string{"b", "c"}, addFirst.Packages)
}

func TestMergeVariantWinsOverArch(t *testing.T) {
	ctx := slogtest.Context(t)
	manifest := doc(t, `{
		"packages": ["base"],
		"arch": {
			"x86_64|aarch64": {
				"packages": ["arch-only", "-base"],
				"use": {"app/foo": "arch"},
				"license": {"app/foo": "ARCH"},
				"services": ["arch.service"]
			},
			"riscv64": {"packages": ["riscv-only"]}
		},
		"variants": {
			"gui": {
				"packages": ["-arch-only", "base"],
				"use": {"app/foo": "variant"},
				"license": {"app/foo": null},
				"services": ["-arch.service"]
			}
		}
	}`)

	m := &Manifest{}
	require.NoError(t, Merge(ctx, m, manifest, []string{"genpack.json"}, ScopeTop, "x86_64", "gui"))

	require.Equal(t, []string{"base"}, m.Packages)
	require.Equal(t, Policy{{Atom: "app/foo", Value: PolicyValue{"variant"}}}, m.Use)
	require.Equal(t, Policy{{Atom: "app/foo"}}, m.License)
	require.Empty(t, m.Services)
	require.Equal(t, []string{"gui"}, m.Variants)
}

func TestMergeVariantNestedArch(t *testing.T) {
	ctx := slogtest.Context(t)
	manifest := doc(t, `{
		"variants": {
			"server": {
				"packages": ["a"],
				"arch": {"aarch64": {"packages": ["-a", "b"]}}
			}
		}
	}`)

	m := &Manifest{}
	require.NoError(t, Merge(ctx, m, manifest, []string{"genpack.json"}, ScopeTop, "aarch64", "server"))
	require.Equal(t, []string{"b"}, m.Packages)

	m = &Manifest{}
	require.NoError(t, Merge(ctx, m, manifest, []string{"genpack.json"}, ScopeTop, "x86_64", "server"))
	require.Equal(t, []string{"a"}, m.Packages)
}

func TestMergeUsersReplacedByName(t *testing.T) {
	ctx := slogtest.Context(t)
	manifest := doc(t, `{
		"users": ["alice", {"name": "bob", "shell": "/bin/sh"}],
		"groups": [{"name": "wheel", "gid": 10}],
		"variants": {"v": {"users": [{"name": "bob", "shell": "/bin/bash", "additional_groups": "wheel"}]}}
	}`)

	m := &Manifest{}
	require.NoError(t, Merge(ctx, m, manifest, []string{"genpack.json"}, ScopeTop, "x86_64", "v"))

	require.Len(t, m.Users, 2)
	require.Equal(t, "alice", m.Users[0].Name)
	require.True(t, m.Users[0].ShouldCreateHome())
	require.Equal(t, "/bin/bash", m.Users[1].Shell)
	require.Equal(t, StringOrList{"wheel"}, m.Users[1].AdditionalGroups)
	require.Equal(t, 10, *m.Groups[0].GID)
}

func TestMergeErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		variant string
		wantErr string
	}{{
		name:    "deprecated buildtime-packages",
		doc:     `{"buildtime-packages": ["a"]}`,
		wantErr: "manifest is invalid at genpack.json > buildtime-packages: deprecated, use buildtime_packages instead",
	}, {
		name:    "deprecated binpkg-exclude in arch",
		doc:     `{"arch": {"x86_64": {"binpkg-exclude": "a"}}}`,
		wantErr: "manifest is invalid at genpack.json > arch=x86_64 > binpkg-exclude: deprecated, use binpkg_excludes instead",
	}, {
		name:    "deprecated circulardep-breaker",
		doc:     `{"circulardep-breaker": {"packages": ["a"]}}`,
		wantErr: "deprecated, use circulardep_breaker instead",
	}, {
		name:    "profile not allowed in arch scope",
		doc:     `{"arch": {"x86_64": {"profile": "gnome"}}}`,
		wantErr: "manifest is invalid at genpack.json > arch=x86_64 > profile: not allowed in arch scope",
	}, {
		name:    "packages must be a list",
		doc:     `{"variants": {"v": {"packages": "a"}}}`,
		variant: "v",
		wantErr: "manifest is invalid at genpack.json > variant=v > packages: must be a list",
	}, {
		name:    "devel must be a boolean",
		doc:     `{"devel": "yes"}`,
		wantErr: "devel: must be a boolean",
	}, {
		name:    "use must be a dictionary",
		doc:     `{"use": ["a"]}`,
		wantErr: "use: must be a dictionary",
	}, {
		name:    "legacy user key",
		doc:     `{"users": [{"name": "alice", "create-home": false}]}`,
		wantErr: "users[0].create-home: deprecated, use create_home instead",
	}, {
		name:    "user without name",
		doc:     `{"users": [{"uid": 1000}]}`,
		wantErr: "users[0]: must have a name",
	}, {
		name:    "capacity must be positive",
		doc:     `{"lower-layer-capacity": 0}`,
		wantErr: "lower-layer-capacity: must be a positive integer",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := slogtest.Context(t)
			err := Merge(ctx, &Manifest{}, doc(t, tt.doc), []string{"genpack.json"}, ScopeTop, "x86_64", tt.variant)
			require.Error(t, err)
			require.ErrorContains(t, err, tt.wantErr)

			var se SchemaError
			require.True(t, errors.As(err, &se), "want SchemaError, got %T", err)
		})
	}
}

func TestPolicyString(t *testing.T) {
	got := Policy{
		{Atom: "sys-kernel/linux-firmware", Value: PolicyValue{"linux-fw-redistributable", "no-source-code"}},
		{Atom: "app-misc/foo"},
		{Atom: "dev-lang/go", Value: PolicyValue{"~amd64"}},
	}.String()
	want := "sys-kernel/linux-firmware linux-fw-redistributable no-source-code\n" +
		"app-misc/foo\n" +
		"dev-lang/go ~amd64\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Policy.String mismatch (-want +got):\n%s", diff)
	}
}

func TestMergePolicyKeepsManifestOrder(t *testing.T) {
	ctx := slogtest.Context(t)
	manifest := doc(t, `{
		"use": {
			"dev-lang/python": "-sqlite",
			">=dev-lang/python-3.12": "sqlite",
			"app-misc/foo": "x",
		},
		"variants": {
			"gui": {
				"use": {"zz-new/atom": "y", "dev-lang/python": "tk"},
			},
		},
	}`)

	m := &Manifest{}
	require.NoError(t, Merge(ctx, m, manifest, []string{"genpack.json5"}, ScopeTop, "x86_64", "gui"))

	want := "dev-lang/python tk\n" +
		">=dev-lang/python-3.12 sqlite\n" +
		"app-misc/foo x\n" +
		"zz-new/atom y\n"
	if diff := cmp.Diff(want, m.Use.String()); diff != "" {
		t.Errorf("package.use mismatch (-want +got):\n%s", diff)
	}

	v, ok := m.Use.Get(">=dev-lang/python-3.12")
	require.True(t, ok)
	require.Equal(t, PolicyValue{"sqlite"}, v)
}

func TestDecodeRepeatedAtom(t *testing.T) {
	d := doc(t, `{"license": {"a/b": "X", "c/d": "Y", "a/b": "Z"}}`)
	require.Equal(t, policyObject{
		{atom: "a/b", value: "Z"},
		{atom: "c/d", value: "Y"},
	}, d["license"])
}

func TestDecodeManifestShapes(t *testing.T) {
	d := doc(t, `{
		"arch": {"x86_64": {"use": {"b": "1", "a": "2"}}},
		"circulardep_breaker": {"packages": ["p"], "use": "-X"},
		"users": [{"name": "u"}],
	}`)

	arch := d["arch"].(map[string]any)["x86_64"].(map[string]any)
	require.Equal(t, policyObject{{atom: "b", value: "1"}, {atom: "a", value: "2"}}, arch["use"])
	require.Equal(t, map[string]any{"packages": []any{"p"}, "use": "-X"}, d["circulardep_breaker"])

	_, err := decodeManifest(strings.NewReader(`[]`), false)
	require.ErrorContains(t, err, "must be a dictionary")
	_, err = decodeManifest(strings.NewReader(`{} {}`), false)
	require.Error(t, err)
}

func TestPolicyMarshalJSON(t *testing.T) {
	b, err := json.Marshal(Manifest{Use: Policy{{Atom: "z/z", Value: PolicyValue{"a"}}, {Atom: "a/a"}}})
	require.NoError(t, err)
	require.JSONEq(t, `{"use": {"z/z": ["a"], "a/a": null}}`, string(b))
	require.Contains(t, string(b), `"z/z":["a"],"a/a":null`)
}
