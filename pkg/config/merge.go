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
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/chainguard-dev/clog"
)

// Merge applies one manifest block onto trunk. path names the block for
// error messages, scope decides which keys the block may carry, and arch
// and variant select the nested overlays that apply to this build.
//
// Keys are applied in table order, so a block's own keys are merged before
// its arch overlays, which in turn are merged before the selected variant.
func Merge(ctx context.Context, trunk *Manifest, branch map[string]any, path []string, scope Scope, arch, variant string) error {
	log := clog.FromContext(ctx)

	for _, key := range sortedKeys(branch) {
		if _, ok := fieldsByKey[key]; !ok {
			log.Warnf("ignoring unknown key %q at %s", key, strings.Join(path, " > "))
		}
	}

	for i := range fields {
		f := &fields[i]
		raw, ok := branch[f.key]
		if !ok {
			continue
		}
		if f.kind == kindDeprecated {
			return schemaErrorf(path, f.key, "deprecated, use %s instead", f.replacement)
		}
		if f.scopes&scope == 0 {
			return schemaErrorf(path, f.key, "not allowed in %s scope", scope)
		}
		if err := f.apply(ctx, trunk, raw, path, arch, variant); err != nil {
			return err
		}
	}
	return nil
}

func (f *field) apply(ctx context.Context, trunk *Manifest, raw any, path []string, arch, variant string) error {
	switch f.kind {
	case kindString:
		s, ok := raw.(string)
		if !ok {
			return schemaErrorf(path, f.key, "must be a string")
		}
		*f.str(trunk) = s

	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return schemaErrorf(path, f.key, "must be a boolean")
		}
		*f.flag(trunk) = b

	case kindCapacity:
		n, err := toInt(raw)
		if err != nil || n <= 0 {
			return schemaErrorf(path, f.key, "must be a positive integer")
		}
		*f.num(trunk) = n

	case kindList, kindStringOrList, kindUnion:
		items, err := toStrings(raw, f.kind == kindStringOrList)
		if err != nil {
			return SchemaError{Path: path, Key: f.key, Problem: err}
		}
		dst := f.list(trunk)
		*dst = mergeList(*dst, items, f.kind != kindUnion)

	case kindPolicy:
		members, ok := policyMembers(raw)
		if !ok {
			return schemaErrorf(path, f.key, "must be a dictionary")
		}
		dst := f.policy(trunk)
		for _, m := range members {
			v, err := toPolicyValue(m.value)
			if err != nil {
				return SchemaError{Path: path, Key: f.key + "." + m.atom, Problem: err}
			}
			*dst = upsert(*dst, PolicyEntry{Atom: m.atom, Value: v}, func(e PolicyEntry) string { return e.Atom })
		}

	case kindUsers:
		users, err := decodeAccounts[User](raw, path, f.key)
		if err != nil {
			return err
		}
		for _, u := range users {
			trunk.Users = upsert(trunk.Users, u, func(x User) string { return x.Name })
		}

	case kindGroups:
		groups, err := decodeAccounts[Group](raw, path, f.key)
		if err != nil {
			return err
		}
		for _, g := range groups {
			trunk.Groups = upsert(trunk.Groups, g, func(x Group) string { return x.Name })
		}

	case kindCircularDep:
		var cdb CircularDepBreaker
		if err := decodeStrict(raw, &cdb); err != nil {
			return SchemaError{Path: path, Key: f.key, Problem: err}
		}
		trunk.CircularDepBreaker = &cdb

	case kindArch:
		tags, ok := raw.(map[string]any)
		if !ok {
			return schemaErrorf(path, f.key, "must be a dictionary")
		}
		for _, tag := range sortedKeys(tags) {
			if !slices.Contains(strings.Split(tag, "|"), arch) {
				continue
			}
			sub, ok := tags[tag].(map[string]any)
			if !ok {
				return schemaErrorf(path, "arch="+tag, "must be a dictionary")
			}
			if err := Merge(ctx, trunk, sub, appendPath(path, "arch="+tag), ScopeArch, arch, variant); err != nil {
				return err
			}
		}

	case kindVariants:
		variants, ok := raw.(map[string]any)
		if !ok {
			return schemaErrorf(path, f.key, "must be a dictionary")
		}
		trunk.Variants = sortedKeys(variants)
		if variant == "" {
			return nil
		}
		v, ok := variants[variant]
		if !ok {
			return nil
		}
		sub, ok := v.(map[string]any)
		if !ok {
			return schemaErrorf(path, "variant="+variant, "must be a dictionary")
		}
		return Merge(ctx, trunk, sub, appendPath(path, "variant="+variant), ScopeVariant, arch, variant)
	}
	return nil
}

// mergeList appends items that are not already present. With removal
// enabled, an item with a leading "-" removes the named entry instead.
func mergeList(dst, items []string, removal bool) []string {
	for _, item := range items {
		if removal && strings.HasPrefix(item, "-") {
			name := item[1:]
			dst = slices.DeleteFunc(dst, func(s string) bool { return s == name })
			continue
		}
		if !slices.Contains(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}

// upsert replaces the entry with the same key in place, or appends it.
func upsert[T any](dst []T, v T, key func(T) string) []T {
	k := key(v)
	if i := slices.IndexFunc(dst, func(x T) bool { return key(x) == k }); i >= 0 {
		dst[i] = v
		return dst
	}
	return append(dst, v)
}

// policyMembers returns the entries of a policy dictionary. Dictionaries
// built without the manifest decoder carry no order and are taken sorted.
func policyMembers(raw any) (policyObject, bool) {
	switch v := raw.(type) {
	case policyObject:
		return v, true
	case map[string]any:
		out := make(policyObject, 0, len(v))
		for _, k := range sortedKeys(v) {
			out = append(out, policyMember{atom: k, value: v[k]})
		}
		return out, true
	}
	return nil, false
}

func toStrings(raw any, acceptString bool) ([]string, error) {
	if s, ok := raw.(string); ok && acceptString {
		return []string{s}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		if acceptString {
			return nil, fmt.Errorf("must be a string or a list of strings")
		}
		return nil, fmt.Errorf("must be a list")
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("item %d must be a non-empty string", i)
		}
		out = append(out, s)
	}
	return out, nil
}

func toPolicyValue(raw any) (PolicyValue, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return PolicyValue{v}, nil
	case bool:
		return PolicyValue{strconv.FormatBool(v)}, nil
	case json.Number:
		return PolicyValue{v.String()}, nil
	case []any:
		out := make(PolicyValue, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d must be a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("must be null, a string or a list of strings")
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, err
		}
		return n, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("%v is not a number", raw)
}

// decodeAccounts accepts a list whose entries are either a bare name or an
// object describing the account.
func decodeAccounts[T User | Group](raw any, path []string, key string) ([]T, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, schemaErrorf(path, key, "must be a list")
	}
	out := make([]T, 0, len(list))
	for i, item := range list {
		elem := fmt.Sprintf("%s[%d]", key, i)
		var v T
		switch item := item.(type) {
		case string:
			item = strings.TrimSpace(item)
			if item == "" {
				return nil, schemaErrorf(path, elem, "name must not be empty")
			}
			if err := decodeStrict(map[string]any{"name": item}, &v); err != nil {
				return nil, SchemaError{Path: path, Key: elem, Problem: err}
			}
		case map[string]any:
			for _, k := range sortedKeys(item) {
				if repl, ok := deprecatedAccountKeys[k]; ok {
					return nil, schemaErrorf(path, elem+"."+k, "deprecated, use %s instead", repl)
				}
			}
			if _, ok := item["name"]; !ok {
				return nil, schemaErrorf(path, elem, "must have a name")
			}
			if err := decodeStrict(item, &v); err != nil {
				return nil, SchemaError{Path: path, Key: elem, Problem: err}
			}
		default:
			return nil, schemaErrorf(path, elem, "must be a string or a dictionary")
		}
		out = append(out, v)
	}
	return out, nil
}

// decodeStrict converts a generic JSON value into a typed one, rejecting
// unknown fields.
func decodeStrict(raw any, into any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

func appendPath(path []string, elem string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, path...)
	return append(out, elem)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
