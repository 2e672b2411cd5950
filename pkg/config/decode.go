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
	"errors"
	"fmt"
	"io"

	"github.com/tailscale/hujson"
)

// shape tells the decoder what a JSON object stands for, so that policy
// dictionaries can keep the order their atoms were written in.
type shape int

const (
	shapePlain shape = iota
	// A manifest block: the top level, an arch tag or a variant.
	shapeBlock
	// The value of "arch" or "variants": every member is a block.
	shapeBlockSet
	// A policy dictionary.
	shapePolicy
)

// policyObject is a decoded policy dictionary in document order.
type policyObject []policyMember

type policyMember struct {
	atom  string
	value any
}

func (s shape) child(key string) shape {
	switch s {
	case shapeBlock:
		switch f, ok := fieldsByKey[key]; {
		case !ok:
			return shapePlain
		case f.kind == kindArch, f.kind == kindVariants:
			return shapeBlockSet
		case f.kind == kindPolicy:
			return shapePolicy
		}
	case shapeBlockSet:
		return shapeBlock
	}
	return shapePlain
}

func decodeManifest(r io.Reader, relaxed bool) (map[string]any, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if relaxed {
		if b, err = hujson.Standardize(b); err != nil {
			return nil, err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	v, err := decodeValue(dec, shapeBlock)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("manifest must be a dictionary")
	}
	if tok, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = fmt.Errorf("unexpected %v after the manifest", tok)
		}
		return nil, err
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder, s shape) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		if s == shapePolicy {
			return decodePolicy(dec)
		}
		return decodeObject(dec, s)
	case json.Delim('['):
		return decodeArray(dec)
	}
	return tok, nil
}

func decodeObject(dec *json.Decoder, s shape) (map[string]any, error) {
	m := map[string]any{}
	for dec.More() {
		key, err := decodeKey(dec)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(dec, s.child(key))
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
	// closing brace
	_, err := dec.Token()
	return m, err
}

// decodePolicy keeps members in the order they first appear. A repeated
// atom takes the later value at its first position.
func decodePolicy(dec *json.Decoder) (policyObject, error) {
	var p policyObject
	for dec.More() {
		atom, err := decodeKey(dec)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(dec, shapePlain)
		if err != nil {
			return nil, err
		}
		p = upsert(p, policyMember{atom: atom, value: v}, func(m policyMember) string { return m.atom })
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	list := []any{}
	for dec.More() {
		v, err := decodeValue(dec, shapePlain)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	_, err := dec.Token()
	return list, err
}

func decodeKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("unexpected %v, expected an object key", tok)
	}
	return key, nil
}
