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

// gen-jsonschema writes the JSON schema of genpack manifests.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"reflect"

	"github.com/google/renameio"
	"github.com/invopop/jsonschema"

	"chainguard.dev/genpack/pkg/config"
)

var outputFlag = flag.String("o", "", "output path")

// override is an architecture or variant block.
type override struct {
	config.Manifest
}

// document is the layout of a manifest file: the top-level keys with
// per-architecture and per-variant overrides.
type document struct {
	config.Manifest
	// Arch holds overrides keyed by machine architecture, such as x86_64.
	Arch map[string]override `json:"arch,omitempty"`
	// Variants holds overrides keyed by variant name.
	Variants map[string]override `json:"variants,omitempty"`
}

// policySchema describes config.Policy by its manifest form: a dictionary
// from package atom to null, a string or a list of strings.
func policySchema(t reflect.Type) *jsonschema.Schema {
	if t != reflect.TypeOf(config.Policy{}) {
		return nil
	}
	return &jsonschema.Schema{
		Type: "object",
		AdditionalProperties: &jsonschema.Schema{
			AnyOf: []*jsonschema.Schema{
				{Type: "null"},
				{Type: "string"},
				{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			},
		},
	}
}

func main() {
	flag.Parse()

	if *outputFlag == "" {
		log.Fatal("output path is required")
	}

	r := &jsonschema.Reflector{ExpandedStruct: true, Mapper: policySchema}
	if err := r.AddGoComments("chainguard.dev/genpack", "./pkg/config"); err != nil {
		log.Fatal(err)
	}
	schema := r.Reflect(&document{})
	schema.Title = "genpack manifest"

	b := new(bytes.Buffer)
	enc := json.NewEncoder(b)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		log.Fatal(err)
	}
	if err := renameio.WriteFile(*outputFlag, b.Bytes(), 0o644); err != nil {
		log.Fatal(err)
	}
}
