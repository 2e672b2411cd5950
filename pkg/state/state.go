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

// Package state records what each layer image was last built from.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"
)

// State is the lifecycle position of a layer image.
type State string

const (
	Absent   State = "absent"
	Building State = "building"
	Complete State = "complete"
	Stale    State = "stale"
)

var transitions = map[State][]State{
	Absent:   {Building},
	Building: {Building, Complete, Absent},
	Complete: {Stale, Building, Absent},
	Stale:    {Building, Absent},
}

// Marker is the persisted freshness record of one layer image.
type Marker struct {
	State State `yaml:"state"`
	// Base is the signature of the base tarball the image was created from.
	Base string `yaml:"base,omitempty"`
	// Repository is the signature of the repository snapshot in the image.
	Repository string `yaml:"repository,omitempty"`
	// Overlay is the last update time of the genpack overlay checkout.
	Overlay time.Time `yaml:"overlay,omitempty"`
	// Files is the digest of the file-ownership manifest the image was
	// assembled from.
	Files string `yaml:"files,omitempty"`
	// Updated is the time of the last transition.
	Updated time.Time `yaml:"updated"`
}

// Load reads the marker at path. A missing file yields an Absent marker.
func Load(path string) (*Marker, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Marker{State: Absent}, nil
	}
	if err != nil {
		return nil, err
	}

	m := &Marker{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if _, ok := transitions[m.State]; !ok {
		return nil, fmt.Errorf("%s: unknown state %q", path, m.State)
	}
	return m, nil
}

// Save writes the marker atomically.
func Save(path string, m *Marker) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, b, 0o644)
}

// Remove deletes the marker. A missing marker is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// To moves the marker to next, refusing transitions the lifecycle does not
// allow.
func (m *Marker) To(next State) error {
	if !canTransition(m.State, next) {
		return fmt.Errorf("invalid layer state transition %s -> %s", m.State, next)
	}
	m.State = next
	m.Updated = time.Now().UTC()
	if next == Absent {
		*m = Marker{State: Absent, Updated: m.Updated}
	}
	return nil
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Interrupted reports whether a previous build stopped half way.
func (m *Marker) Interrupted() bool {
	return m.State == Building
}
