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
// Package configure holds the configurators applied to a produced image's
// root filesystem at boot, before init starts.
package configure

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chainguard-dev/clog"
)

// Configurator adjusts a root filesystem according to the boot settings.
type Configurator interface {
	// Name identifies the configurator. Configurators run in name order.
	Name() string
	// Configure applies the configurator to the tree at root.
	Configure(ctx context.Context, root string, settings Settings) error
}

// Registry is a set of configurators keyed by name.
type Registry struct {
	mu            sync.RWMutex
	configurators map[string]Configurator
}

func NewRegistry() *Registry {
	return &Registry{configurators: map[string]Configurator{}}
}

// Register adds c. Names must be unique within a registry.
func (r *Registry) Register(c Configurator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if name == "" {
		return errors.New("configurator has no name")
	}
	if _, ok := r.configurators[name]; ok {
		return fmt.Errorf("configurator %q is already registered", name)
	}
	r.configurators[name] = c
	return nil
}

// Registered returns the names of the registered configurators, sorted.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configurators))
	for name := range r.configurators {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RunAll applies every configurator to root in name order. A failing
// configurator does not stop the ones after it; all failures are returned
// joined.
func (r *Registry) RunAll(ctx context.Context, root string, settings Settings) error {
	log := clog.FromContext(ctx)

	var errs []error
	for _, name := range r.Registered() {
		r.mu.RLock()
		c := r.configurators[name]
		r.mu.RUnlock()

		log.Debugf("running configurator %s", name)
		if err := c.Configure(ctx, root, settings); err != nil {
			log.Errorf("configurator %s failed: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

var defaultRegistry = NewRegistry()

// Register adds c to the default registry. It panics if the name is taken.
func Register(c Configurator) {
	if err := defaultRegistry.Register(c); err != nil {
		panic(err)
	}
}

// Registered returns the names in the default registry.
func Registered() []string {
	return defaultRegistry.Registered()
}

// RunAll runs the default registry.
func RunAll(ctx context.Context, root string, settings Settings) error {
	return defaultRegistry.RunAll(ctx, root, settings)
}
