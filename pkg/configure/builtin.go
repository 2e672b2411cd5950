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
package configure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/go-playground/validator/v10"
	"github.com/google/renameio"
)

func init() {
	Register(Hostname{})
	Register(Timezone{})
}

var validate = validator.New()

// Hostname writes /etc/hostname from the hostname setting.
type Hostname struct{}

func (Hostname) Name() string { return "hostname" }

func (Hostname) Configure(ctx context.Context, root string, settings Settings) error {
	name, ok := settings.Default("hostname")
	if !ok || name == "" {
		return nil
	}
	if err := validate.Var(name, "hostname_rfc1123"); err != nil {
		return fmt.Errorf("invalid hostname %q", name)
	}
	clog.FromContext(ctx).Infof("setting hostname to %s", name)
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(root, "etc", "hostname"), []byte(name+"\n"), 0o644)
}

// Timezone points /etc/localtime at the zoneinfo file named by the timezone
// setting.
type Timezone struct{}

func (Timezone) Name() string { return "timezone" }

func (Timezone) Configure(ctx context.Context, root string, settings Settings) error {
	tz, ok := settings.Default("timezone")
	if !ok || tz == "" {
		return nil
	}
	if filepath.IsAbs(tz) || slices.Contains(strings.Split(tz, "/"), "..") {
		return fmt.Errorf("invalid timezone %q", tz)
	}
	zone := filepath.Join("usr", "share", "zoneinfo", tz)
	fi, err := os.Stat(filepath.Join(root, zone))
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("unknown timezone %q", tz)
	}

	clog.FromContext(ctx).Infof("setting timezone to %s", tz)
	if err := os.MkdirAll(filepath.Join(root, "etc"), 0o755); err != nil {
		return err
	}
	return renameio.Symlink(filepath.Join("..", zone), filepath.Join(root, "etc", "localtime"))
}
