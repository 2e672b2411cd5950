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
	"errors"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// SettingsFile is the settings file on the boot partition.
const SettingsFile = "system.ini"

// Settings are the boot settings. Keys written before the first section
// header belong to the default section.
type Settings struct {
	file *ini.File
}

// ParseSettings parses INI data.
func ParseSettings(data []byte) (Settings, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return Settings{}, fmt.Errorf("parsing settings: %w", err)
	}
	return Settings{file: f}, nil
}

// LoadSettings reads the settings at path. A missing file yields empty
// settings.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	return ParseSettings(data)
}

// Get returns the value of key in section. The empty section is the
// default section.
func (s Settings) Get(section, key string) (string, bool) {
	if s.file == nil {
		return "", false
	}
	sec, err := s.file.GetSection(sectionName(section))
	if err != nil || !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

// Default returns the value of key in the default section.
func (s Settings) Default(key string) (string, bool) {
	return s.Get("", key)
}

func sectionName(section string) string {
	if section == "" {
		return ini.DefaultSection
	}
	return section
}
