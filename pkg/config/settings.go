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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Settings are per-user defaults that do not belong in a project manifest.
type Settings struct {
	BaseURL           string  `mapstructure:"base_url"`
	Stage3Flavor      string  `mapstructure:"stage3_flavor"`
	OverlaySource     string  `mapstructure:"overlay_source"`
	WorkDir           string  `mapstructure:"work_dir"`
	CacheDir          string  `mapstructure:"cache_dir"`
	Helper            string  `mapstructure:"helper"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	cache := ""
	if home, err := os.UserHomeDir(); err == nil {
		cache = filepath.Join(home, ".cache", "genpack")
	}
	return Settings{
		BaseURL:           "http://ftp.iij.ad.jp/pub/linux/gentoo/",
		Stage3Flavor:      "systemd",
		OverlaySource:     "https://github.com/wbrxcorp/genpack-overlay.git",
		WorkDir:           "work",
		CacheDir:          cache,
		Helper:            "genpack-helper",
		RequestsPerSecond: 10,
	}
}

// LoadSettings reads settings.yaml from configDir, if present, and applies
// GENPACK_* environment overrides on top of the defaults. An empty
// configDir means $XDG_CONFIG_HOME/genpack.
func LoadSettings(configDir string) (Settings, error) {
	if configDir == "" {
		base, err := os.UserConfigDir()
		if err == nil {
			configDir = filepath.Join(base, "genpack")
		}
	}

	def := DefaultSettings()
	v := viper.New()
	v.SetDefault("base_url", def.BaseURL)
	v.SetDefault("stage3_flavor", def.Stage3Flavor)
	v.SetDefault("overlay_source", def.OverlaySource)
	v.SetDefault("work_dir", def.WorkDir)
	v.SetDefault("cache_dir", def.CacheDir)
	v.SetDefault("helper", def.Helper)
	v.SetDefault("requests_per_second", def.RequestsPerSecond)

	v.SetEnvPrefix("GENPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configDir != "" {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("reading settings: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	if !strings.HasSuffix(s.BaseURL, "/") {
		s.BaseURL += "/"
	}
	if s.CacheDir == "" {
		return Settings{}, errors.New("cache_dir is not set and no home directory is available")
	}
	if s.RequestsPerSecond <= 0 {
		return Settings{}, fmt.Errorf("requests_per_second must be positive, got %v", s.RequestsPerSecond)
	}
	return s, nil
}
