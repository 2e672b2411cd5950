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
package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"chainguard.dev/genpack/pkg/build"
)

func parseBuildFlags(args []string) (*BuildFlags, []string, error) {
	flags := &BuildFlags{}
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	addBuildFlags(fs, flags)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return flags, fs.Args(), nil
}

func TestBuildFlags(t *testing.T) {
	flags, rest, err := parseBuildFlags([]string{
		"--variant", "paravirt", "--devel", "--compression", "xz",
		"--independent-binpkgs", "--env-file", "build.env", "extra",
	})
	require.NoError(t, err)
	want := &BuildFlags{
		Variant:            "paravirt",
		Devel:              true,
		Compression:        "xz",
		IndependentBinpkgs: true,
		EnvFile:            "build.env",
	}
	if diff := cmp.Diff(want, flags); diff != "" {
		t.Errorf("flags (-want, +got):\n%s", diff)
	}
	require.Equal(t, []string{"extra"}, rest)

	_, _, err = parseBuildFlags([]string{"--no-such-flag"})
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	var names []string
	for _, c := range New().Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"build", "lower", "upper", "pack", "bash", "upper-bash", "upper-clean", "archive", "configure", "version"} {
		require.Contains(t, names, want)
	}
}

func TestUnknownCommand(t *testing.T) {
	cmd := New()
	cmd.SetArgs([]string{"frobnicate"})
	cmd.SetOut(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}

func TestConfigureList(t *testing.T) {
	var out bytes.Buffer
	cmd := New()
	cmd.SetArgs([]string{"configure", "--list"})
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	require.Equal(t, "hostname\ntimezone\n", out.String())
}

func TestConfigure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "boot"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "boot", "system.ini"), []byte("hostname = kiosk\n"), 0o644))

	cmd := New()
	cmd.SetArgs([]string{"configure", root})
	require.NoError(t, cmd.Execute())

	b, err := os.ReadFile(filepath.Join(root, "etc", "hostname"))
	require.NoError(t, err)
	require.Equal(t, "kiosk\n", string(b))

	cmd = New()
	cmd.SetArgs([]string{"configure"})
	require.Error(t, cmd.Execute())
}

func TestTrace(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "trace.json")
	cmd := New()
	cmd.SetArgs([]string{"configure", "--list", "--trace", trace})
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	require.FileExists(t, trace)
}

func TestUserAgentTransport(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Transport: userAgentTransport{http.DefaultTransport}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, build.UserAgent(), got)
}
