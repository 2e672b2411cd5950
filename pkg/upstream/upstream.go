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

// Package upstream locates the Gentoo base tarball and repository snapshot
// on a mirror and downloads them only when the mirror's copy has changed.
package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/dustin/go-humanize"
	"github.com/google/renameio"
	"golang.org/x/time/rate"

	rlhttp "chainguard.dev/genpack/pkg/http"
)

// Signature identifies one published version of an upstream file.
type Signature struct {
	LastModified  string
	ETag          string
	ContentLength string
}

func signatureFromHeader(h http.Header) Signature {
	return Signature{
		LastModified:  h.Get("Last-Modified"),
		ETag:          h.Get("ETag"),
		ContentLength: h.Get("Content-Length"),
	}
}

func (s Signature) String() string {
	return fmt.Sprintf("Last-Modified:%s ETag:%s Content-Length:%s", s.LastModified, s.ETag, s.ContentLength)
}

// FreshnessCheckFailure means the mirror could not tell whether a file
// changed. Callers treat it as "changed".
type FreshnessCheckFailure struct {
	URL string
	Err error
}

func (e *FreshnessCheckFailure) Error() string {
	return fmt.Sprintf("checking freshness of %s: %v", e.URL, e.Err)
}

func (e *FreshnessCheckFailure) Unwrap() error {
	return e.Err
}

// Locator finds and fetches upstream artifacts for one mirror.
type Locator struct {
	client  *rlhttp.RLHTTPClient
	baseURL string
	flavor  string
}

// Option configures a Locator.
type Option func(*Locator) error

// WithBaseURL sets the mirror root, e.g. http://ftp.iij.ad.jp/pub/linux/gentoo/.
func WithBaseURL(u string) Option {
	return func(l *Locator) error {
		if u == "" {
			return errors.New("base URL must not be empty")
		}
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		l.baseURL = u
		return nil
	}
}

// WithFlavor selects the stage3 flavor, e.g. systemd or openrc.
func WithFlavor(flavor string) Option {
	return func(l *Locator) error {
		l.flavor = flavor
		return nil
	}
}

// WithClient sets the HTTP client.
func WithClient(c *rlhttp.RLHTTPClient) Option {
	return func(l *Locator) error {
		l.client = c
		return nil
	}
}

// New creates a Locator.
func New(opts ...Option) (*Locator, error) {
	l := &Locator{
		baseURL: "http://ftp.iij.ad.jp/pub/linux/gentoo/",
		flavor:  "systemd",
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.client == nil {
		l.client = rlhttp.NewClient(rate.NewLimiter(rate.Limit(10), 1), "")
	}
	return l, nil
}

// KeywordArch maps a machine architecture to the Gentoo keyword used for
// release directories and profile names.
func KeywordArch(arch string) (string, error) {
	dir, _, err := releaseNames(arch)
	return dir, err
}

func releaseNames(arch string) (dir, tag string, err error) {
	switch arch {
	case "x86_64":
		return "amd64", "amd64", nil
	case "i686":
		return "x86", "i686", nil
	case "aarch64":
		return "arm64", "arm64", nil
	case "riscv64":
		return "riscv", "rv64_lp64d", nil
	}
	return "", "", fmt.Errorf("unsupported architecture %q", arch)
}

// Stage3URL returns the URL of the most recent stage3 tarball for arch.
func (l *Locator) Stage3URL(ctx context.Context, arch string) (string, error) {
	dir, tag, err := releaseNames(arch)
	if err != nil {
		return "", err
	}
	autobuilds := l.baseURL + "releases/" + dir + "/autobuilds/"
	index := autobuilds + "latest-stage3-" + tag + "-" + l.flavor + ".txt"

	clog.FromContext(ctx).Debugf("reading %s", index)
	resp, err := l.client.Request(ctx, http.MethodGet, index)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	rel, err := parseLatest(resp.Body)
	if err != nil {
		return "", fmt.Errorf("no stage3 tarball (arch=%s, flavor=%s) found: %w", arch, l.flavor, err)
	}
	return autobuilds + rel, nil
}

// RepositoryURL returns the URL of the latest repository snapshot.
func (l *Locator) RepositoryURL() string {
	return l.baseURL + "snapshots/portage-latest.tar.xz"
}

var commentRE = regexp.MustCompile(`#.*$`)

// parseLatest extracts the first tarball path from the signed body of a
// latest-stage3 index.
func parseLatest(r io.Reader) (string, error) {
	const (
		preamble = iota
		header
		body
	)
	state := preamble

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch state {
		case preamble:
			if line == "-----BEGIN PGP SIGNED MESSAGE-----" {
				state = header
			}
		case header:
			if line == "" {
				state = body
			}
		case body:
			if line == "-----BEGIN PGP SIGNATURE-----" {
				return "", errors.New("signed body has no entries")
			}
			line = strings.TrimSpace(commentRE.ReplaceAllString(strings.TrimSpace(line), ""))
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			return fields[0], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("no signed body found")
}

// Signature queries url with a HEAD request.
func (l *Locator) Signature(ctx context.Context, url string) (Signature, error) {
	resp, err := l.client.Request(ctx, http.MethodHead, url)
	if err != nil {
		if ctx.Err() != nil {
			return Signature{}, ctx.Err()
		}
		return Signature{}, &FreshnessCheckFailure{URL: url, Err: err}
	}
	resp.Body.Close()
	return signatureFromHeader(resp.Header), nil
}

// Fetched describes a local copy of an upstream file.
type Fetched struct {
	URL       string
	Path      string
	Signature Signature
	// Changed is set when the file was downloaded by this call.
	Changed bool
}

// Fetch makes sure dest holds the current version of url. The signature of
// the last download is kept next to dest with a .headers suffix; the file
// is downloaded again only when the mirror reports a different signature
// or the freshness check itself fails.
func (l *Locator) Fetch(ctx context.Context, url, dest string) (*Fetched, error) {
	log := clog.FromContext(ctx)
	headersPath := dest + ".headers"

	saved := ""
	if b, err := os.ReadFile(headersPath); err == nil {
		saved = strings.TrimSpace(string(b))
	}
	_, statErr := os.Stat(dest)

	sig, err := l.Signature(ctx, url)
	var fcf *FreshnessCheckFailure
	switch {
	case errors.As(err, &fcf):
		log.Warnf("%v, assuming it changed", err)
	case err != nil:
		return nil, err
	case statErr == nil && saved == sig.String():
		log.Debugf("%s is up to date (%s)", dest, sig)
		return &Fetched{URL: url, Path: dest, Signature: sig}, nil
	default:
		log.Infof("%s has changed, downloading", url)
	}

	sig, err = l.download(ctx, url, dest)
	if err != nil {
		return nil, err
	}
	if err := renameio.WriteFile(headersPath, []byte(sig.String()), 0o644); err != nil {
		return nil, fmt.Errorf("saving signature of %s: %w", url, err)
	}
	return &Fetched{URL: url, Path: dest, Signature: sig, Changed: true}, nil
}

func (l *Locator) download(ctx context.Context, url, dest string) (Signature, error) {
	log := clog.FromContext(ctx)

	resp, err := l.client.Request(ctx, http.MethodGet, url)
	if err != nil {
		return Signature{}, err
	}
	defer resp.Body.Close()

	f, err := renameio.TempFile("", dest)
	if err != nil {
		return Signature{}, err
	}
	defer f.Cleanup()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return Signature{}, fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return Signature{}, err
	}

	log.Infof("downloaded %s to %s (%s)", url, dest, humanize.IBytes(uint64(n)))
	return signatureFromHeader(resp.Header), nil
}
