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

package build

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/genpack/pkg/config"
	"chainguard.dev/genpack/pkg/container"
)

// accountExists is the exit status of groupadd and useradd when the name
// is already taken.
const accountExists = 9

func groupaddArgs(g config.Group) []string {
	cmd := []string{"groupadd"}
	if g.GID != nil {
		cmd = append(cmd, "-g", strconv.Itoa(*g.GID))
	}
	return append(cmd, g.Name)
}

func useraddArgs(u config.User) []string {
	cmd := []string{"useradd"}
	if u.UID != nil {
		cmd = append(cmd, "-u", strconv.Itoa(*u.UID))
	}
	if u.Comment != "" {
		cmd = append(cmd, "-c", u.Comment)
	}
	if u.Home != "" {
		cmd = append(cmd, "-d", u.Home)
	}
	if u.InitialGroup != "" {
		cmd = append(cmd, "-g", u.InitialGroup)
	}
	if len(u.AdditionalGroups) > 0 {
		cmd = append(cmd, "-G", strings.Join(u.AdditionalGroups, ","))
	}
	if u.Shell != "" {
		cmd = append(cmd, "-s", u.Shell)
	}
	if u.ShouldCreateHome() {
		cmd = append(cmd, "-m")
	}
	if u.EmptyPassword {
		cmd = append(cmd, "-p", "")
	}
	return append(cmd, u.Name)
}

// createAccounts adds the declared groups, then the declared users. An
// account that already exists is left as it is.
func (b *Context) createAccounts(ctx context.Context, cfg *container.Config) error {
	log := clog.FromContext(ctx)

	for _, g := range b.Manifest.Groups {
		log.Infof("creating group %s", g.Name)
		if err := b.addAccount(ctx, cfg, groupaddArgs(g)); err != nil {
			return fmt.Errorf("creating group %s: %w", g.Name, err)
		}
	}
	for _, u := range b.Manifest.Users {
		log.Infof("creating user %s", u.Name)
		if err := b.addAccount(ctx, cfg, useraddArgs(u)); err != nil {
			return fmt.Errorf("creating user %s: %w", u.Name, err)
		}
	}
	return nil
}

func (b *Context) addAccount(ctx context.Context, cfg *container.Config, cmd []string) error {
	err := b.Runner.Run(ctx, cfg, cmd...)
	if container.ExitCode(err) == accountExists {
		clog.FromContext(ctx).Infof("%s already exists", cmd[len(cmd)-1])
		return nil
	}
	return err
}
