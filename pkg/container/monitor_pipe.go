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

package container

import (
	"context"
	"io"
	"log/slog"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/genpack/internal/logwriter"
)

// monitorPipe forwards every line read from pipe to the logger at level.
func monitorPipe(ctx context.Context, level slog.Level, pipe io.Reader) error {
	log := clog.FromContext(ctx)

	var logf func(string, ...any)
	switch level {
	case slog.LevelWarn:
		logf = log.Warnf
	case slog.LevelDebug:
		logf = log.Debugf
	default:
		logf = log.Infof
	}

	w := logwriter.New(func(line string, _ ...any) {
		logf("%s", line)
	})
	if _, err := io.Copy(w, pipe); err != nil {
		return err
	}
	return w.Close()
}
