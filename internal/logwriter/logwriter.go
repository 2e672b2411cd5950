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

// Package logwriter turns a byte stream into one log call per line.
package logwriter

import (
	"bytes"
	"io"
	"strings"
)

// New returns a writer that calls log once for every complete line written
// to it. Carriage returns used by progress output are dropped. Close flushes
// a trailing partial line.
func New(log func(string, ...any)) io.WriteCloser {
	return &lineWriter{log: log}
}

type lineWriter struct {
	log func(string, ...any)
	buf bytes.Buffer
}

func (l *lineWriter) Write(p []byte) (int, error) {
	n, err := l.buf.Write(p)

	for {
		line, lerr := l.buf.ReadString('\n')
		if lerr != nil {
			l.buf.WriteString(line)
			break
		}
		l.emit(line[:len(line)-1])
	}

	return n, err
}

func (l *lineWriter) emit(line string) {
	line = strings.TrimSuffix(line, "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	if line == "" {
		return
	}
	l.log(line)
}

func (l *lineWriter) Close() error {
	if l.buf.Len() != 0 {
		l.emit(l.buf.String())
		l.buf.Reset()
	}
	return nil
}
