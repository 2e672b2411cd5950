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

// Package contextreader stops a stream when its context is done and tracks
// how far it got, so that a large stream fed to a helper ends with the
// build and its progress can be logged.
package contextreader

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Reader reads from an underlying reader until its context is done.
type Reader struct {
	ctx  context.Context
	r    io.Reader
	read atomic.Int64
}

type result struct {
	n   int
	err error
}

// New returns a Reader over r. Once ctx is done every Read fails with the
// context's error.
func New(ctx context.Context, r io.Reader) *Reader {
	return &Reader{ctx: ctx, r: r}
}

// Read reads from the underlying reader. A read interrupted by the context
// keeps running in the background and still owns p.
func (c *Reader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	res := make(chan result, 1)
	go func() {
		n, err := c.r.Read(p)
		res <- result{n, err}
	}()

	select {
	case r := <-res:
		c.read.Add(int64(r.n))
		return r.n, r.err
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	}
}

// Count returns the number of bytes read so far.
func (c *Reader) Count() int64 {
	return c.read.Load()
}

// Report calls fn with the byte count every interval until the returned
// function is called or the context is done.
func (c *Reader) Report(interval time.Duration, fn func(read int64)) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn(c.Count())
			case <-done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}
