// Copyright 2024 The Heliosphere Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package stopper provides a single cooperative cancellation token that
// is observed at every suspension point in the pipeline, per spec.md §5.
//
// A Context wraps a context.Context and adds a two-phase shutdown: Stop
// requests that goroutines started with Go begin draining, Stopping
// reports when that request has arrived, and Wait blocks until every
// goroutine started with Go has returned. This mirrors the
// ctx.Go/ctx.Stopping/ctx.Done usage observed in the teacher's
// stdpool.OpenMySQLAsTarget, whose stopper package itself was not part
// of the retrieval.
package stopper

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Context is a cooperative cancellation token threaded through the
// pipeline. The zero value is not usable; construct with New.
type Context struct {
	context.Context

	mu       sync.Mutex
	stopping chan struct{}
	stopped  bool

	wg   sync.WaitGroup
	errs []error
}

// New wraps parent with a stopper.Context. Calling the returned cancel
// function is equivalent to calling Stop; it is returned so that New
// composes with defer the way context.WithCancel does.
func New(parent context.Context) (*Context, func()) {
	ctx := &Context{
		Context:  parent,
		stopping: make(chan struct{}),
	}
	return ctx, ctx.Stop
}

// Stop requests that every goroutine started with Go observe Stopping
// and begin draining. It is idempotent and safe to call from any
// goroutine, any number of times.
func (c *Context) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopping)
	}
}

// Stopping returns a channel that is closed once Stop has been called.
// Unlike Done, Stopping does not depend on the parent context and is
// intended for graceful-drain logic: "stop enqueuing new work, but let
// in-flight work finish."
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Go runs fn in a new goroutine tracked by Wait. If fn returns a
// non-nil error, it is recorded and later returned by Wait.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine started with Go has returned, then
// returns the first recorded error, if any.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	return errors.WithStack(c.errs[0])
}
