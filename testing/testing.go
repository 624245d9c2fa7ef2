// Copyright 2025 Google LLC
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

// Package testing provides runtimes on an emulated device for tests.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/gx-org/gpgpu/api"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/driver/emulator"
	"github.com/gx-org/gpgpu/backend/platform"
	"github.com/gx-org/gpgpu/host"
	"github.com/gx-org/gx/cgx/handle"
)

// AwaitTimeout is the time given to a launch to complete in tests.
const AwaitTimeout = 10 * time.Second

// NewRuntime returns a runtime on an emulated GPU. The runtime is closed at the end of the test.
func NewRuntime(t testing.TB, drv *emulator.Driver, opts ...api.Option) *api.Runtime {
	t.Helper()
	rtm, err := api.New(drv, driver.ClassGPU, opts...)
	if err != nil {
		t.Fatalf("cannot create runtime: %v", err)
	}
	t.Cleanup(func() {
		if err := rtm.Close(); err != nil {
			t.Errorf("cannot close runtime: %v", err)
		}
	})
	return rtm
}

// NewSession returns a session on an emulated GPU. The session is closed at the end of the test.
func NewSession(t testing.TB, drv *emulator.Driver, opts ...platform.Option) *platform.Session {
	t.Helper()
	sess, err := platform.New(drv, driver.ClassGPU, opts...)
	if err != nil {
		t.Fatalf("cannot create session: %v", err)
	}
	t.Cleanup(func() {
		if err := sess.Close(); err != nil {
			t.Errorf("cannot close session: %v", err)
		}
	})
	return sess
}

// Await waits for a future to be settled.
func Await[T any](t testing.TB, fut *host.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), AwaitTimeout)
	defer cancel()
	val, err := fut.Await(ctx)
	if ctx.Err() != nil {
		t.Fatalf("future not settled after %s", AwaitTimeout)
	}
	return val, err
}

// CheckBufferCount signals a testing error if a session or a driver has live buffers.
func CheckBufferCount(t testing.TB, sess *platform.Session, drv *emulator.Driver) {
	t.Helper()
	if got := sess.LiveBuffers(); got != 0 {
		t.Errorf("session buffers are leaking: %d buffers not released", got)
	}
	if got := drv.LiveBuffers(); got != 0 {
		t.Errorf("device buffers are leaking: %d buffers not released", got)
	}
}

// CheckHandleCount compares the current handle count to a reference.
// Signal a testing error if the two counts do not match.
func CheckHandleCount(t testing.TB, startCount int) {
	t.Helper()
	endCount := int(handle.Count())
	if endCount != startCount {
		t.Errorf("handles are leaking: started with %d and ended with %d\nActive handles:\n%s", startCount, endCount, handle.Dump())
	}
}
