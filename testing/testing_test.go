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

package testing_test

import (
	"testing"

	"github.com/gx-org/gpgpu/api"
	"github.com/gx-org/gpgpu/backend/driver/emulator"
	gpgputesting "github.com/gx-org/gpgpu/testing"
	"github.com/gx-org/gx/cgx/handle"
)

func TestHandleCount(t *testing.T) {
	start := int(handle.Count())
	rtm := gpgputesting.NewRuntime(t, emulator.New())
	h := handle.Wrap[*api.Runtime](rtm)
	if got := handle.Unwrap[*api.Runtime](h); got != rtm {
		t.Errorf("handle does not refer to the runtime")
	}
	handle.Release(h)
	gpgputesting.CheckHandleCount(t, start)
}

func TestBufferCount(t *testing.T) {
	drv := emulator.New()
	sess := gpgputesting.NewSession(t, drv)
	buf, err := sess.NewBuffer(8)
	if err != nil {
		t.Fatal(err)
	}
	buf.Release()
	gpgputesting.CheckBufferCount(t, sess, drv)
}
