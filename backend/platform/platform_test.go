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

package platform_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/driver/emulator"
	"github.com/gx-org/gpgpu/backend/platform"
	"github.com/gx-org/gpgpu/host"
)

func TestSelect(t *testing.T) {
	drv := emulator.New(
		emulator.WithPlatform("first",
			emulator.DeviceSpec{Name: "cpu0", Class: driver.ClassCPU},
			emulator.DeviceSpec{Name: "gpu0", Class: driver.ClassGPU},
			emulator.DeviceSpec{Name: "gpu1", Class: driver.ClassGPU},
		),
		emulator.WithPlatform("second",
			emulator.DeviceSpec{Name: "acc0", Class: driver.ClassAccelerator},
		),
	)
	tests := []struct {
		class  driver.DeviceClass
		device string
	}{
		{driver.ClassGPU, "gpu0"},
		{driver.ClassCPU, "cpu0"},
		{driver.ClassDefault, "cpu0"},
		{driver.ClassAll, "cpu0"},
	}
	for _, test := range tests {
		t.Run(test.class.String(), func(t *testing.T) {
			plat, dev, err := platform.Select(drv, test.class)
			if err != nil {
				t.Fatal(err)
			}
			if plat.Name() != "first" {
				t.Errorf("got platform %q, want the first platform", plat.Name())
			}
			if dev.Name() != test.device {
				t.Errorf("got device %q, want %q", dev.Name(), test.device)
			}
		})
	}
	// Only the first platform is considered.
	_, _, err := platform.Select(drv, driver.ClassAccelerator)
	var setupErr *gpgpu.SetupError
	if !errors.As(err, &setupErr) {
		t.Errorf("got error %v, want a setup error", err)
	}
}

func TestNoPlatform(t *testing.T) {
	drv := emulator.New(emulator.WithoutPlatforms())
	_, err := platform.New(drv, driver.ClassGPU)
	var setupErr *gpgpu.SetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("got error %v, want a setup error", err)
	}
	if setupErr.Msg != "No valid ICDs found" {
		t.Errorf("got message %q", setupErr.Msg)
	}
	if got := gpgpu.Code(err); got != gpgpu.CodeSetup {
		t.Errorf("got code %d, want %d", got, gpgpu.CodeSetup)
	}
}

func TestNoDevice(t *testing.T) {
	drv := emulator.New(emulator.WithPlatform("cpu only", emulator.DeviceSpec{Name: "cpu", Class: driver.ClassCPU}))
	if _, err := platform.New(drv, driver.ClassGPU); gpgpu.Code(err) != gpgpu.CodeSetup {
		t.Errorf("got error %v, want a setup error", err)
	}
	if got := drv.LiveContexts(); got != 0 {
		t.Errorf("%d contexts not released", got)
	}
}

func TestQueueFailureReleasesContext(t *testing.T) {
	drv := emulator.New(emulator.WithFault(emulator.OpQueue, driver.OutOfHostMemory))
	if _, err := platform.New(drv, driver.ClassGPU); gpgpu.Code(err) != gpgpu.CodeSetup {
		t.Errorf("got error %v, want a setup error", err)
	}
	if got := drv.LiveContexts(); got != 0 {
		t.Errorf("%d contexts not released", got)
	}
}

func TestSessionClose(t *testing.T) {
	drv := emulator.New()
	sess, err := platform.New(drv, driver.ClassGPU)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Device().Name() != "Emulated GPU" {
		t.Errorf("got device %q", sess.Device().Name())
	}
	if got := drv.LiveContexts(); got != 1 {
		t.Errorf("got %d live contexts, want 1", got)
	}
	done, err := sess.Track()
	if err != nil {
		t.Fatal(err)
	}
	closed := make(chan error)
	go func() { closed <- sess.Close() }()
	select {
	case <-closed:
		t.Fatal("session closed with an invocation in flight")
	default:
	}
	done()
	if err := <-closed; err != nil {
		t.Fatal(err)
	}
	if got := drv.LiveContexts(); got != 0 {
		t.Errorf("got %d live contexts, want 0", got)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := sess.Track(); !errors.Is(err, platform.ErrClosed) {
		t.Errorf("got error %v, want %v", err, platform.ErrClosed)
	}
}

func TestBuffer(t *testing.T) {
	drv := emulator.New()
	loop := host.Start()
	defer loop.Close()
	sess, err := platform.New(drv, driver.ClassGPU, platform.WithLoop(loop))
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if sess.Loop() != loop {
		t.Errorf("session does not use the given loop")
	}
	buf, err := sess.NewBuffer(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := buf.Upload([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := buf.Upload(make([]byte, 5)); err == nil {
		t.Errorf("no error when uploading more data than the buffer size")
	}
	dst := make([]byte, 4)
	ev, err := buf.ReadInto(dst, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatal(err)
	}
	ev.Release()
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, dst); diff != "" {
		t.Errorf("unexpected buffer content: (-want,+got):\n%s", diff)
	}
	if got := sess.LiveBuffers(); got != 1 {
		t.Errorf("got %d live buffers, want 1", got)
	}
	if err := buf.Release(); err != nil {
		t.Fatal(err)
	}
	if err := buf.Release(); err != nil {
		t.Errorf("second release: %v", err)
	}
	if got := sess.LiveBuffers(); got != 0 {
		t.Errorf("got %d live buffers, want 0", got)
	}
	if got := drv.LiveBuffers(); got != 0 {
		t.Errorf("got %d device buffers, want 0", got)
	}
	if _, err := sess.NewBuffer(0); gpgpu.Code(err) != gpgpu.CodeDevice {
		t.Errorf("got error %v, want a device error", err)
	}
}

func TestDescribe(t *testing.T) {
	drv := emulator.New()
	plats, err := platform.Describe(drv)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, dev := range plats["Emulator"] {
		names = append(names, dev.Name())
	}
	if diff := cmp.Diff([]string{"Emulated GPU", "Emulated CPU"}, names); diff != "" {
		t.Errorf("unexpected devices: (-want,+got):\n%s", diff)
	}
}
