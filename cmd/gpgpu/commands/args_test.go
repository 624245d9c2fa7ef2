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

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
	"github.com/gx-org/gpgpu"
	"github.com/gx-org/gpgpu/backend/kernel"
)

var (
	f32Arg = gpgpu.Arg{Type: gpgpu.NumericArray, DType: dtypes.Float32, Access: gpgpu.ReadWrite}
	u32Arg = gpgpu.Arg{Type: gpgpu.NumericArray, DType: dtypes.Uint32, Access: gpgpu.Write}
	objArg = gpgpu.Arg{Type: gpgpu.OpaqueBuffer, DType: dtypes.Uint8, Access: gpgpu.Read}
)

func TestParseArg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in   string
		arg  gpgpu.Arg
		want any
	}{
		{"f32:1,2.5,3", f32Arg, []float32{1, 2.5, 3}},
		{"f64:-1", f32Arg, []float64{-1}},
		{"i32:1, -2", f32Arg, []int32{1, -2}},
		{"u32:7", u32Arg, []uint32{7}},
		{"zeros:3", u32Arg, []uint32{0, 0, 0}},
		{"zeros:2", objArg, []byte{0, 0}},
		{"file:" + path, objArg, []byte{1, 2, 3, 4}},
		{"file:" + path, f32Arg, gpgpu.Array{DType: dtypes.Float32, Data: []byte{1, 2, 3, 4}}},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			got, err := parseArg(test.in, test.arg)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("unexpected value: (-want,+got):\n%s", diff)
			}
		})
	}
}

func TestParseArgErrors(t *testing.T) {
	for _, in := range []string{"1,2,3", "f32:a", "zeros:0", "u32:-1", "hex:ff", "file:/does/not/exist"} {
		if _, err := parseArg(in, f32Arg); err == nil {
			t.Errorf("parseArg(%q): no error", in)
		}
	}
}

func TestKernelOptions(t *testing.T) {
	v := viper.New()
	v.Set("wait", "queue")
	v.Set("reserved", "translator")
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != defaultConfig.Driver || cfg.EntryPoint != kernel.DefaultEntryPoint {
		t.Errorf("defaults not kept: %+v", cfg)
	}
	opts, err := cfg.kernelOptions()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 3 {
		t.Errorf("got %d kernel options, want 3", len(opts))
	}
	cfg.WaitMode = "poll"
	if _, err := cfg.kernelOptions(); err == nil {
		t.Errorf("no error for an unknown wait mode")
	}
	cfg.Class = "fpga"
	if _, err := cfg.deviceClass(); err == nil {
		t.Errorf("no error for an unknown device class")
	}
}

func TestDevicesCommand(t *testing.T) {
	viper.Set("driver", "emulator")
	defer viper.Set("driver", defaultConfig.Driver)
	var out bytes.Buffer
	devicesCmd.SetOut(&out)
	if err := runDevices(devicesCmd, nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Emulator", "[0] Emulated GPU (gpu)", "[1] Emulated CPU (cpu)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output does not contain %q:\n%s", want, out.String())
		}
	}
}
