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
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/gx-org/gpgpu/api"
	"github.com/gx-org/gpgpu/backend/driver"
	"github.com/gx-org/gpgpu/backend/kernel"
	"github.com/gx-org/gpgpu/plugin"
	"k8s.io/klog/v2"
)

// Config is the configuration of the command line.
type Config struct {
	Driver     string `mapstructure:"driver"`
	Class      string `mapstructure:"class"`
	EntryPoint string `mapstructure:"entry"`
	WaitMode   string `mapstructure:"wait"`
	Reserved   string `mapstructure:"reserved"`
}

var defaultConfig = Config{
	Driver:     "opencl",
	Class:      "gpu",
	EntryPoint: kernel.DefaultEntryPoint,
	WaitMode:   kernel.WaitEvents.String(),
	Reserved:   "none",
}

func loadConfig(v *viper.Viper) (*Config, error) {
	cfg := defaultConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot read configuration")
	}
	return &cfg, nil
}

func (cfg *Config) deviceClass() (driver.DeviceClass, error) {
	return driver.ParseDeviceClass(cfg.Class)
}

func (cfg *Config) kernelOptions() ([]kernel.Option, error) {
	opts := []kernel.Option{kernel.WithEntryPoint(cfg.EntryPoint)}
	switch cfg.WaitMode {
	case kernel.WaitEvents.String():
		opts = append(opts, kernel.WithWaitMode(kernel.WaitEvents))
	case kernel.WaitQueue.String():
		opts = append(opts, kernel.WithWaitMode(kernel.WaitQueue))
	default:
		return nil, errors.Errorf("unknown wait mode %q: want %q or %q", cfg.WaitMode, kernel.WaitEvents, kernel.WaitQueue)
	}
	switch cfg.Reserved {
	case "", "none":
	case "translator":
		opts = append(opts, kernel.WithReservedSlots(kernel.TranslatorSlots...))
	default:
		return nil, errors.Errorf("unknown reserved slots %q: want none or translator", cfg.Reserved)
	}
	return opts, nil
}

func logger() logr.Logger {
	return klog.NewKlogr().WithName("gpgpu")
}

func (cfg *Config) runtime() (*api.Runtime, error) {
	class, err := cfg.deviceClass()
	if err != nil {
		return nil, err
	}
	kernOpts, err := cfg.kernelOptions()
	if err != nil {
		return nil, err
	}
	return plugin.New(cfg.Driver, class,
		api.WithLogger(logger()),
		api.WithKernelOptions(kernOpts...),
	)
}
