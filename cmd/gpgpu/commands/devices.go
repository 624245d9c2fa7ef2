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
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/gx-org/gpgpu/backend/platform"
	"github.com/gx-org/gpgpu/plugin"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List compute platforms and devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	drv, err := plugin.Driver(cfg.Driver)
	if err != nil {
		return err
	}
	plats, err := platform.Describe(drv)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(plats))
	for name := range plats {
		names = append(names, name)
	}
	sort.Strings(names)
	out := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintf(out, "%s\n", name)
		for i, dev := range plats[name] {
			fmt.Fprintf(out, "  [%d] %s (%s)\n", i, dev.Name(), dev.Class())
		}
	}
	return nil
}
