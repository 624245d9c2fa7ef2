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
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/gx-org/gpgpu"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compile and launch a kernel",
	Long: `Compile a kernel, launch it once and print the write and readwrite arguments.

Each argument is given as kind:value where kind is one of:
  zeros:N        N elements set to zero
  f32:1,2,3      float32 values
  f64:1,2,3      float64 values
  i32:1,2,3      int32 values
  u32:1,2,3      uint32 values
  file:path      raw content of a file`,
	Example: `  gpgpu run --source add.cl --type Float32Array,Float32Array --access read,readwrite \
    --global 3 --arg f32:1,2,3 --arg f32:10,20,30`,
	RunE: runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.String("source", "", "file containing the source of the kernel")
	flags.StringSlice("type", nil, "type of each argument")
	flags.StringSlice("access", nil, "access mode of each argument: read, write or readwrite")
	flags.IntSlice("global", nil, "global work size")
	flags.IntSlice("local", nil, "local work size (default 1 in every dimension)")
	flags.StringArray("arg", nil, "value of an argument")
	flags.String("entry", defaultConfig.EntryPoint, "name of the kernel function")
	flags.String("wait", defaultConfig.WaitMode, "completion detection: events or queue")
	flags.String("reserved", defaultConfig.Reserved, "leading argument slots: none or translator")
	runCmd.MarkFlagRequired("source")
	runCmd.MarkFlagRequired("global")
	bindFlags(flags, "entry", "wait", "reserved")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	sourcePath, _ := flags.GetString("source")
	types, _ := flags.GetStringSlice("type")
	access, _ := flags.GetStringSlice("access")
	global, _ := flags.GetIntSlice("global")
	local, _ := flags.GetIntSlice("local")
	argStrs, _ := flags.GetStringArray("arg")
	if len(local) == 0 {
		local = nil
	}
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	schema, err := gpgpu.ParseSchema(types, access)
	if err != nil {
		return err
	}
	if len(argStrs) != schema.Len() {
		return errors.Errorf("kernel declares %d arguments but got %d values", schema.Len(), len(argStrs))
	}
	args := make([]any, len(argStrs))
	for i, s := range argStrs {
		if args[i], err = parseArg(s, schema.At(i)); err != nil {
			return err
		}
	}

	rtm, err := cfg.runtime()
	if err != nil {
		return err
	}
	defer rtm.Close()
	kern, err := rtm.CreateKernel(string(source), types, access)
	if err != nil {
		return err
	}
	defer kern.Release()
	launcher, err := kern.SetSize(global, local)
	if err != nil {
		return err
	}
	future, err := launcher.Launch(args...)
	if err != nil {
		return err
	}
	if _, err := future.Await(cmd.Context()); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, i := range schema.Outputs() {
		fmt.Fprintf(out, "arg[%d] = %s\n", i, formatArg(args[i]))
	}
	return nil
}
