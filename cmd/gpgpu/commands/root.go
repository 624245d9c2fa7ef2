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

// Package commands implements the gpgpu command line.
package commands

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gpgpu",
	Short: "Run compute kernels on GPUs",
	Long: `gpgpu compiles kernels written in OpenCL C, launches them on a compute
device and prints the arguments written back by the kernel.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gpgpu.yaml)")
	rootCmd.PersistentFlags().String("driver", defaultConfig.Driver, "device driver")
	rootCmd.PersistentFlags().String("class", defaultConfig.Class, "device class: default, cpu, gpu, accelerator or all")
	bindFlags(rootCmd.PersistentFlags(), "driver", "class")
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("cannot bind flag %q: %v", name, err))
		}
	}
}

// initConfig reads the config file and the environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/gpgpu")
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("gpgpu")
	}
	viper.SetEnvPrefix("GPGPU")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		klog.V(1).InfoS("using config file", "path", viper.ConfigFileUsed())
	}
}
