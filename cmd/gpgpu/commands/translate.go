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
	"strings"

	"github.com/spf13/cobra"
	"github.com/gx-org/gpgpu/translate"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a kernel written in Go into OpenCL C",
	Long: `Translate a kernel written as a Go function into OpenCL C and print it
with the type descriptors of its arguments.`,
	Example: `  gpgpu translate --source iota.go`,
	RunE:    runTranslate,
}

func init() {
	flags := translateCmd.Flags()
	flags.String("source", "", "file containing the Go source of the kernel")
	flags.String("main", translate.DefaultMain, "name of the Go function translated into the kernel")
	translateCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	sourcePath, _ := flags.GetString("source")
	mainName, _ := flags.GetString("main")
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	kern, err := translate.Func(string(src), translate.WithMain(mainName))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "// types: %s\n", strings.Join(kern.Types, ","))
	fmt.Fprint(out, kern.Source)
	return nil
}
