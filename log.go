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

package gpgpu

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// DebugEnv is the environment variable enabling diagnostic logging.
// Its value is the verbosity. Any non-numeric value enables all levels.
const DebugEnv = "GPGPU_DEBUG"

// Verbosity levels of the diagnostic logs.
const (
	LevelDebug  = 1
	LevelTiming = 2
)

// LoggerFromEnv returns a logger writing to stderr if DebugEnv is set.
// It returns a logger discarding everything otherwise.
func LoggerFromEnv() logr.Logger {
	return loggerFromValue(os.Getenv(DebugEnv), os.Stderr)
}

func loggerFromValue(val string, w io.Writer) logr.Logger {
	if val == "" || val == "0" {
		return logr.Discard()
	}
	verbosity, err := strconv.Atoi(val)
	if err != nil {
		verbosity = LevelTiming
	}
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}, funcr.Options{
		LogTimestamp: true,
		Verbosity:    verbosity,
	})
}

// LogTime logs the time elapsed since start for a step.
func LogTime(log logr.Logger, step string, start time.Time) {
	log.V(LevelTiming).Info("timing", "step", step, "elapsed", time.Since(start))
}
