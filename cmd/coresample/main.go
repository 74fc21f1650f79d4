// Copyright 2025 Antimetal Inc.
//
// Licensed under the PolyForm Shield License 1.0.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     https://polyformproject.org/licenses/shield/1.0.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/antimetal/agent/pkg/performance/engine"
)

var (
	interval   = flag.Duration("interval", 1*time.Second, "sampling interval; 0 reports since-boot averages once")
	count      = flag.Int("count", 0, "number of samples to emit before exiting; 0 runs until cancelled")
	skipFirst  = flag.Bool("skip-first", false, "suppress the first derived sample (matches pidstat -y)")
	average    = flag.Bool("average", true, "emit a final run-average record on exit")
	procPath   = flag.String("proc-path", "/proc", "path to proc filesystem")
	sysPath    = flag.String("sys-path", "/sys", "path to sys filesystem")
	devPath    = flag.String("dev-path", "/dev", "path to dev filesystem")
	verbose    = flag.Bool("verbose", false, "enable verbose logging")
)

func main() {
	flag.Parse()

	var logger logr.Logger
	if *verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		logger = logr.Discard()
	}

	manager, err := performance.NewManager(performance.ManagerOptions{
		Logger: logger,
		Config: performance.CollectionConfig{
			HostProcPath: *procPath,
			HostSysPath:  *sysPath,
			HostDevPath:  *devPath,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "coresample: %v\n", err)
		os.Exit(int(engine.ExitUsage))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := engine.NewJSONLineSink(os.Stdout)
	schedCfg := engine.Config{
		Interval:        *interval,
		Count:           *count,
		SkipFirstSample: *skipFirst,
		AverageEnabled:  *average,
	}

	exitCode, runErr := manager.Run(ctx, sink, schedCfg)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "coresample: %v\n", runErr)
	}
	os.Exit(int(exitCode))
}
