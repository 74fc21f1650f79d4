// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/go-logr/logr"
)

func init() {
	performance.Register(performance.MetricTypePSI, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewPSICollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*PSICollector)(nil)

// psiResources are the three pressure-stall domains the kernel exposes.
var psiResources = []string{"cpu", "io", "memory"}

// PSICollector collects pressure-stall information from
// /proc/pressure/{cpu,io,memory}.
//
// Each file exists only on kernels built with CONFIG_PSI; its absence is
// not an error, it simply yields no PSI rows for that resource.
type PSICollector struct {
	performance.BaseCollector
	pressurePath string
}

func NewPSICollector(logger logr.Logger, config performance.CollectionConfig) (*PSICollector, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}

	capabilities := performance.CollectorCapabilities{
		SupportsOneShot:    true,
		SupportsContinuous: false,
		RequiresRoot:       false,
		RequiresEBPF:       false,
		MinKernelVersion:   "4.20.0", // PSI was introduced in 4.20
	}

	return &PSICollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypePSI,
			"Pressure Stall Information Collector",
			logger,
			config,
			capabilities,
		),
		pressurePath: filepath.Join(config.HostProcPath, "pressure"),
	}, nil
}

func (c *PSICollector) Collect(ctx context.Context) (any, error) {
	var stats []performance.PSIStats

	for _, resource := range psiResources {
		path := filepath.Join(c.pressurePath, resource)
		rows, err := c.parsePressureFile(path, resource)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			c.Logger().V(1).Info("failed to read pressure file", "path", path, "error", err)
			continue
		}
		stats = append(stats, rows...)
	}

	return stats, nil
}

// parsePressureFile parses a line-per-scope pressure file:
//
//	some avg10=0.00 avg60=0.00 avg300=0.00 total=0
//	full avg10=0.00 avg60=0.00 avg300=0.00 total=0
func (c *PSICollector) parsePressureFile(path, resource string) ([]performance.PSIStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []performance.PSIStats
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		row := performance.PSIStats{Resource: resource, Scope: fields[0]}
		for _, kv := range fields[1:] {
			key, value, found := strings.Cut(kv, "=")
			if !found {
				continue
			}
			switch key {
			case "avg10":
				row.Avg10, _ = strconv.ParseFloat(value, 64)
			case "avg60":
				row.Avg60, _ = strconv.ParseFloat(value, 64)
			case "avg300":
				row.Avg300, _ = strconv.ParseFloat(value, 64)
			case "total":
				row.Total, _ = strconv.ParseUint(value, 10, 64)
			}
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}
