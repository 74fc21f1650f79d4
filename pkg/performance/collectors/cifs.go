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
	performance.Register(performance.MetricTypeCIFS, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewCIFSCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*CIFSCollector)(nil)

// CIFSCollector collects per-mount CIFS client statistics from
// /proc/fs/cifs/Stats.
//
// The file groups counters into numbered blocks, one per mounted share:
//
//	1) \\server\share
//	SMBs: 120 Oplocks breaks: 0
//	Reads:  10 Bytes: 4096
//	Writes: 5 Bytes: 2048
//	...
//
// Only the fields this collector's struct models are extracted; the rest
// of each block is ignored.
type CIFSCollector struct {
	performance.BaseCollector
	statsPath string
}

func NewCIFSCollector(logger logr.Logger, config performance.CollectionConfig) (*CIFSCollector, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}

	capabilities := performance.CollectorCapabilities{
		SupportsOneShot:    true,
		SupportsContinuous: false,
		RequiresRoot:       false,
		RequiresEBPF:       false,
		MinKernelVersion:   "2.6.0",
	}

	return &CIFSCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeCIFS,
			"CIFS Mount Statistics Collector",
			logger,
			config,
			capabilities,
		),
		statsPath: filepath.Join(config.HostProcPath, "fs", "cifs", "Stats"),
	}, nil
}

var cifsBlockHeader = func(line string) (shareName string, isHeader bool) {
	// "1) \\server\share"
	idx := strings.Index(line, ") ")
	if idx < 0 {
		return "", false
	}
	if _, err := strconv.Atoi(strings.TrimSpace(line[:idx])); err != nil {
		return "", false
	}
	return strings.TrimSpace(line[idx+2:]), true
}

func (c *CIFSCollector) Collect(ctx context.Context) (any, error) {
	f, err := os.Open(c.statsPath)
	if err != nil {
		if os.IsNotExist(err) {
			// CIFS module not loaded / no mounts; not an error.
			return []performance.CIFSStats{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", c.statsPath, err)
	}
	defer f.Close()

	var mounts []performance.CIFSStats
	var current *performance.CIFSStats

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if share, ok := cifsBlockHeader(line); ok {
			if current != nil {
				mounts = append(mounts, *current)
			}
			current = &performance.CIFSStats{ShareName: share}
			continue
		}
		if current == nil {
			continue
		}

		fields := strings.Fields(line)
		for i := 0; i < len(fields)-1; i++ {
			switch fields[i] {
			case "Reads:":
				current.ReadOps, _ = strconv.ParseUint(fields[i+1], 10, 64)
			case "Writes:":
				current.WriteOps, _ = strconv.ParseUint(fields[i+1], 10, 64)
			case "Opens:":
				current.FileOpens, _ = strconv.ParseUint(fields[i+1], 10, 64)
			case "Closes:":
				current.FileCloses, _ = strconv.ParseUint(fields[i+1], 10, 64)
			case "Deletes:":
				current.FileDeletes, _ = strconv.ParseUint(fields[i+1], 10, 64)
			case "Bytes:":
				// "Reads:  10 Bytes: 4096" vs "Writes: 5 Bytes: 2048" share
				// the same key; attribute to whichever counter was most
				// recently set on this line.
				v, _ := strconv.ParseUint(fields[i+1], 10, 64)
				if strings.Contains(line, "Reads:") {
					current.ReadBytes = v
				} else if strings.Contains(line, "Writes:") {
					current.WriteBytes = v
				}
			}
		}
	}
	if current != nil {
		mounts = append(mounts, *current)
	}

	return mounts, scanner.Err()
}
