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
	performance.Register(performance.MetricTypeIRQ, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewIRQCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*IRQCollector)(nil)

// irqNameMaxLen matches the fixed-width name column sysstat truncates
// interrupt identifiers to when rendering per-IRQ tables.
const irqNameMaxLen = 15

// IRQCollector collects per-CPU interrupt counters from /proc/interrupts
// and /proc/softirqs.
//
// Both files share the same layout: a header row naming the online CPUs in
// column order, followed by one row per interrupt giving a count for each
// CPU column and a trailing description. The set of rows and the set of
// CPU columns can both change between samples; this collector reports
// exactly what it read for this sample; realigning rows across samples by
// name is the derivation library's job, not this reader's.
type IRQCollector struct {
	performance.BaseCollector
	interruptsPath string
	softirqsPath   string
}

func NewIRQCollector(logger logr.Logger, config performance.CollectionConfig) (*IRQCollector, error) {
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

	return &IRQCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeIRQ,
			"IRQ Statistics Collector",
			logger,
			config,
			capabilities,
		),
		interruptsPath: filepath.Join(config.HostProcPath, "interrupts"),
		softirqsPath:   filepath.Join(config.HostProcPath, "softirqs"),
	}, nil
}

func (c *IRQCollector) Collect(ctx context.Context) (any, error) {
	irqs, err := c.parseIRQFile(c.interruptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.interruptsPath, err)
	}

	softirqs, err := c.parseIRQFile(c.softirqsPath)
	if err != nil {
		// softirqs is newer than interrupts and some kernels/containers
		// restrict it; degrade to empty rather than fail the whole sample.
		c.Logger().V(1).Info("failed to read softirqs", "path", c.softirqsPath, "error", err)
		softirqs = nil
	}

	return &performance.IRQCollection{IRQs: irqs, SoftIRQs: softirqs}, nil
}

// parseIRQFile parses the shared /proc/interrupts / /proc/softirqs layout:
//
//	           CPU0       CPU1
//	  0:         10          0   IO-APIC   2-edge      timer
//	NMI:          1          2   Non-maskable interrupts
func (c *IRQCollector) parseIRQFile(path string) ([]performance.IRQStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty file")
	}
	numCPUs := len(strings.Fields(scanner.Text()))

	var rows []performance.IRQStats
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		name := strings.TrimSuffix(fields[0], ":")
		if len(name) > irqNameMaxLen {
			name = name[:irqNameMaxLen]
		}

		perCPU := make([]uint64, 0, numCPUs)
		var total uint64
		for i := 1; i < len(fields) && i <= numCPUs; i++ {
			v, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				// Hit the description column early (a row with fewer CPU
				// columns than the header, e.g. some arch-specific rows).
				break
			}
			perCPU = append(perCPU, v)
			total += v
		}

		rows = append(rows, performance.IRQStats{
			Name:   name,
			PerCPU: perCPU,
			Total:  total,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}
