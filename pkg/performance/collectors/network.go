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
	performance.Register(performance.MetricTypeNetwork, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewNetworkCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*NetworkCollector)(nil)

// networkDevFieldCount is the number of counter fields following the
// interface name on each /proc/net/dev line (8 receive + 8 transmit).
const networkDevFieldCount = 16

// NetworkCollector collects per-interface throughput counters from
// /proc/net/dev. Raw values are cumulative since the interface was brought
// up; the Derivation Library turns them into rates (engine.DeriveNetwork).
type NetworkCollector struct {
	performance.BaseCollector
	netDevPath string
}

func NewNetworkCollector(logger logr.Logger, config performance.CollectionConfig) (*NetworkCollector, error) {
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

	return &NetworkCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeNetwork,
			"Network Interface Statistics Collector",
			logger,
			config,
			capabilities,
		),
		netDevPath: filepath.Join(config.HostProcPath, "net", "dev"),
	}, nil
}

// Collect performs a one-shot collection of network interface statistics.
func (c *NetworkCollector) Collect(ctx context.Context) (any, error) {
	stats, err := c.collectNetworkStats()
	if err != nil {
		return nil, fmt.Errorf("failed to collect network stats: %w", err)
	}

	c.Logger().V(1).Info("Collected network statistics", "interfaces", len(stats))
	return stats, nil
}

// collectNetworkStats reads and parses /proc/net/dev.
//
// Format (after a two-line header):
//
//	Iface: rx_bytes rx_packets rx_errs rx_drop rx_fifo rx_frame rx_compressed rx_multicast \
//	        tx_bytes tx_packets tx_errs tx_drop tx_fifo tx_colls tx_carrier tx_compressed
func (c *NetworkCollector) collectNetworkStats() ([]performance.NetworkStats, error) {
	file, err := os.Open(c.netDevPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.netDevPath, err)
	}
	defer file.Close()

	var stats []performance.NetworkStats
	scanner := bufio.NewScanner(file)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			// First two lines are a fixed column-name header.
			continue
		}

		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		iface := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < networkDevFieldCount {
			c.Logger().V(1).Info("Skipping short /proc/net/dev line", "interface", iface)
			continue
		}

		values := make([]uint64, networkDevFieldCount)
		parseErrors := false
		for i := 0; i < networkDevFieldCount; i++ {
			v, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				parseErrors = true
				continue
			}
			values[i] = v
		}
		if parseErrors {
			c.Logger().V(2).Info("Parse errors in network statistics", "interface", iface)
		}

		stats = append(stats, performance.NetworkStats{
			Interface:    iface,
			RxBytes:      values[0],
			RxPackets:    values[1],
			RxErrors:     values[2],
			RxDropped:    values[3],
			RxFIFO:       values[4],
			RxFrame:      values[5],
			RxCompressed: values[6],
			RxMulticast:  values[7],
			TxBytes:      values[8],
			TxPackets:    values[9],
			TxErrors:     values[10],
			TxDropped:    values[11],
			TxFIFO:       values[12],
			TxCollisions: values[13],
			TxCarrier:    values[14],
			TxCompressed: values[15],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", c.netDevPath, err)
	}

	return stats, nil
}
