// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/go-logr/logr"
)

func init() {
	performance.Register(performance.MetricTypeTape, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewTapeCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*TapeCollector)(nil)

var tapeDriveNamePattern = regexp.MustCompile(`^st[0-9]+$`)

// tapeStatFiles lists the counter files under each drive's stats/
// directory, in hex, alongside the struct field they populate.
var tapeStatFiles = []struct {
	file string
	set  func(*performance.TapeStats, uint64)
}{
	{"read_ns", func(s *performance.TapeStats, v uint64) { s.ReadNs = v }},
	{"write_ns", func(s *performance.TapeStats, v uint64) { s.WriteNs = v }},
	{"io_ns", func(s *performance.TapeStats, v uint64) { s.IONs = v }},
	{"read_byte_cnt", func(s *performance.TapeStats, v uint64) { s.ReadBytes = v }},
	{"write_byte_cnt", func(s *performance.TapeStats, v uint64) { s.WriteBytes = v }},
	{"read_cnt", func(s *performance.TapeStats, v uint64) { s.ReadCount = v }},
	{"write_cnt", func(s *performance.TapeStats, v uint64) { s.WriteCount = v }},
	{"other_cnt", func(s *performance.TapeStats, v uint64) { s.OtherCount = v }},
	{"resid_cnt", func(s *performance.TapeStats, v uint64) { s.ResidCount = v }},
}

// TapeCollector collects scsi_tape drive I/O counters from
// /sys/class/scsi_tape/stN/stats/.
//
// Unlike the other sysfs-backed collectors in this package, every counter
// file here is printed in hexadecimal without a "0x" prefix.
type TapeCollector struct {
	performance.BaseCollector
	scsiTapePath string
}

func NewTapeCollector(logger logr.Logger, config performance.CollectionConfig) (*TapeCollector, error) {
	if !filepath.IsAbs(config.HostSysPath) {
		return nil, fmt.Errorf("HostSysPath must be an absolute path, got: %q", config.HostSysPath)
	}

	capabilities := performance.CollectorCapabilities{
		SupportsOneShot:    true,
		SupportsContinuous: false,
		RequiresRoot:       false,
		RequiresEBPF:       false,
		MinKernelVersion:   "2.6.0",
	}

	return &TapeCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeTape,
			"Tape Drive Statistics Collector",
			logger,
			config,
			capabilities,
		),
		scsiTapePath: filepath.Join(config.HostSysPath, "class", "scsi_tape"),
	}, nil
}

func (c *TapeCollector) Collect(ctx context.Context) (any, error) {
	entries, err := os.ReadDir(c.scsiTapePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No tape hardware present; not an error.
			return []performance.TapeStats{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", c.scsiTapePath, err)
	}

	var stats []performance.TapeStats
	for _, entry := range entries {
		name := entry.Name()
		// Drive directories are named "stN"; "stN" also has an "stNa"
		// rewind-mode alias and an "stNl" control-mode alias that must be
		// excluded, since only the base name carries a stats/ directory.
		if !tapeDriveNamePattern.MatchString(name) {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		s, err := c.collectDrive(name)
		if err != nil {
			c.Logger().V(1).Info("failed to collect tape drive stats", "drive", name, "error", err)
			stats = append(stats, performance.TapeStats{Name: name, Timestamp: time.Now(), Valid: false})
			continue
		}
		stats = append(stats, s)
	}

	return stats, nil
}

func (c *TapeCollector) collectDrive(name string) (performance.TapeStats, error) {
	statsDir := filepath.Join(c.scsiTapePath, name, "stats")
	result := performance.TapeStats{Name: name, Timestamp: time.Now(), Valid: true}

	for _, f := range tapeStatFiles {
		path := filepath.Join(statsDir, f.file)
		data, err := os.ReadFile(path)
		if err != nil {
			return performance.TapeStats{Name: name, Timestamp: result.Timestamp, Valid: false}, err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 64)
		if err != nil {
			return performance.TapeStats{Name: name, Timestamp: result.Timestamp, Valid: false}, err
		}
		f.set(&result, v)
	}

	return result, nil
}
