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
	"time"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/antimetal/agent/pkg/performance/procutils"
	"github.com/go-logr/logr"
)

func init() {
	performance.Register(performance.MetricTypeProcess, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewProcessCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*ProcessCollector)(nil)

// ProcessCollector collects per-process statistics by walking /proc/[pid].
//
// Each process is read from three sources: stat (CPU/memory/scheduling
// fields), status (context switch counters, since they aren't in stat),
// and the fd/ directory (open file descriptor count). io and smaps_rollup
// are not read, so MemoryPSS and MemoryUSS stay zero.
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#proc-pid-stat
type ProcessCollector struct {
	performance.BaseCollector
	procPath  string
	procUtils *procutils.ProcUtils
}

func NewProcessCollector(logger logr.Logger, config performance.CollectionConfig) (*ProcessCollector, error) {
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

	return &ProcessCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeProcess,
			"Process Statistics Collector",
			logger,
			config,
			capabilities,
		),
		procPath:  config.HostProcPath,
		procUtils: procutils.New(config.HostProcPath),
	}, nil
}

func (c *ProcessCollector) Collect(ctx context.Context) (any, error) {
	entries, err := os.ReadDir(c.procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.procPath, err)
	}

	bootTime, err := c.procUtils.GetBootTime()
	if err != nil {
		return nil, fmt.Errorf("failed to get boot time: %w", err)
	}
	userHZ, err := c.procUtils.GetUserHZ()
	if err != nil {
		return nil, fmt.Errorf("failed to get USER_HZ: %w", err)
	}
	pageSize, err := c.procUtils.GetPageSize()
	if err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}

	var processes []performance.ProcessStats
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue // not a pid directory
		}

		stats, err := c.collectProcess(int32(pid), bootTime, userHZ, pageSize)
		if err != nil {
			// Processes routinely exit between the readdir and our read of
			// their files; this is expected churn, not a collection error.
			if os.IsNotExist(err) {
				continue
			}
			c.Logger().V(1).Info("failed to collect process", "pid", pid, "error", err)
			continue
		}
		processes = append(processes, *stats)
	}

	return processes, nil
}

func (c *ProcessCollector) collectProcess(pid int32, bootTime time.Time, userHZ, pageSize int64) (*performance.ProcessStats, error) {
	pidPath := filepath.Join(c.procPath, strconv.Itoa(int(pid)))

	stats, err := c.parseStat(pidPath, pid, bootTime, userHZ, pageSize)
	if err != nil {
		return nil, err
	}

	if err := c.parseStatus(pidPath, stats); err != nil {
		c.Logger().V(2).Info("failed to parse status", "pid", pid, "error", err)
	}

	stats.NumFds = c.countFds(pidPath)

	return stats, nil
}

// parseStat parses /proc/[pid]/stat.
//
// The command name is enclosed in parentheses and may itself contain spaces
// or parentheses, so it must be located by the first '(' and the LAST ')'
// rather than by fixed field splitting; every field after that point shifts
// by the number of extra tokens the command name happens to contain.
func (c *ProcessCollector) parseStat(pidPath string, pid int32, bootTime time.Time, userHZ, pageSize int64) (*performance.ProcessStats, error) {
	statPath := filepath.Join(pidPath, "stat")
	data, err := os.ReadFile(statPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", statPath, err)
	}

	line := string(data)
	openParen := strings.IndexByte(line, '(')
	closeParen := strings.LastIndexByte(line, ')')
	if openParen < 0 || closeParen < 0 || closeParen < openParen {
		return nil, fmt.Errorf("malformed stat line in %s", statPath)
	}
	command := line[openParen+1 : closeParen]

	rest := strings.Fields(line[closeParen+1:])
	// rest[0] is field 3 (state); stat fields are 1-indexed in the proc
	// docs, fields 1-2 (pid, comm) are already consumed above.
	const minFields = 20 // through field 22 (starttime) minus the two consumed
	if len(rest) < minFields {
		return nil, fmt.Errorf("too few fields in %s: got %d", statPath, len(rest))
	}

	parseInt := func(s string) int64 {
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	parseUint := func(s string) uint64 {
		v, _ := strconv.ParseUint(s, 10, 64)
		return v
	}

	stats := &performance.ProcessStats{
		PID:     pid,
		Command: command,
		State:   rest[0],
		PPID:    int32(parseInt(rest[1])),
		PGID:    int32(parseInt(rest[2])),
		SID:     int32(parseInt(rest[3])),
	}

	stats.MinorFaults = parseUint(rest[7])
	stats.MajorFaults = parseUint(rest[9])
	utime := parseUint(rest[11])
	stime := parseUint(rest[12])
	stats.CPUTime = utime + stime
	stats.Priority = int32(parseInt(rest[15]))
	stats.Nice = int32(parseInt(rest[16]))
	stats.Threads = int32(parseInt(rest[17]))

	if userHZ > 0 {
		starttimeTicks := parseUint(rest[19])
		stats.StartTime = bootTime.Add(time.Duration(starttimeTicks) * time.Second / time.Duration(userHZ))
	}

	if len(rest) > 20 {
		stats.MemoryVSZ = parseUint(rest[20])
	}
	if len(rest) > 21 && pageSize > 0 {
		stats.MemoryRSS = parseUint(rest[21]) * uint64(pageSize)
	}

	return stats, nil
}

// parseStatus fills in the fields /proc/[pid]/stat does not carry:
// context switch counters and an authoritative thread count.
func (c *ProcessCollector) parseStatus(pidPath string, stats *performance.ProcessStats) error {
	statusPath := filepath.Join(pidPath, "status")
	f, err := os.Open(statusPath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case "Threads":
			if v, err := strconv.ParseInt(value, 10, 32); err == nil {
				stats.NumThreads = int32(v)
			}
		case "voluntary_ctxt_switches":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				stats.VoluntaryCtxt = v
			}
		case "nonvoluntary_ctxt_switches":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				stats.InvoluntaryCtxt = v
			}
		}
	}
	return scanner.Err()
}

// countFds returns the number of open file descriptors, or 0 if the fd/
// directory cannot be read (typically a permission error for processes not
// owned by the collecting user).
func (c *ProcessCollector) countFds(pidPath string) int32 {
	entries, err := os.ReadDir(filepath.Join(pidPath, "fd"))
	if err != nil {
		return 0
	}
	return int32(len(entries))
}
