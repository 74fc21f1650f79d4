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
	"syscall"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/go-logr/logr"
)

func init() {
	performance.Register(performance.MetricTypeFilesystem, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewFilesystemCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*FilesystemCollector)(nil)

// pseudoFilesystems are mount table entries with no real space/inode
// accounting; statvfs on these either fails or returns meaningless zeros,
// so they are skipped rather than reported with bogus values.
var pseudoFilesystems = map[string]bool{
	"autofs":      true,
	"proc":        true,
	"sysfs":       true,
	"cgroup":      true,
	"cgroup2":     true,
	"devpts":      true,
	"devtmpfs":    true,
	"debugfs":     true,
	"tracefs":     true,
	"securityfs":  true,
	"pstore":      true,
	"bpf":         true,
	"mqueue":      true,
	"hugetlbfs":   true,
	"configfs":    true,
	"binfmt_misc": true,
	"rpc_pipefs":  true,
}

// FilesystemCollector collects mounted filesystem space and inode usage.
//
// The mount table comes from /etc/mtab (a symlink to /proc/self/mounts on
// modern systems); per-filesystem usage comes from a statvfs(2) syscall on
// the mount point, which unlike the other collectors in this package has
// no textual proc representation and so is read with the standard syscall
// package directly, mirroring how this codebase reaches for syscall rather
// than golang.org/x/sys/unix when stdlib already exposes the call.
type FilesystemCollector struct {
	performance.BaseCollector
	mtabPath string
}

func NewFilesystemCollector(logger logr.Logger, config performance.CollectionConfig) (*FilesystemCollector, error) {
	capabilities := performance.CollectorCapabilities{
		SupportsOneShot:    true,
		SupportsContinuous: false,
		RequiresRoot:       false,
		RequiresEBPF:       false,
		MinKernelVersion:   "2.6.0",
	}

	mtabPath := config.MtabPath
	if mtabPath == "" {
		mtabPath = "/etc/mtab"
	}

	return &FilesystemCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeFilesystem,
			"Filesystem Statistics Collector",
			logger,
			config,
			capabilities,
		),
		mtabPath: mtabPath,
	}, nil
}

func (c *FilesystemCollector) Collect(ctx context.Context) (any, error) {
	mounts, err := c.parseMtab()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.mtabPath, err)
	}

	var stats []performance.FilesystemStats
	for _, m := range mounts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if pseudoFilesystems[m.fsType] {
			continue
		}

		fs, err := c.statfs(m)
		if err != nil {
			c.Logger().V(2).Info("statfs failed", "mountPoint", m.mountPoint, "error", err)
			continue
		}
		stats = append(stats, fs)
	}

	return stats, nil
}

type mtabEntry struct {
	device     string
	mountPoint string
	fsType     string
}

// parseMtab parses /etc/mtab's fstab-style format:
//
//	device mountpoint fstype options dump pass
//
// The mountpoint field octal-escapes space, tab, newline, and backslash as
// \040, \011, \012, \134 respectively; those must be decoded or a mount
// point containing a space would be silently truncated at the first
// unescaped whitespace.
func (c *FilesystemCollector) parseMtab() ([]mtabEntry, error) {
	f, err := os.Open(c.mtabPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []mtabEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, mtabEntry{
			device:     unescapeMtabField(fields[0]),
			mountPoint: unescapeMtabField(fields[1]),
			fsType:     fields[2],
		})
	}
	return entries, scanner.Err()
}

func unescapeMtabField(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 16); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// statfs calls statvfs(2) (via the stdlib syscall.Statfs) on the mount
// point and converts the result, which is reported in blocks, into the
// gauge fields FilesystemStats exposes directly in bytes/frsize units.
func (c *FilesystemCollector) statfs(m mtabEntry) (performance.FilesystemStats, error) {
	if !filepath.IsAbs(m.mountPoint) {
		return performance.FilesystemStats{}, fmt.Errorf("mount point %q is not absolute", m.mountPoint)
	}

	var buf syscall.Statfs_t
	if err := syscall.Statfs(m.mountPoint, &buf); err != nil {
		return performance.FilesystemStats{}, err
	}

	return performance.FilesystemStats{
		Device:     m.device,
		MountPoint: m.mountPoint,
		FSType:     m.fsType,
		Blocks:     uint64(buf.Blocks),
		BFree:      uint64(buf.Bfree),
		BAvail:     uint64(buf.Bavail),
		FrSize:     uint64(buf.Bsize),
		Files:      uint64(buf.Files),
		FFree:      uint64(buf.Ffree),
	}, nil
}
