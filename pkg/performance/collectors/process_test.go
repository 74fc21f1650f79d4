// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package collectors_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/antimetal/agent/pkg/performance/collectors"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProcess(t *testing.T, procDir string, pid int, stat, status string) {
	t.Helper()
	pidDir := filepath.Join(procDir, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(filepath.Join(pidDir, "fd"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "stat"), []byte(stat), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "status"), []byte(status), 0644))
	for _, fd := range []string{"0", "1", "2"} {
		require.NoError(t, os.WriteFile(filepath.Join(pidDir, "fd", fd), nil, 0644))
	}
}

func TestProcessCollector_Collect(t *testing.T) {
	procDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(procDir, "stat"), []byte("btime 1700000000\n"), 0644))

	// pid 42, command "bash", state S, ppid 1
	stat := "42 (bash) S 1 42 42 0 -1 4194304 100 0 5 0 40 10 0 0 20 0 1 0 12345 8192000 512 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0\n"
	status := "Name:\tbash\nThreads:\t1\nvoluntary_ctxt_switches:\t12\nnonvoluntary_ctxt_switches:\t3\n"
	writeProcess(t, procDir, 42, stat, status)

	config := performance.CollectionConfig{HostProcPath: procDir}
	collector, err := collectors.NewProcessCollector(logr.Discard(), config)
	require.NoError(t, err)

	result, err := collector.Collect(context.Background())
	require.NoError(t, err)

	procs, ok := result.([]performance.ProcessStats)
	require.True(t, ok)
	require.Len(t, procs, 1)

	p := procs[0]
	assert.Equal(t, int32(42), p.PID)
	assert.Equal(t, int32(1), p.PPID)
	assert.Equal(t, "bash", p.Command)
	assert.Equal(t, "S", p.State)
	assert.Equal(t, uint64(50), p.CPUTime) // utime 40 + stime 10
	assert.Equal(t, int32(1), p.NumThreads)
	assert.Equal(t, uint64(12), p.VoluntaryCtxt)
	assert.Equal(t, uint64(3), p.InvoluntaryCtxt)
	assert.Equal(t, int32(3), p.NumFds)
}

func TestProcessCollector_SkipsNonPidEntries(t *testing.T) {
	procDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "stat"), []byte("btime 1700000000\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(procDir, "self"), 0755))

	config := performance.CollectionConfig{HostProcPath: procDir}
	collector, err := collectors.NewProcessCollector(logr.Discard(), config)
	require.NoError(t, err)

	result, err := collector.Collect(context.Background())
	require.NoError(t, err)
	procs, ok := result.([]performance.ProcessStats)
	require.True(t, ok)
	assert.Empty(t, procs)
}
