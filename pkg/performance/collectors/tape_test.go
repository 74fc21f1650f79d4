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
	"testing"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/antimetal/agent/pkg/performance/collectors"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTapeStat(t *testing.T, dir, name, value string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0644))
}

func TestTapeCollector_Collect(t *testing.T) {
	sysDir := t.TempDir()
	statsDir := filepath.Join(sysDir, "class", "scsi_tape", "st0", "stats")
	require.NoError(t, os.MkdirAll(statsDir, 0755))

	for _, kv := range []struct{ file, val string }{
		{"read_ns", "a"},
		{"write_ns", "14"},
		{"io_ns", "1e"},
		{"read_byte_cnt", "100"},
		{"write_byte_cnt", "200"},
		{"read_cnt", "5"},
		{"write_cnt", "6"},
		{"other_cnt", "1"},
		{"resid_cnt", "0"},
	} {
		writeTapeStat(t, statsDir, kv.file, kv.val)
	}

	// st0a (rewind alias) should be excluded from the drive list.
	require.NoError(t, os.MkdirAll(filepath.Join(sysDir, "class", "scsi_tape", "st0a"), 0755))

	config := performance.CollectionConfig{HostSysPath: sysDir}
	collector, err := collectors.NewTapeCollector(logr.Discard(), config)
	require.NoError(t, err)

	result, err := collector.Collect(context.Background())
	require.NoError(t, err)

	stats, ok := result.([]performance.TapeStats)
	require.True(t, ok)
	require.Len(t, stats, 1)
	assert.Equal(t, "st0", stats[0].Name)
	assert.True(t, stats[0].Valid)
	assert.Equal(t, uint64(0xa), stats[0].ReadNs)
	assert.Equal(t, uint64(0x14), stats[0].WriteNs)
	assert.Equal(t, uint64(0x100), stats[0].ReadBytes)
}

func TestTapeCollector_NoHardware(t *testing.T) {
	sysDir := t.TempDir()
	config := performance.CollectionConfig{HostSysPath: sysDir}
	collector, err := collectors.NewTapeCollector(logr.Discard(), config)
	require.NoError(t, err)

	result, err := collector.Collect(context.Background())
	require.NoError(t, err)
	stats, ok := result.([]performance.TapeStats)
	require.True(t, ok)
	assert.Empty(t, stats)
}
