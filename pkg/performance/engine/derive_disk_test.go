// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antimetal/agent/pkg/performance"
	"github.com/antimetal/agent/pkg/performance/engine"
)

func TestDeriveDisk(t *testing.T) {
	tests := []struct {
		name  string
		prev  performance.DiskStats
		curr  performance.DiskStats
		itv   float64
		check func(t *testing.T, d engine.DiskExtendedStats)
	}{
		{
			name: "basic iops and throughput",
			prev: performance.DiskStats{Device: "sda", ReadsCompleted: 100, WritesCompleted: 50, SectorsRead: 2000, SectorsWritten: 1000},
			curr: performance.DiskStats{Device: "sda", ReadsCompleted: 110, WritesCompleted: 60, SectorsRead: 2200, SectorsWritten: 1200},
			itv:  1,
			check: func(t *testing.T, d engine.DiskExtendedStats) {
				assert.InDelta(t, 20.0, d.IOPS, 0.001)
				assert.InDelta(t, 200*512.0, d.ReadBytesPerSec, 0.001)
			},
		},
		{
			// S2: a counter that resets (device reused a lower value
			// without the churn signature) must not produce a negative
			// delta; the clamp yields a zero contribution instead.
			name: "counter reset clamps to zero delta",
			prev: performance.DiskStats{Device: "sda", ReadsCompleted: 500, SectorsRead: 10000},
			curr: performance.DiskStats{Device: "sda", ReadsCompleted: 10, SectorsRead: 20},
			itv:  1,
			check: func(t *testing.T, d engine.DiskExtendedStats) {
				assert.Equal(t, 0.0, d.IOPS)
				assert.Equal(t, 0.0, d.ReadBytesPerSec)
			},
		},
		{
			name: "zero interval yields zero stats",
			prev: performance.DiskStats{Device: "sda", ReadsCompleted: 100},
			curr: performance.DiskStats{Device: "sda", ReadsCompleted: 200},
			itv:  0,
			check: func(t *testing.T, d engine.DiskExtendedStats) {
				assert.Equal(t, engine.DiskExtendedStats{Device: "sda"}, d)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.DeriveDisk(tt.prev, tt.curr, tt.itv)
			tt.check(t, d)
		})
	}
}

func TestDetectDiskChurn(t *testing.T) {
	tests := []struct {
		name string
		prev performance.DiskStats
		curr performance.DiskStats
		want bool
	}{
		{
			name: "both ops and sectors go backward together is churn",
			prev: performance.DiskStats{ReadsCompleted: 1000, WritesCompleted: 500, SectorsRead: 20000, SectorsWritten: 10000},
			curr: performance.DiskStats{ReadsCompleted: 10, WritesCompleted: 5, SectorsRead: 200, SectorsWritten: 100},
			want: true,
		},
		{
			name: "only ops backward is ordinary wraparound, not churn",
			prev: performance.DiskStats{ReadsCompleted: 1000, WritesCompleted: 500, SectorsRead: 20000, SectorsWritten: 10000},
			curr: performance.DiskStats{ReadsCompleted: 10, WritesCompleted: 5, SectorsRead: 30000, SectorsWritten: 15000},
			want: false,
		},
		{
			name: "monotonic increase is not churn",
			prev: performance.DiskStats{ReadsCompleted: 100, WritesCompleted: 50, SectorsRead: 200, SectorsWritten: 100},
			curr: performance.DiskStats{ReadsCompleted: 200, WritesCompleted: 100, SectorsRead: 400, SectorsWritten: 200},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.DetectDiskChurn(tt.prev, tt.curr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveDiskGroup_SumsMembersAndSkipsMissing(t *testing.T) {
	prevByDevice := map[string]performance.DiskStats{
		"sda": {Device: "sda", ReadsCompleted: 100, SectorsRead: 2000},
		"sdb": {Device: "sdb", ReadsCompleted: 200, SectorsRead: 4000},
	}
	currByDevice := map[string]performance.DiskStats{
		"sda": {Device: "sda", ReadsCompleted: 150, SectorsRead: 3000},
		"sdb": {Device: "sdb", ReadsCompleted: 250, SectorsRead: 5000},
	}
	group := performance.DiskGroup{Label: "raid0", Members: []string{"sda", "sdb", "sdc"}}

	d, found := engine.DeriveDiskGroup(group, prevByDevice, currByDevice, 1)
	assert.True(t, found)
	assert.Equal(t, "raid0", d.Device)
	assert.InDelta(t, 100.0, d.IOPS, 0.001) // (50+50) reads over 1s
}

func TestDeriveDiskGroup_NoMembersPresentReturnsFalse(t *testing.T) {
	group := performance.DiskGroup{Label: "empty", Members: []string{"nope"}}
	_, found := engine.DeriveDiskGroup(group, nil, nil, 1)
	assert.False(t, found)
}
