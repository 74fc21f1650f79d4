// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import "github.com/antimetal/agent/pkg/performance"

// DiskExtendedStats holds the derived per-interval disk metrics that
// /proc/diskstats' raw counters cannot answer directly: sysstat's iostat
// "extended" columns (rd_stats.c).
type DiskExtendedStats struct {
	Device string

	IOPS             float64
	ReadBytesPerSec  float64
	WriteBytesPerSec float64
	// Util is the percentage of the interval the device had at least one
	// I/O in flight (S_VALUE of IOTime).
	Util float64
	// Await is the average time, in milliseconds, an I/O spent in the
	// device including queueing.
	Await float64
	// Arqsz is the average size, in sectors, of requests issued.
	Arqsz float64
	// RRQMPercent is the percentage of read requests that were merged
	// with an adjacent request before being issued to the device.
	RRQMPercent float64
	// WRQMPercent is the same for write requests.
	WRQMPercent  float64
	AvgQueueSize float64
}

const sectorSize = 512

// DeriveDisk computes one interval's extended disk statistics from two raw
// /proc/diskstats samples. intervalSeconds is the scheduler's wall-clock
// sampling period, not any per-entity tick count, used to turn counter
// deltas into per-second rates.
func DeriveDisk(prev, curr performance.DiskStats, intervalSeconds float64) DiskExtendedStats {
	d := DiskExtendedStats{Device: curr.Device}
	if intervalSeconds <= 0 {
		return d
	}

	readsCompleted := counterDelta(prev.ReadsCompleted, curr.ReadsCompleted)
	writesCompleted := counterDelta(prev.WritesCompleted, curr.WritesCompleted)
	readsMerged := counterDelta(prev.ReadsMerged, curr.ReadsMerged)
	writesMerged := counterDelta(prev.WritesMerged, curr.WritesMerged)
	sectorsRead := counterDelta(prev.SectorsRead, curr.SectorsRead)
	sectorsWritten := counterDelta(prev.SectorsWritten, curr.SectorsWritten)
	readTime := counterDelta(prev.ReadTime, curr.ReadTime)
	writeTime := counterDelta(prev.WriteTime, curr.WriteTime)
	ioTime := counterDelta(prev.IOTime, curr.IOTime)
	weightedIOTime := counterDelta(prev.WeightedIOTime, curr.WeightedIOTime)

	totalIOs := readsCompleted + writesCompleted

	d.IOPS = float64(totalIOs) / intervalSeconds
	d.ReadBytesPerSec = float64(sectorsRead*sectorSize) / intervalSeconds
	d.WriteBytesPerSec = float64(sectorsWritten*sectorSize) / intervalSeconds

	// util = S_VALUE(prev.IOTime, curr.IOTime, interval-in-same-units);
	// IOTime is milliseconds, so scale intervalSeconds to match before
	// calling the shared percentage helper.
	d.Util = sValue(prev.IOTime, curr.IOTime, intervalSeconds*1000)

	if totalIOs > 0 {
		d.Await = float64(readTime+writeTime) / float64(totalIOs)
		d.Arqsz = float64(sectorsRead+sectorsWritten) / float64(totalIOs)
	}
	if readsCompleted+readsMerged > 0 {
		d.RRQMPercent = float64(readsMerged) / float64(readsCompleted+readsMerged) * 100
	}
	if writesCompleted+writesMerged > 0 {
		d.WRQMPercent = float64(writesMerged) / float64(writesCompleted+writesMerged) * 100
	}
	d.AvgQueueSize = float64(weightedIOTime) / (intervalSeconds * 1000)

	return d
}

// counterDelta is the counter-reset-clamped subtraction invariant shared by
// every raw counter in this package: a device that goes away
// and comes back with a lower count is a new device's first sample, not a
// negative rate.
func counterDelta(prev, curr uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

// DetectDiskChurn reports whether curr looks like a different physical
// device reusing prev's name: both its completed-ops and sector counters
// went backward at once. A single counter going backward is ordinary
// wraparound noise; both going backward together is the signature sysstat
// uses to flag "device was removed and a new one took its name".
func DetectDiskChurn(prev, curr performance.DiskStats) bool {
	opsBack := curr.ReadsCompleted < prev.ReadsCompleted && curr.WritesCompleted < prev.WritesCompleted
	sectorsBack := curr.SectorsRead < prev.SectorsRead && curr.SectorsWritten < prev.SectorsWritten
	return opsBack && sectorsBack
}

// DeriveDiskGroup sums the extended stats of a DiskGroup's member devices.
// Percentage/average fields (Util, Await, Arqsz, RRQM) are re-derived from
// the group's summed raw counters rather than averaged from the per-device
// derived values, since averaging already-divided ratios across devices
// with different I/O volumes would misweight busy and idle members
// equally.
func DeriveDiskGroup(group performance.DiskGroup, prevByDevice, currByDevice map[string]performance.DiskStats, intervalSeconds float64) (DiskExtendedStats, bool) {
	var prevSum, currSum performance.DiskStats
	found := false

	for _, dev := range group.Members {
		p, hasPrev := prevByDevice[dev]
		c, hasCurr := currByDevice[dev]
		if !hasCurr {
			continue
		}
		found = true
		if hasPrev {
			prevSum.ReadsCompleted += p.ReadsCompleted
			prevSum.WritesCompleted += p.WritesCompleted
			prevSum.ReadsMerged += p.ReadsMerged
			prevSum.WritesMerged += p.WritesMerged
			prevSum.SectorsRead += p.SectorsRead
			prevSum.SectorsWritten += p.SectorsWritten
			prevSum.ReadTime += p.ReadTime
			prevSum.WriteTime += p.WriteTime
			prevSum.IOTime += p.IOTime
			prevSum.WeightedIOTime += p.WeightedIOTime
		}
		currSum.ReadsCompleted += c.ReadsCompleted
		currSum.WritesCompleted += c.WritesCompleted
		currSum.ReadsMerged += c.ReadsMerged
		currSum.WritesMerged += c.WritesMerged
		currSum.SectorsRead += c.SectorsRead
		currSum.SectorsWritten += c.SectorsWritten
		currSum.ReadTime += c.ReadTime
		currSum.WriteTime += c.WriteTime
		currSum.IOTime += c.IOTime
		currSum.WeightedIOTime += c.WeightedIOTime
	}

	if !found {
		return DiskExtendedStats{}, false
	}

	stats := DeriveDisk(prevSum, currSum, intervalSeconds)
	stats.Device = group.Label
	return stats, true
}
