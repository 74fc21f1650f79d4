// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import "github.com/antimetal/agent/pkg/performance"

// TapeRates holds the derived throughput for one scsi_tape drive over an
// interval, following sysstat's tapestat formulas.
type TapeRates struct {
	Name string

	ReadBytesPerSec  float64
	WriteBytesPerSec float64
	ReadsPerSec      float64
	WritesPerSec     float64
	// Util is the percentage of the interval the drive had I/O in flight.
	Util float64
}

// DeriveTape computes one interval's tape throughput. Unlike the other
// counter sources in this package, scsi_tape exposes no kernel uptime-like
// reference the way /proc/diskstats' jiffies do, so the interval is taken
// from the wall-clock gap between the two samples' Timestamp fields rather
// than the scheduler's nominal tick length; a dropped tick (a slow read
// stalling the scheduler) is then reflected accurately instead of silently
// assuming the nominal interval elapsed.
func DeriveTape(prev, curr performance.TapeStats) TapeRates {
	r := TapeRates{Name: curr.Name}
	if !prev.Valid || !curr.Valid {
		return r
	}

	seconds := curr.Timestamp.Sub(prev.Timestamp).Seconds()
	if seconds <= 0 {
		return r
	}

	r.ReadBytesPerSec = float64(counterDelta(prev.ReadBytes, curr.ReadBytes)) / seconds
	r.WriteBytesPerSec = float64(counterDelta(prev.WriteBytes, curr.WriteBytes)) / seconds
	r.ReadsPerSec = float64(counterDelta(prev.ReadCount, curr.ReadCount)) / seconds
	r.WritesPerSec = float64(counterDelta(prev.WriteCount, curr.WriteCount)) / seconds

	ioNsDelta := counterDelta(prev.IONs, curr.IONs)
	r.Util = float64(ioNsDelta) / (seconds * 1e9) * 100

	return r
}
