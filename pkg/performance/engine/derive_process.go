// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import "github.com/antimetal/agent/pkg/performance"

// ProcessRates holds the per-interval derived metrics for one process:
// pidstat's %CPU and context-switch rate formulas (pidstat.c), translated
// to operate on the two most recent ProcessStats samples instead of a
// global previous-sample table.
type ProcessRates struct {
	PID int32

	// CPUPercent is the percentage of the interval the process spent in
	// user+system mode, i.e. S_VALUE(prev.CPUTime, curr.CPUTime, itv)
	// scaled by USER_HZ.
	CPUPercent float64
	// VoluntaryCtxtPerSec / InvoluntaryCtxtPerSec are the rates of
	// cooperative vs. preemptive context switches.
	VoluntaryCtxtPerSec   float64
	InvoluntaryCtxtPerSec float64
	// MinorFaultsPerSec / MajorFaultsPerSec are page fault rates.
	MinorFaultsPerSec float64
	MajorFaultsPerSec float64
}

// DeriveProcess computes a process's CPU and scheduling rates for one
// interval. userHZ converts CPUTime's jiffie units into the same time
// base as intervalSeconds.
func DeriveProcess(prev, curr performance.ProcessStats, intervalSeconds float64, userHZ int64) ProcessRates {
	r := ProcessRates{PID: curr.PID}
	if intervalSeconds <= 0 || userHZ <= 0 {
		return r
	}

	cpuTicks := float64(counterDelta(prev.CPUTime, curr.CPUTime))
	r.CPUPercent = cpuTicks / float64(userHZ) / intervalSeconds * 100

	r.VoluntaryCtxtPerSec = float64(counterDelta(prev.VoluntaryCtxt, curr.VoluntaryCtxt)) / intervalSeconds
	r.InvoluntaryCtxtPerSec = float64(counterDelta(prev.InvoluntaryCtxt, curr.InvoluntaryCtxt)) / intervalSeconds
	r.MinorFaultsPerSec = float64(counterDelta(prev.MinorFaults, curr.MinorFaults)) / intervalSeconds
	r.MajorFaultsPerSec = float64(counterDelta(prev.MajorFaults, curr.MajorFaults)) / intervalSeconds

	return r
}
