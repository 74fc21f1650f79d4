// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import (
	"math"

	"github.com/antimetal/agent/pkg/performance"
)

// nearOverflow is the threshold sysstat uses to distinguish "this counter
// wrapped" from "this CPU just came back online and restarted from zero":
// a previous value this close to the 64-bit ceiling is assumed to be a
// wraparound in progress, not a genuine restart.
const nearOverflow = math.MaxUint64 - 0x7ffff

// CPURates holds the derived, percentage-normalized view of one CPU's
// jiffie counters for a single interval.
type CPURates struct {
	CPUIndex int32
	// Interval is the corrected tick count this CPU advanced by, used as
	// the percentage denominator; it can differ slightly from the
	// system-wide interval because ticks drift core to core.
	Interval uint64

	User, Nice, System, IOWait, IRQ, SoftIRQ, Steal, Idle, Guest, GuestNice float64
}

// DeriveCPU computes per-CPU utilization percentages from two raw samples,
// following sysstat's get_per_cpu_interval correction: ticks can drift
// slightly between CPUs, and the kernel's iowait/idle counters can both
// decrement in ways that do not indicate a counter reset (rd_stats.c).
//
// It returns the corrected "previous" sample alongside the rates; callers
// that persist state across ticks should store adjustedPrev in place of
// the raw previous sample so the next call's correction compounds
// correctly, without DeriveCPU itself mutating any shared state.
func DeriveCPU(prev, curr performance.CPUStats) (rates CPURates, adjustedPrev performance.CPUStats) {
	adjustedPrev = prev
	rates.CPUIndex = curr.CPUIndex

	currUser, prevUser := int64(curr.User)-int64(curr.Guest), int64(prev.User)-int64(prev.Guest)
	currNice, prevNice := int64(curr.Nice)-int64(curr.GuestNice), int64(prev.Nice)-int64(prev.GuestNice)

	var ishift int64
	if currUser < prevUser {
		ishift += prevUser - currUser
	}
	if currNice < prevNice {
		ishift += prevNice - currNice
	}

	if curr.IOWait < prev.IOWait && prev.IOWait < nearOverflow {
		if curr.Idle > prev.Idle || prev.Idle >= nearOverflow {
			adjustedPrev.IOWait = curr.IOWait
		} else {
			adjustedPrev.IOWait = 0
		}
	}
	if curr.Idle < prev.Idle && prev.Idle < nearOverflow {
		adjustedPrev.Idle = 0
	}

	sum := func(s performance.CPUStats) uint64 {
		return s.User + s.Nice + s.System + s.IOWait + s.Idle + s.Steal + s.IRQ + s.SoftIRQ
	}

	itv := int64(sum(curr)) - int64(sum(adjustedPrev)) + ishift
	if itv <= 0 {
		// No ticks advanced this interval: a tickless core spends the
		// whole interval idle rather than reporting every field as zero.
		rates.Idle = 100
		return rates, adjustedPrev
	}
	rates.Interval = uint64(itv)

	pct := func(p, c uint64) float64 {
		return sValue(p, c, float64(itv))
	}

	rates.User = pct(adjustedPrev.User, curr.User)
	rates.Nice = pct(adjustedPrev.Nice, curr.Nice)
	rates.System = pct(adjustedPrev.System, curr.System)
	rates.IOWait = pct(adjustedPrev.IOWait, curr.IOWait)
	rates.IRQ = pct(adjustedPrev.IRQ, curr.IRQ)
	rates.SoftIRQ = pct(adjustedPrev.SoftIRQ, curr.SoftIRQ)
	rates.Steal = pct(adjustedPrev.Steal, curr.Steal)
	rates.Idle = pct(adjustedPrev.Idle, curr.Idle)
	rates.Guest = pct(adjustedPrev.Guest, curr.Guest)
	rates.GuestNice = pct(adjustedPrev.GuestNice, curr.GuestNice)

	return rates, adjustedPrev
}

// sValue is the Go expression of sysstat's S_VALUE/SP_VALUE macro:
// ((curr-prev)/interval)*100. prev and curr are raw monotonic counters;
// a current value lower than previous (an unhandled wraparound) is
// clamped to zero rather than reported as a spurious deep negative,
// counter-reset invariant.
func sValue(prev, curr uint64, interval float64) float64 {
	if interval <= 0 {
		return 0
	}
	if curr < prev {
		return 0
	}
	return float64(curr-prev) / interval * 100
}

// AggregateNUMA sums per-CPU rates into one rate per NUMA node, given a
// mapping from CPU index to node ID such as MemoryInfo.NUMANodes[].CPUs
// already provides. A CPU not present in cpuToNode is skipped; percentages
// are re-averaged across the member CPUs, not summed, since each input is
// already itself a percentage.
func AggregateNUMA(rates []CPURates, cpuToNode map[int32]int32) map[int32]CPURates {
	sums := make(map[int32]CPURates)
	counts := make(map[int32]int)

	for _, r := range rates {
		node, ok := cpuToNode[r.CPUIndex]
		if !ok {
			continue
		}
		acc := sums[node]
		acc.CPUIndex = node
		acc.Interval += r.Interval
		acc.User += r.User
		acc.Nice += r.Nice
		acc.System += r.System
		acc.IOWait += r.IOWait
		acc.IRQ += r.IRQ
		acc.SoftIRQ += r.SoftIRQ
		acc.Steal += r.Steal
		acc.Idle += r.Idle
		acc.Guest += r.Guest
		acc.GuestNice += r.GuestNice
		sums[node] = acc
		counts[node]++
	}

	for node, n := range counts {
		if n == 0 {
			continue
		}
		acc := sums[node]
		div := float64(n)
		acc.User /= div
		acc.Nice /= div
		acc.System /= div
		acc.IOWait /= div
		acc.IRQ /= div
		acc.SoftIRQ /= div
		acc.Steal /= div
		acc.Idle /= div
		acc.Guest /= div
		acc.GuestNice /= div
		sums[node] = acc
	}

	return sums
}
