// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import "github.com/antimetal/agent/pkg/performance"

// IRQRates holds the derived per-CPU interrupt rate for one IRQ row.
type IRQRates struct {
	Name string
	// PerCPU is the per-second interrupt rate for each CPU column, in
	// the same column order as the sample's PerCPU slice.
	PerCPU []float64
}

// AlignIRQRows realigns two /proc/interrupts (or /proc/softirqs) samples
// by IRQ name rather than row position, since the kernel can insert,
// remove, or reorder rows as devices are hot-plugged. It returns one
// IRQRates per name present in curr; a name in prev but not curr is a
// retired interrupt and is omitted rather than reported as a cliff to
// zero.
func AlignIRQRows(prev, curr []performance.IRQStats, intervalSeconds float64) []IRQRates {
	if intervalSeconds <= 0 {
		return nil
	}

	prevByName := make(map[string]performance.IRQStats, len(prev))
	for _, row := range prev {
		if row.Name != "" {
			prevByName[row.Name] = row
		}
	}

	rates := make([]IRQRates, 0, len(curr))
	for _, c := range curr {
		if c.Name == "" {
			continue
		}
		p, hadPrev := prevByName[c.Name]

		perCPU := make([]float64, len(c.PerCPU))
		for i, currCount := range c.PerCPU {
			var prevCount uint64
			if hadPrev && i < len(p.PerCPU) {
				prevCount = p.PerCPU[i]
			}
			perCPU[i] = float64(counterDelta(prevCount, currCount)) / intervalSeconds
		}

		rates = append(rates, IRQRates{Name: c.Name, PerCPU: perCPU})
	}

	return rates
}
