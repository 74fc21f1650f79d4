// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import "github.com/antimetal/agent/pkg/performance"

// NetworkRates holds the per-second rates derived from two
// /proc/net/dev samples for one interface.
type NetworkRates struct {
	Interface string

	RxBytesPerSec   float64
	RxPacketsPerSec float64
	TxBytesPerSec   float64
	TxPacketsPerSec float64
	RxErrorsPerSec  float64
	TxErrorsPerSec  float64
	RxDroppedPerSec float64
	TxDroppedPerSec float64
}

// DeriveNetwork computes per-second interface rates from two raw samples.
func DeriveNetwork(prev, curr performance.NetworkStats, intervalSeconds float64) NetworkRates {
	r := NetworkRates{Interface: curr.Interface}
	if intervalSeconds <= 0 {
		return r
	}

	r.RxBytesPerSec = float64(counterDelta(prev.RxBytes, curr.RxBytes)) / intervalSeconds
	r.RxPacketsPerSec = float64(counterDelta(prev.RxPackets, curr.RxPackets)) / intervalSeconds
	r.TxBytesPerSec = float64(counterDelta(prev.TxBytes, curr.TxBytes)) / intervalSeconds
	r.TxPacketsPerSec = float64(counterDelta(prev.TxPackets, curr.TxPackets)) / intervalSeconds
	r.RxErrorsPerSec = float64(counterDelta(prev.RxErrors, curr.RxErrors)) / intervalSeconds
	r.TxErrorsPerSec = float64(counterDelta(prev.TxErrors, curr.TxErrors)) / intervalSeconds
	r.RxDroppedPerSec = float64(counterDelta(prev.RxDropped, curr.RxDropped)) / intervalSeconds
	r.TxDroppedPerSec = float64(counterDelta(prev.TxDropped, curr.TxDropped)) / intervalSeconds

	return r
}
