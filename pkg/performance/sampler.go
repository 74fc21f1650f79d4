// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"github.com/antimetal/agent/pkg/errors"
	"github.com/antimetal/agent/pkg/performance/engine"
	"github.com/antimetal/agent/pkg/performance/procutils"
)

// maxCollectAttempts bounds how many times Sampler calls a collector within
// one tick when the collector's error is marked retryable
// (pkg/errors.RetryableError). None of the collectors in this module returns
// such an error, so their failures are not retried.
const maxCollectAttempts = 4

// Sampler implements engine.Processor on top of the Manager's registered
// PointCollectors, pairing each collector's one-shot results across ticks.
// Sampler owns one engine.Registry per entity kind and feeds it from the
// collectors in a fixed order every tick.
type Sampler struct {
	logger    logr.Logger
	config    CollectionConfig
	collector *CollectorRegistry
	proc      *procutils.ProcUtils

	cpus  *engine.Registry[int32, CPUStats]
	disks *engine.Registry[string, DiskStats]
	nets  *engine.Registry[string, NetworkStats]
	procs *engine.Registry[int32, ProcessStats]
	tapes *engine.Registry[string, TapeStats]
	irqs  *engine.Registry[string, IRQStats]

	baseline *engine.Baseline
	metrics  *engine.Metrics
}

// NewSampler builds a Sampler. metrics may be nil, in which case the
// collector-error/active-entity instrumentation is simply not recorded.
func NewSampler(logger logr.Logger, config CollectionConfig, collector *CollectorRegistry, metrics *engine.Metrics) *Sampler {
	return &Sampler{
		logger:    logger.WithName("sampler"),
		config:    config,
		collector: collector,
		proc:      procutils.New(config.HostProcPath),
		metrics:   metrics,

		cpus:  engine.NewRegistry[int32, CPUStats](func(a, b int32) bool { return a < b }),
		disks: engine.NewRegistry[string, DiskStats](func(a, b string) bool { return a < b }),
		nets:  engine.NewRegistry[string, NetworkStats](func(a, b string) bool { return a < b }),
		procs: engine.NewRegistry[int32, ProcessStats](func(a, b int32) bool { return a < b }),
		tapes: engine.NewRegistry[string, TapeStats](func(a, b string) bool { return a < b }),
		irqs:  engine.NewRegistry[string, IRQStats](func(a, b string) bool { return a < b }),

		baseline: engine.NewBaseline(),
	}
}

// Sample runs every enabled PointCollector, in MetricType order, and folds
// each result into its entity registry.
// It satisfies engine.Processor.
func (s *Sampler) Sample(ctx context.Context) error {
	s.cpus.MarkAllAbsent()
	s.disks.MarkAllAbsent()
	s.nets.MarkAllAbsent()
	s.procs.MarkAllAbsent()
	s.tapes.MarkAllAbsent()
	s.irqs.MarkAllAbsent()

	// GetEnabledPoint returns its collectors from a map, whose iteration
	// order Go randomizes; sort by metric type so readers run in the same
	// fixed order every tick.
	readers := s.collector.GetEnabledPoint(s.config)
	sort.Slice(readers, func(i, j int) bool { return readers[i].Type() < readers[j].Type() })

	for _, c := range readers {
		data, err := s.collectWithRetry(ctx, c)
		if err != nil {
			// Every collector failure, on the first sample as on later
			// ones, is logged and skipped here; Sample never returns an
			// error, so a source that cannot be read does not end the run.
			s.logger.Error(err, "collector failed, skipping this tick", "type", c.Type())
			s.metrics.IncCollectError(string(c.Type()))
			continue
		}
		s.ingest(c.Type(), data)
	}

	s.cpus.ReapAbsent()
	s.disks.ReapAbsent()
	s.nets.ReapAbsent()
	s.procs.ReapAbsent()
	s.tapes.ReapAbsent()
	s.irqs.ReapAbsent()

	s.metrics.SetEntitiesActive("cpu", s.cpus.Len())
	s.metrics.SetEntitiesActive("disk", s.disks.Len())
	s.metrics.SetEntitiesActive("network", s.nets.Len())
	s.metrics.SetEntitiesActive("process", s.procs.Len())
	s.metrics.SetEntitiesActive("tape", s.tapes.Len())
	s.metrics.SetEntitiesActive("irq", s.irqs.Len())

	return nil
}

// collectWithRetry bounds a collector's "buffer too small" retry to
// maxCollectAttempts, using cenkalti/backoff/v5. Only errors a collector
// marks retryable via pkg/errors.RetryableError are retried; anything else
// returns immediately.
func (s *Sampler) collectWithRetry(ctx context.Context, c PointCollector) (any, error) {
	return backoff.Retry(ctx, func() (any, error) {
		data, err := c.Collect(ctx)
		if err != nil {
			if !errors.Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return data, nil
	}, backoff.WithMaxTries(maxCollectAttempts))
}

func (s *Sampler) ingest(metricType MetricType, data any) {
	switch metricType {
	case MetricTypeCPU:
		// CPUCollector.Collect returns []*CPUStats; the registry stores
		// values, so each entry is copied out of its pointer here.
		for _, cpu := range data.([]*CPUStats) {
			s.cpus.Update(cpu.CPUIndex, *cpu)
		}
	case MetricTypeDisk:
		// DiskCollector.Collect returns []*DiskStats, same reasoning.
		for _, disk := range data.([]*DiskStats) {
			s.disks.Update(disk.Device, *disk)
		}
	case MetricTypeNetwork:
		for _, net := range data.([]NetworkStats) {
			s.nets.Update(net.Interface, net)
		}
	case MetricTypeProcess:
		for _, proc := range data.([]ProcessStats) {
			s.procs.Update(proc.PID, proc)
		}
	case MetricTypeTape:
		for _, tape := range data.([]TapeStats) {
			s.tapes.Update(tape.Name, tape)
		}
	case MetricTypeIRQ:
		collection := data.(*IRQCollection)
		if collection == nil {
			return
		}
		for _, irq := range collection.IRQs {
			s.irqs.Update(irq.Name, irq)
		}
	}
}

// Derive computes and emits this interval's metrics for every registry,
// satisfying engine.Processor. Entities with no prev sample yet (first
// appearance) are skipped for this tick — the registry already holds
// their curr value as next tick's prev.
func (s *Sampler) Derive(ctx context.Context, sink engine.Sink, tick time.Time, intervalSeconds float64) error {
	if err := sink.BeginSample(tick); err != nil {
		return err
	}

	s.cpus.Each(func(idx int32, slot *engine.Slot[CPUStats]) {
		if !slot.HasPrev {
			return
		}
		rates, adjustedPrev := engine.DeriveCPU(slot.Prev, slot.Curr)
		slot.Prev = adjustedPrev
		s.baseline.Add(cpuKey(idx, "user"), rates.User)
		s.baseline.Add(cpuKey(idx, "system"), rates.System)
		_ = sink.Record("cpu", fmt.Sprintf("%d", idx), map[string]any{
			"user": rates.User, "nice": rates.Nice, "system": rates.System,
			"iowait": rates.IOWait, "irq": rates.IRQ, "softirq": rates.SoftIRQ,
			"steal": rates.Steal, "idle": rates.Idle, "guest": rates.Guest,
		})
	})

	s.disks.Each(func(device string, slot *engine.Slot[DiskStats]) {
		if !slot.HasPrev {
			return
		}
		if engine.DetectDiskChurn(slot.Prev, slot.Curr) {
			slot.Prev = DiskStats{Device: device}
		}
		d := engine.DeriveDisk(slot.Prev, slot.Curr, intervalSeconds)
		s.baseline.Add(diskKey(device, "util"), d.Util)
		_ = sink.Record("disk", device, map[string]any{
			"iops": d.IOPS, "rkB/s": d.ReadBytesPerSec / 1024, "wkB/s": d.WriteBytesPerSec / 1024,
			"util": d.Util, "await": d.Await, "arqsz": d.Arqsz,
			"rrqm": d.RRQMPercent, "wrqm": d.WRQMPercent, "avgqu": d.AvgQueueSize,
		})
	})

	s.nets.Each(func(iface string, slot *engine.Slot[NetworkStats]) {
		if !slot.HasPrev {
			return
		}
		n := engine.DeriveNetwork(slot.Prev, slot.Curr, intervalSeconds)
		_ = sink.Record("network", iface, map[string]any{
			"rxB/s": n.RxBytesPerSec, "txB/s": n.TxBytesPerSec,
			"rxpck/s": n.RxPacketsPerSec, "txpck/s": n.TxPacketsPerSec,
			"rxerr/s": n.RxErrorsPerSec, "txerr/s": n.TxErrorsPerSec,
		})
	})

	s.procs.Each(func(pid int32, slot *engine.Slot[ProcessStats]) {
		if !slot.HasPrev {
			return
		}
		userHZ, err := s.proc.GetUserHZ()
		if err != nil {
			userHZ = 100
		}
		p := engine.DeriveProcess(slot.Prev, slot.Curr, intervalSeconds, userHZ)
		_ = sink.Record("task", fmt.Sprintf("%d", pid), map[string]any{
			"command": slot.Curr.Command, "cpu": p.CPUPercent,
			"minflt/s": p.MinorFaultsPerSec, "majflt/s": p.MajorFaultsPerSec,
			"cswch/s": p.VoluntaryCtxtPerSec, "nvcswch/s": p.InvoluntaryCtxtPerSec,
		})
	})

	s.tapes.Each(func(name string, slot *engine.Slot[TapeStats]) {
		if !slot.HasPrev {
			return
		}
		t := engine.DeriveTape(slot.Prev, slot.Curr)
		_ = sink.Record("tape", name, map[string]any{
			"r/s": t.ReadsPerSec, "w/s": t.WritesPerSec,
			"rB/s": t.ReadBytesPerSec, "wB/s": t.WriteBytesPerSec, "util": t.Util,
		})
	})

	if rows := s.irqs.Keys(); len(rows) > 0 {
		prevRows := make([]IRQStats, 0, len(rows))
		currRows := make([]IRQStats, 0, len(rows))
		for _, name := range rows {
			slot := s.irqs.Get(name)
			if !slot.HasPrev {
				continue
			}
			prevRows = append(prevRows, slot.Prev)
			currRows = append(currRows, slot.Curr)
		}
		for _, r := range engine.AlignIRQRows(prevRows, currRows, intervalSeconds) {
			total := 0.0
			for _, v := range r.PerCPU {
				total += v
			}
			_ = sink.Record("irq", r.Name, map[string]any{"total/s": total})
		}
	}

	return sink.EndSample()
}

// Average emits the final since-start summary, satisfying engine.Processor.
// Only metrics explicitly folded into the baseline accumulator during
// Derive are reported; this mirrors sysstat's narrower "averages" column
// set rather than every instantaneous field.
func (s *Sampler) Average(ctx context.Context, sink engine.Sink, runStart, runEnd time.Time) error {
	if err := sink.BeginAverage(); err != nil {
		return err
	}

	s.cpus.Each(func(idx int32, slot *engine.Slot[CPUStats]) {
		user, hasUser := s.baseline.Average(cpuKey(idx, "user"))
		system, hasSystem := s.baseline.Average(cpuKey(idx, "system"))
		if !hasUser && !hasSystem {
			return
		}
		_ = sink.RecordAverage("cpu", fmt.Sprintf("%d", idx), map[string]any{
			"user": user, "system": system,
		})
	})

	s.disks.Each(func(device string, slot *engine.Slot[DiskStats]) {
		util, ok := s.baseline.Average(diskKey(device, "util"))
		if !ok {
			return
		}
		_ = sink.RecordAverage("disk", device, map[string]any{"util": util})
	})

	return sink.EndAverage()
}

func cpuKey(idx int32, field string) string { return fmt.Sprintf("cpu.%d.%s", idx, field) }
func diskKey(dev, field string) string      { return fmt.Sprintf("disk.%s.%s", dev, field) }
