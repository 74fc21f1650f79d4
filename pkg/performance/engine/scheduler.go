// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// schedulerState names the states from INIT, FIRST_SAMPLE,
// WAIT, SAMPLE, TERMINATING. It exists only for logging; transitions are
// driven by Run's control flow, not a table.
type schedulerState int

const (
	stateInit schedulerState = iota
	stateFirstSample
	stateWait
	stateSample
	stateTerminating
)

func (s schedulerState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateFirstSample:
		return "FIRST_SAMPLE"
	case stateWait:
		return "WAIT"
	case stateSample:
		return "SAMPLE"
	case stateTerminating:
		return "TERMINATING"
	default:
		return "UNKNOWN"
	}
}

// Processor is what the Scheduler drives each tick. A Processor owns every
// Entity Registry the run needs and the collectors that feed them; the
// Scheduler itself holds none of that domain state, leaving collector
// ownership to the caller while the engine only sequences invocation.
//
// Sample must invoke every Source Reader, in the same fixed order every
// call, writing into each registry's curr slot. Derive must compute and emit this interval's
// metrics to sink; it is called after every ticker-driven Sample, and after
// the first Sample only when Interval is zero, or when Count is 1 and
// SkipFirstSample is unset. Average,
// called once at TERMINATING if averaging is enabled, derives and emits
// the run's baseline-to-final summary.
type Processor interface {
	Sample(ctx context.Context) error
	Derive(ctx context.Context, sink Sink, tick time.Time, intervalSeconds float64) error
	Average(ctx context.Context, sink Sink, runStart, runEnd time.Time) error
}

// Config configures one Scheduler run.
type Config struct {
	// Interval is the nominal period between samples. Zero selects
	// since-boot mode: exactly one sample is taken and labeled as covering
	// time since boot rather than since a synthetic zero prev.
	Interval time.Duration

	// Count bounds the number of derived samples emitted; zero means run
	// until cancelled.
	Count int

	// SkipFirstSample suppresses the first derived record (the `-y` flag
	// in) while still taking the underlying sample, so the
	// second sample has a valid prev.
	SkipFirstSample bool

	// AverageEnabled causes TERMINATING to call Processor.Average, which
	// emits a final average record over the run.
	AverageEnabled bool
}

// Scheduler is the Sampling Scheduler component: a
// single-threaded, cooperative read/derive/emit loop driven by a periodic
// timer and cancelled only by context cancellation (the caller is expected
// to wire SIGINT/SIGTERM into ctx, e.g. via signal.NotifyContext).
type Scheduler struct {
	cfg       Config
	processor Processor
	sink      Sink
	log       logr.Logger
	metrics   *Metrics

	state    schedulerState
	runStart time.Time
}

// NewScheduler builds a Scheduler. metrics may be nil, in which case the
// tick-duration/sink-error instrumentation is simply not recorded.
func NewScheduler(cfg Config, processor Processor, sink Sink, log logr.Logger, metrics *Metrics) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		processor: processor,
		sink:      sink,
		log:       log,
		metrics:   metrics,
		state:     stateInit,
	}
}

// Run executes the full INIT→FIRST_SAMPLE→WAIT/SAMPLE→TERMINATING cycle and
// blocks until ctx is cancelled or Count samples have been emitted. It
// returns an ExitCode rather than calling os.Exit, so the engine stays
// embeddable; the caller's front-end translates the code.
func (s *Scheduler) Run(ctx context.Context) (ExitCode, error) {
	s.state = stateInit
	s.runStart = time.Now()

	s.state = stateFirstSample
	s.log.V(1).Info("scheduler state transition", "state", s.state.String())
	tickStart := time.Now()
	if err := s.processor.Sample(ctx); err != nil {
		return ExitSourceUnreadable, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	if s.cfg.Interval <= 0 {
		// Since-boot mode: one sample, derived against a synthetic zero
		// prev, no timer loop.
		if err := s.processor.Derive(ctx, s.sink, s.runStart, 0); err != nil {
			s.metrics.IncSinkError()
			return ExitStdoutUnreachable, err
		}
		s.metrics.ObserveTick(time.Since(tickStart))
		return s.terminate(ctx, s.runStart)
	}

	if s.cfg.SkipFirstSample {
		// The sample was still taken above so the next tick has a prev;
		// only its emission is suppressed.
		s.log.V(1).Info("skipping emission of first sample per configuration")
		s.metrics.ObserveTick(time.Since(tickStart))
	} else if s.cfg.Count == 1 {
		// count=1 with a nonzero interval still yields exactly one record.
		if err := s.processor.Derive(ctx, s.sink, s.runStart, s.cfg.Interval.Seconds()); err != nil {
			s.metrics.IncSinkError()
			return ExitStdoutUnreachable, err
		}
		s.metrics.ObserveTick(time.Since(tickStart))
		return s.terminate(ctx, time.Now())
	}

	emitted := 0
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.state = stateWait
	s.log.V(1).Info("scheduler state transition", "state", s.state.String())

	for {
		select {
		case <-ctx.Done():
			return s.terminate(ctx, time.Now())

		case tick := <-ticker.C:
			s.state = stateSample
			loopTickStart := time.Now()
			if err := s.processor.Sample(ctx); err != nil {
				// A transient per-tick read failure is absorbed by the
				// Processor/collectors beneath this call; only
				// required-source failures reach here.
				return ExitSourceUnreadable, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
			}

			// SkipFirstSample only ever suppresses FIRST_SAMPLE's record
			// (handled before the loop); every tick here is emitted.
			if err := s.processor.Derive(ctx, s.sink, tick, s.cfg.Interval.Seconds()); err != nil {
				s.metrics.IncSinkError()
				return ExitStdoutUnreachable, err
			}
			emitted++
			s.metrics.ObserveTick(time.Since(loopTickStart))

			if s.cfg.Count > 0 && emitted >= s.cfg.Count {
				return s.terminate(ctx, tick)
			}

			s.state = stateWait
		}
	}
}

// terminate runs the TERMINATING state: emit the final average record if
// configured, regardless of how the loop ended, so output shape stays
// deterministic.
func (s *Scheduler) terminate(ctx context.Context, runEnd time.Time) (ExitCode, error) {
	s.state = stateTerminating
	s.log.V(1).Info("scheduler state transition", "state", s.state.String())

	if s.cfg.AverageEnabled {
		if err := s.processor.Average(ctx, s.sink, s.runStart, runEnd); err != nil {
			s.metrics.IncSinkError()
			return ExitStdoutUnreachable, err
		}
	}
	return ExitOK, nil
}
