// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"context"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/antimetal/agent/pkg/performance/engine"
)

// Manager coordinates collector registration and runs the sampling loop (Run)
type Manager struct {
	config      CollectionConfig
	logger      logr.Logger
	registry    *CollectorRegistry
	nodeName    string
	clusterName string
	metrics     *engine.Metrics
}

type ManagerOptions struct {
	Config      CollectionConfig
	Logger      logr.Logger
	NodeName    string
	ClusterName string
	// MetricsRegisterer registers the engine's tick/collector-error/
	// sink-error instrumentation if set. Run's instrumentation stays live
	// (counting, not scraped) when left nil.
	MetricsRegisterer prometheus.Registerer
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Logger.GetSink() == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Get node name from environment if not provided
	nodeName := opts.NodeName
	if nodeName == "" {
		nodeName = os.Getenv("NODE_NAME")
		if nodeName == "" {
			hostname, err := os.Hostname()
			if err != nil {
				return nil, fmt.Errorf("failed to get hostname: %w", err)
			}
			nodeName = hostname
		}
	}

	// Apply defaults to config
	config := opts.Config
	config.ApplyDefaults()

	// Override paths for containerized environments
	if os.Getenv("HOST_PROC") != "" {
		config.HostProcPath = os.Getenv("HOST_PROC")
	}
	if os.Getenv("HOST_SYS") != "" {
		config.HostSysPath = os.Getenv("HOST_SYS")
	}
	if os.Getenv("HOST_DEV") != "" {
		config.HostDevPath = os.Getenv("HOST_DEV")
	}

	m := &Manager{
		config:      config,
		logger:      opts.Logger.WithName("performance-manager"),
		registry:    NewCollectorRegistry(opts.Logger),
		nodeName:    nodeName,
		clusterName: opts.ClusterName,
		metrics:     engine.NewMetrics(opts.MetricsRegisterer),
	}

	return m, nil
}

func (m *Manager) RegisterPointCollector(collector PointCollector) error {
	return m.registry.RegisterPoint(collector)
}

func (m *Manager) RegisterContinuousCollector(collector ContinuousCollector) error {
	return m.registry.RegisterContinuous(collector)
}

// GetRegistry returns the collector registry for inspection
func (m *Manager) GetRegistry() *CollectorRegistry {
	return m.registry
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() CollectionConfig {
	return m.config
}

// GetNodeName returns the node name
func (m *Manager) GetNodeName() string {
	return m.nodeName
}

// GetClusterName returns the cluster name
func (m *Manager) GetClusterName() string {
	return m.clusterName
}

// Run drives the core sampling loop: it builds a Sampler over this
// Manager's registered point collectors and hands it to an engine.Scheduler
// configured by schedCfg, emitting to sink. It blocks until ctx is
// cancelled or the configured sample count is reached.
//
// Continuous collectors (currently only KernelCollector's /dev/kmsg
// tailer) run independently of the sampling tick: auxiliary continuous
// readers are supervised rather than folded into the single-threaded
// sample loop, with their goroutines managed via golang.org/x/sync/errgroup.
// The first failure among them cancels the other continuous collectors; the
// sampling loop keeps running, and that error is returned once the loop ends
// if the loop itself returned none.
func (m *Manager) Run(ctx context.Context, sink engine.Sink, schedCfg engine.Config) (engine.ExitCode, error) {
	auxCtx, cancelAux := context.WithCancel(ctx)
	defer cancelAux()
	group, groupCtx := errgroup.WithContext(auxCtx)

	for _, cc := range m.registry.GetEnabledContinuous(m.config) {
		cc := cc
		group.Go(func() error {
			ch, err := cc.Start(groupCtx)
			if err != nil {
				return fmt.Errorf("starting continuous collector %s: %w", cc.Name(), err)
			}
			defer cc.Stop()

			for {
				select {
				case <-groupCtx.Done():
					return nil
				case msg, ok := <-ch:
					if !ok {
						return nil
					}
					_ = sink.Record(string(cc.Type()), cc.Name(), map[string]any{"payload": msg})
				}
			}
		})
	}

	sampler := NewSampler(m.logger, m.config, m.registry, m.metrics)
	scheduler := engine.NewScheduler(schedCfg, sampler, sink, m.logger, m.metrics)

	exitCode, runErr := scheduler.Run(ctx)
	cancelAux()

	if err := group.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	return exitCode, runErr
}
