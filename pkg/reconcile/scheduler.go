// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowkode/hubdir/pkg/logger"
	"github.com/flowkode/hubdir/pkg/utils"
)

// Scheduler drives the engine on a fixed period. The next cycle is
// scheduled relative to the end of the previous one, so cycles never
// overlap and the store sees exactly one writer at a time.
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	// Jittered so restarting replicas do not all hit the hub at once.
	initialDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	synced atomic.Bool
}

func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:       engine,
		interval:     interval,
		initialDelay: utils.Jitter(2*time.Second, 0.5),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the sync loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()

	logger.Info().Dur("interval", s.interval).Msg("started sync scheduler")
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info().Msg("stopped sync scheduler")
}

// Synced reports whether at least one cycle has completed without error.
// Wired into the readiness probe.
func (s *Scheduler) Synced() bool {
	return s.synced.Load()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	// Short delay before the first cycle so the process surface (metrics,
	// probes) is up before the hub is hit.
	select {
	case <-time.After(s.initialDelay):
	case <-s.ctx.Done():
		return
	}

	for {
		res := s.engine.RunCycle(s.ctx)
		if res.Err == nil {
			s.synced.Store(true)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}
