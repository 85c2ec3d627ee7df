// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/shadowcheck/internal/detection"
	"github.com/tomtom215/shadowcheck/internal/metrics"
)

// mockRunner implements Runner for testing.
type mockRunner struct {
	calls   atomic.Int32
	err     error
	block   bool
	started chan struct{}
	release chan struct{}

	mu        sync.Mutex
	cancelled bool
}

func newMockRunner() *mockRunner {
	return &mockRunner{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
}

func (m *mockRunner) Run(ctx context.Context) (*detection.RunReport, error) {
	n := m.calls.Add(1)
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.block && n == 1 {
		select {
		case <-m.release:
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelled = true
			m.mu.Unlock()
			return &detection.RunReport{RunID: "r", Status: detection.RunAborted}, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &detection.RunReport{RunID: "r", Status: detection.RunSucceeded}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduler_RunOnStart(t *testing.T) {
	t.Parallel()

	runner := newMockRunner()
	s := New(runner, Config{Interval: time.Hour, RunOnStart: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool { return runner.calls.Load() == 1 })
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
}

func TestScheduler_Interval(t *testing.T) {
	t.Parallel()

	runner := newMockRunner()
	s := New(runner, Config{Interval: 10 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return runner.calls.Load() >= 3 })
	s.Stop()

	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	after := runner.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if got := runner.calls.Load(); got != after {
		t.Errorf("runs continued after Stop: %d -> %d", after, got)
	}
}

func TestScheduler_Trigger(t *testing.T) {
	t.Parallel()

	runner := newMockRunner()
	s := New(runner, Config{Interval: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if !s.Trigger() {
		t.Fatal("Trigger() = false on idle scheduler")
	}
	waitFor(t, func() bool { return runner.calls.Load() == 1 })
}

func TestScheduler_TriggerWhileBusy(t *testing.T) {
	t.Parallel()

	runner := newMockRunner()
	runner.block = true
	s := New(runner, Config{Interval: time.Hour, RunOnStart: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	<-runner.started
	if !s.Trigger() {
		t.Fatal("first Trigger() should queue")
	}
	if s.Trigger() {
		t.Error("second Trigger() should be dropped while one is pending")
	}
	close(runner.release)

	waitFor(t, func() bool { return runner.calls.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := runner.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2 (queued triggers collapse)", got)
	}
}

func TestScheduler_SkipsWhenEngineBusy(t *testing.T) {
	t.Parallel()

	before := testutil.ToFloat64(metrics.ScheduledRunsSkipped.WithLabelValues("startup"))

	runner := newMockRunner()
	runner.err = detection.ErrRunInProgress
	s := New(runner, Config{Interval: time.Hour, RunOnStart: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, func() bool {
		return testutil.ToFloat64(metrics.ScheduledRunsSkipped.WithLabelValues("startup")) > before
	})
}

func TestScheduler_StopCancelsRun(t *testing.T) {
	t.Parallel()

	runner := newMockRunner()
	runner.block = true
	s := New(runner, Config{Interval: time.Hour, RunOnStart: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-runner.started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if !runner.cancelled {
		t.Error("in-flight run was not cancelled")
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	t.Parallel()

	s := New(newMockRunner(), Config{Interval: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	t.Parallel()

	s := New(newMockRunner(), Config{})
	if s.config.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", s.config.Interval)
	}
}
