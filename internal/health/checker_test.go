package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func flaky(fail *atomic.Bool) Probe {
	return Probe{Name: "ledger", Check: func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	}}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New([]Probe{flaky(&fail)}, Config{FailThreshold: 3}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		h.CheckAll(ctx)
		if _, ready := h.Snapshot(); !ready {
			t.Fatalf("degraded after %d failures, threshold is 3", i+1)
		}
	}

	h.CheckAll(ctx)
	st, ready := h.Snapshot()
	if ready {
		t.Fatal("expected not ready after 3 failures")
	}
	if st[0].Failures != 3 || st[0].LastError == "" {
		t.Errorf("unexpected status: %+v", st[0])
	}

	fail.Store(false)
	h.CheckAll(ctx)
	st, ready = h.Snapshot()
	if !ready || st[0].Failures != 0 || st[0].LastError != "" {
		t.Errorf("expected recovery, got %+v", st[0])
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	slow := Probe{Name: "store", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	h := New([]Probe{slow}, Config{ProbeTimeout: 10 * time.Millisecond, FailThreshold: 1}, zap.NewNop())

	h.CheckAll(context.Background())
	if _, ready := h.Snapshot(); ready {
		t.Error("expected timed-out probe to count as a failure")
	}
}

func TestCheckAll_recordsMetrics(t *testing.T) {
	var ok, failed atomic.Int32
	var fail atomic.Bool
	h := New([]Probe{flaky(&fail), {Name: "store", Check: func(context.Context) error { return nil }}},
		Config{}, zap.NewNop())
	h.SetMetricsRecord(func(_ string, success bool) {
		if success {
			ok.Add(1)
		} else {
			failed.Add(1)
		}
	})

	h.CheckAll(context.Background())
	fail.Store(true)
	h.CheckAll(context.Background())

	if ok.Load() != 3 || failed.Load() != 1 {
		t.Errorf("metrics: ok=%d failed=%d, want 3/1", ok.Load(), failed.Load())
	}
}

func TestRun_stopsOnCancel(t *testing.T) {
	h := New([]Probe{{Name: "store", Check: func(context.Context) error { return nil }}},
		Config{CheckInterval: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if st, _ := h.Snapshot(); st[0].CheckedAt.IsZero() {
		t.Error("expected at least one check")
	}
}
