package housekeeping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "mailqueue/pkg/logx"
)

type fakePruner struct {
	mu        sync.Mutex
	keep      int
	olderThan time.Time
	calls     int
	err       error
}

func (f *fakePruner) PruneHistory(_ context.Context, keep int, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keep, f.olderThan = keep, olderThan
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

func TestRunOncePassesKeepAndCutoff(t *testing.T) {
	p := &fakePruner{}
	s := New(Config{Enabled: true, Keep: 100, Retention: time.Hour}, p, nopLogger())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.RunOnce(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if p.keep != 100 || !p.olderThan.Equal(fixed.Add(-time.Hour)) {
		t.Fatalf("pruner got keep=%d olderThan=%v", p.keep, p.olderThan)
	}
	if at, err := s.LastRun(); !at.Equal(fixed) || err != nil {
		t.Fatalf("LastRun = %v, %v", at, err)
	}
}

func TestRunOnceWithoutRetentionUsesZeroCutoff(t *testing.T) {
	p := &fakePruner{}
	s := New(Config{Enabled: true, Keep: 5}, p, nopLogger())
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !p.olderThan.IsZero() {
		t.Fatalf("olderThan = %v, want zero", p.olderThan)
	}
}

func TestRunOnceReportsError(t *testing.T) {
	p := &fakePruner{err: errors.New("disk full")}
	s := New(Config{Enabled: true}, p, nopLogger())
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.LastRun(); err == nil {
		t.Fatal("LastRun should keep the error")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Config{Enabled: true, Schedule: "whenever"}, &fakePruner{}, nopLogger())
	if err := s.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	s := New(Config{}, &fakePruner{}, nopLogger())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop(context.Background())
}

func TestApplyReschedules(t *testing.T) {
	s := New(Config{Enabled: true}, &fakePruner{}, nopLogger())
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())
	if err := s.Apply(Config{Enabled: true, Schedule: "*/5 * * * *"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "nope"}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func nopLogger() logx.Logger { return logx.Nop() }
