package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePurger struct {
	before time.Time
	n      int64
	err    error
}

func (f *fakePurger) PurgeDeliveries(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.n, f.err
}

func TestMaintenanceSweepUsesRetention(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{n: 4}
	m := NewMaintenance(p, 48*time.Hour)
	m.now = func() time.Time { return now }

	n, err := m.Sweep(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("sweep = %d, %v", n, err)
	}
	if !p.before.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected cutoff %v", p.before)
	}

	p.err = errors.New("locked")
	if _, err := m.Sweep(context.Background()); err == nil {
		t.Fatal("expected purge error")
	}
}

func TestMaintenanceStartValidatesSpec(t *testing.T) {
	m := NewMaintenance(&fakePurger{}, time.Hour)
	if err := m.Start("not a cron spec"); err == nil {
		t.Fatal("expected invalid spec error")
	}
	if err := m.Start("@every 1h"); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()

	if err := NewMaintenance(&fakePurger{}, time.Hour).Start(""); err != nil {
		t.Fatalf("empty spec should disable the sweep: %v", err)
	}
}

type fakePruner struct {
	before []time.Time
}

func (f *fakePruner) PruneIdle(before time.Time) int {
	f.before = append(f.before, before)
	return 1
}

func TestMaintenanceSweepPrunesIdleState(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	pr := &fakePruner{}
	m := NewMaintenance(&fakePurger{}, 48*time.Hour)
	m.now = func() time.Time { return now }
	m.AddPruner(pr)

	if _, err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(pr.before) != 1 || !pr.before[0].Equal(now.Add(-LimiterIdle)) {
		t.Fatalf("unexpected prune cutoffs %v", pr.before)
	}
}
