package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as @every 1h.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Purger drops delivery records older than a cutoff.
type Purger interface {
	PurgeDeliveries(ctx context.Context, before time.Time) (int64, error)
}

// IdlePruner drops in-memory per-key state untouched since a cutoff.
type IdlePruner interface {
	PruneIdle(before time.Time) int
}

// LimiterIdle is how long per-user limiter state survives without use.
const LimiterIdle = time.Hour

// Maintenance runs the periodic delivery-record sweep on a cron schedule.
type Maintenance struct {
	purger    Purger
	retention time.Duration
	pruners   []IdlePruner
	cron      *cron.Cron
	now       func() time.Time
}

func NewMaintenance(purger Purger, retention time.Duration) *Maintenance {
	return &Maintenance{
		purger:    purger,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddPruner registers p with the sweep. Call it before Start.
func (m *Maintenance) AddPruner(p IdlePruner) {
	m.pruners = append(m.pruners, p)
}

// Start schedules the sweep. An empty spec disables it.
func (m *Maintenance) Start(spec string) error {
	if spec == "" {
		slog.Info("maintenance sweep disabled")
		return nil
	}
	if _, err := m.cron.AddFunc(spec, func() {
		if _, err := m.Sweep(context.Background()); err != nil {
			slog.Error("maintenance sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", spec, err)
	}
	m.cron.Start()
	return nil
}

// Sweep removes delivery records past the retention window and idle
// limiter state.
func (m *Maintenance) Sweep(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.retention)
	n, err := m.purger.PurgeDeliveries(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deliveries: %w", err)
	}
	idleCutoff := m.now().Add(-LimiterIdle)
	pruned := 0
	for _, p := range m.pruners {
		pruned += p.PruneIdle(idleCutoff)
	}
	debugLog("maintenance sweep", "purged", n, "cutoff", cutoff, "pruned", pruned)
	return n, nil
}

// Stop waits for a running sweep to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}
