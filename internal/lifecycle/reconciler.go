package lifecycle

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/overlab/overlab/pkg/logger"
)

// Reconciler runs periodic reconciliation sweeps on a cron schedule.
type Reconciler struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
}

// NewReconciler wires a manager to a cron schedule such as "@every 5m".
func NewReconciler(m *Manager, schedule string) *Reconciler {
	return &Reconciler{manager: m, schedule: schedule}
}

// Start schedules the sweep and runs one immediately in the background so
// drift accumulated while the service was down is corrected on boot.
func (r *Reconciler) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, r.sweep); err != nil {
		return err
	}
	r.cron.Start()
	logger.Infof("reconciler: scheduled with %q", r.schedule)
	go r.sweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reconciler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := r.manager.Reconcile(ctx)
	if err != nil {
		logger.Errorf("reconciler: sweep failed: %v", err)
		return
	}
	if report.Recreated > 0 || report.TornDown > 0 || report.Errors > 0 {
		logger.Infof("reconciler: checked %d bindings, recreated %d, tore down %d, %d errors",
			report.Checked, report.Recreated, report.TornDown, report.Errors)
	} else {
		logger.Debugf("reconciler: checked %d bindings, no drift", report.Checked)
	}
}
