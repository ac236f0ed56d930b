package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/convert"
	"github.com/goatkit/phonedesk/internal/models"
)

// Built-in handler names.
const (
	HandlerRiskSweep       = "asset.riskSweep"
	HandlerOverdueReminder = "inventory.overdueReminder"
)

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler(HandlerRiskSweep, s.handleRiskSweep)
	s.RegisterHandler(HandlerOverdueReminder, s.handleOverdueReminder)
}

func (s *Service) handleRiskSweep(ctx context.Context, job *models.ScheduledJob) error {
	if s.assets == nil {
		s.logger.Warn("asset service unavailable, skipping risk sweep")
		return nil
	}
	done := s.sweep.recordRun(job.Handler)
	defer done()

	flagged, err := s.assets.SweepDepartedApplicants(ctx)
	s.sweep.recordAffected(job.Handler, flagged)
	if err != nil {
		return err
	}
	if flagged > 0 {
		s.logger.Info("risk sweep flagged assets", zap.Int("flagged", flagged))
	}
	return nil
}

func (s *Service) handleOverdueReminder(ctx context.Context, job *models.ScheduledJob) error {
	if s.inventory == nil {
		s.logger.Warn("inventory service unavailable, skipping overdue reminders")
		return nil
	}
	if !convert.LookupBool(job.Config, "enabled", true) {
		return nil
	}
	done := s.sweep.recordRun(job.Handler)
	defer done()

	sent, err := s.inventory.RemindOverdue(ctx)
	s.sweep.recordAffected(job.Handler, sent)
	if err != nil {
		return err
	}
	if sent > 0 {
		s.logger.Info("overdue reminders sent", zap.Int("tasks", sent))
	}
	return nil
}

// DefaultJobs returns the job set used when none is configured.
func DefaultJobs() []*models.ScheduledJob {
	return []*models.ScheduledJob{
		{
			Name:           "Departed Applicant Risk Sweep",
			Slug:           "risk-sweep",
			Handler:        HandlerRiskSweep,
			Schedule:       "*/15 * * * *",
			TimeoutSeconds: 300,
		},
		{
			Name:           "Overdue Inventory Reminders",
			Slug:           "overdue-reminder",
			Handler:        HandlerOverdueReminder,
			Schedule:       "0 9 * * *",
			TimeoutSeconds: 120,
			Config: map[string]any{
				"enabled": true,
			},
		},
	}
}
