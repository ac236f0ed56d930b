package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/metrics"
	"github.com/goatkit/phonedesk/internal/models"
)

// riskSweeper flags assets whose applicant has departed.
type riskSweeper interface {
	SweepDepartedApplicants(ctx context.Context) (int, error)
}

// overdueReminder nudges employees holding pending items of overdue tasks.
type overdueReminder interface {
	RemindOverdue(ctx context.Context) (int, error)
}

type options struct {
	Logger    *zap.Logger
	Assets    riskSweeper
	Inventory overdueReminder
	Locker    keylock.Locker
	Metrics   *metrics.Collectors
	Cron      *cron.Cron
	Parser    cron.Parser
	Jobs      []*models.ScheduledJob
	Location  *time.Location
	Clock     func() time.Time
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   zap.NewNop(),
		Location: time.UTC,
		Parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		Clock:    time.Now,
	}
}

// WithLogger injects a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithRiskSweeper injects the asset service used by the departed-applicant sweep.
func WithRiskSweeper(s riskSweeper) Option {
	return func(o *options) {
		o.Assets = s
	}
}

// WithOverdueReminder injects the inventory service used for overdue reminders.
func WithOverdueReminder(r overdueReminder) Option {
	return func(o *options) {
		o.Inventory = r
	}
}

// WithLocker makes each job run at most once at a time across every process
// sharing the locker.
func WithLocker(l keylock.Locker) Option {
	return func(o *options) {
		o.Locker = l
	}
}

// WithMetrics records job runs.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) {
		o.Metrics = m
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithCronParser allows replacing the cron expression parser.
func WithCronParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithJobs registers explicit job definitions instead of defaults.
func WithJobs(jobs []*models.ScheduledJob) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.Location = loc
		}
	}
}

// WithClock overrides the time source reported in job status.
func WithClock(c func() time.Time) Option {
	return func(o *options) {
		if c != nil {
			o.Clock = c
		}
	}
}
