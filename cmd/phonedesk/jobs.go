package main

import (
	"github.com/goatkit/phonedesk/internal/config"
	"github.com/goatkit/phonedesk/internal/models"
	"github.com/goatkit/phonedesk/internal/services/scheduler"
)

// buildSchedulerJobs returns the configured jobs, or the built-in set when
// none are configured, minus any slug listed in disabled.
func buildSchedulerJobs(cfg *config.Config, disabled ...string) []*models.ScheduledJob {
	jobs := scheduler.DefaultJobs()
	if cfg != nil && len(cfg.Scheduler.Jobs) > 0 {
		jobs = make([]*models.ScheduledJob, 0, len(cfg.Scheduler.Jobs))
		for _, job := range cfg.Scheduler.Jobs {
			if job == nil {
				continue
			}
			if job.Name == "" {
				job.Name = job.Slug
			}
			jobs = append(jobs, job)
		}
	}
	for _, slug := range disabled {
		jobs = filterJobsBySlug(jobs, slug)
	}
	return jobs
}

func filterJobsBySlug(jobs []*models.ScheduledJob, slug string) []*models.ScheduledJob {
	if slug == "" || len(jobs) == 0 {
		return jobs
	}
	filtered := make([]*models.ScheduledJob, 0, len(jobs))
	for _, job := range jobs {
		if job == nil || job.Slug == slug {
			continue
		}
		filtered = append(filtered, job)
	}
	return filtered
}

func findJobBySlug(jobs []*models.ScheduledJob, slug string) *models.ScheduledJob {
	for _, job := range jobs {
		if job != nil && job.Slug == slug {
			return job
		}
	}
	return nil
}
