package app

import (
	"context"
	"strings"
	"time"

	"surveybot/internal/config"
	"surveybot/pkg/logx"
)

const (
	jobAddressRefresh  = "address.refresh"
	jobRetryPending    = "submissions.retry"
	jobCatalogExpire   = "catalog.expire"
	defaultCatalogTTL  = 0
	retryPendingBudget = 10 * time.Minute
)

// syncJobs makes the scheduler's job set match cfg. Jobs with an empty
// schedule are removed.
func (a *App) syncJobs(cfg *config.Config) {
	set := func(name, spec string, timeout time.Duration, job func(context.Context) error) {
		spec = strings.TrimSpace(spec)
		if spec == "" || job == nil {
			if a.sched.Remove(name) {
				a.log.Info("job removed", logx.String("name", name))
			}
			return
		}
		if err := a.sched.AddSchedule(name, spec, timeout, job); err != nil {
			a.log.Warn("job not scheduled", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		}
	}

	var refresh func(context.Context) error
	if a.addr != nil && cfg.Address.Enabled {
		refresh = a.addr.Refresh
	}
	set(jobAddressRefresh, cfg.Address.Refresh, 0, refresh)

	set(jobRetryPending, cfg.Scheduler.RetryPending, retryPendingBudget, func(ctx context.Context) error {
		sent, total, err := a.exec.RetryPending(ctx, 0)
		if total > 0 {
			a.log.Info("pending submissions retried", logx.Int("sent", sent), logx.Int("total", total))
		}
		return err
	})

	ttl, err := config.ParseDurationOrDefault("survey.catalog_ttl", cfg.Survey.CatalogTTL, defaultCatalogTTL)
	var expireSpec string
	if err == nil && ttl > 0 {
		expireSpec = "@every " + ttl.String()
	}
	surveyID := cfg.Survey.SurveyID
	set(jobCatalogExpire, expireSpec, time.Second, func(context.Context) error {
		a.survey.Catalogs().Invalidate(surveyID)
		return nil
	})
}
