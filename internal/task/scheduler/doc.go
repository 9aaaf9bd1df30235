// Package scheduler runs the bot's housekeeping jobs (address index refresh,
// resubmission of pending survey responses) on cron or interval schedules.
//
// Jobs run on the cron goroutine with a per-job timeout. A job that is still
// running when its next trigger fires is skipped, not queued.
package scheduler
