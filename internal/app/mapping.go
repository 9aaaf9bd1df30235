package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/address"
	"surveybot/internal/backend/limesurvey"
	"surveybot/internal/bot"
	"surveybot/internal/config"
	"surveybot/internal/observability/health"
	"surveybot/internal/outbox"
	"surveybot/internal/storage"
	"surveybot/internal/survey"
	"surveybot/internal/task/scheduler"
	telegram "surveybot/internal/transport/telegram/adapter"
	"surveybot/pkg/logx"
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	out := telegram.Config{
		Token:         cfg.Telegram.Token,
		PollTimeout:   poll,
		WebhookSecret: cfg.Telegram.Webhook.SecretToken,
		DropPending:   cfg.Telegram.Webhook.DropPending,
	}
	if u := strings.TrimRight(strings.TrimSpace(cfg.Telegram.Webhook.URL), "/"); u != "" {
		out.WebhookURL = u + cfg.Telegram.Webhook.Path
	}
	return out, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxBytes: cfg.Logging.File.MaxBytes,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// operatorChat parses telegram.group_log; 0 means unset.
func operatorChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapBackendConfig(cfg *config.Config) (limesurvey.Config, error) {
	timeout, err := config.ParseDurationOrDefault("backend.timeout", cfg.Backend.Timeout, 30*time.Second)
	if err != nil {
		return limesurvey.Config{}, err
	}
	return limesurvey.Config{
		URL:      cfg.Backend.APIURL,
		Username: cfg.Backend.Username,
		Password: cfg.Backend.Password,
		Headers:  cfg.Backend.Headers,
		Timeout:  timeout,
		MaxTries: cfg.Backend.MaxTries,
		Language: cfg.Survey.Locale,
	}, nil
}

func mapOutboxConfig(cfg *config.Config) (outbox.Config, error) {
	oc := cfg.Outbox
	base, err := config.ParseDurationOrDefault("outbox.retry_base", oc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return outbox.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("outbox.retry_max_delay", oc.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return outbox.Config{}, err
	}
	send, err := config.ParseDurationOrDefault("outbox.send_timeout", oc.SendTimeout, 15*time.Second)
	if err != nil {
		return outbox.Config{}, err
	}
	submit, err := config.ParseDurationOrDefault("outbox.submit_timeout", oc.SubmitTimeout, 3*time.Minute)
	if err != nil {
		return outbox.Config{}, err
	}
	return outbox.Config{
		Workers:       oc.Workers,
		QueueSize:     oc.QueueSize,
		RatePerSec:    oc.RatePerSec,
		RetryMax:      oc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   send,
		SubmitTimeout: submit,
	}, nil
}

// mapBotSettings also yields the survey core settings, which share the
// frequency table.
func mapBotSettings(cfg *config.Config) (bot.Settings, survey.Settings, error) {
	freqs, err := cfg.FrequencyDurations()
	if err != nil {
		return bot.Settings{}, survey.Settings{}, err
	}
	set := bot.Settings{
		SurveyID:         cfg.Survey.SurveyID,
		DefaultLocale:    cfg.Survey.Locale,
		DefaultFrequency: cfg.Survey.DefaultFrequency,
		ExtractImages:    cfg.Survey.ExtractImages,
		MaxResults:       cfg.Address.MaxResults,
	}
	var def time.Duration
	for _, f := range freqs {
		set.Frequencies = append(set.Frequencies, bot.Frequency{Key: f.Key, Every: f.Every})
		if f.Key == cfg.Survey.DefaultFrequency {
			def = f.Every
		}
	}
	if def <= 0 {
		return bot.Settings{}, survey.Settings{}, fmt.Errorf("survey.default_frequency %q is not configured", cfg.Survey.DefaultFrequency)
	}
	return set, survey.Settings{MultiVote: cfg.Survey.MultiVote, DefaultFrequency: def}, nil
}

// mapAddressSource returns nil when address search is disabled.
func mapAddressSource(cfg *config.Config, log logx.Logger) address.Source {
	ac := cfg.Address
	if !ac.Enabled {
		return nil
	}
	if ac.Source == "file" {
		return address.FileSource{Path: ac.Path}
	}
	return address.WFSSource{
		BaseURL:     ac.WFSURL,
		Districts:   ac.Districts,
		Concurrency: ac.Concurrency,
		Log:         log,
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       cfg.Scheduler.Timezone,
		DefaultTimeout: timeout,
	}, nil
}

func mapHealthConfig(cfg *config.Config) (health.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return health.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 60*time.Second)
	if err != nil {
		return health.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return health.Config{}, err
	}
	return health.Config{
		Enabled:      hc.Enabled,
		Addr:         hc.Addr,
		DebugToken:   hc.DebugToken,
		Pprof:        hc.Pprof,
		WebhookPath:  cfg.Telegram.Webhook.Path,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func handlerTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
