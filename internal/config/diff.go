package config

import (
	"reflect"
	"sort"
	"strings"

	"surveybot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens and passwords are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.BotUsername != nt.BotUsername ||
		ot.Webhook != nt.Webhook ||
		ot.Workers != nt.Workers || ot.QueueSize != nt.QueueSize ||
		ot.HandlerTimeout != nt.HandlerTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.webhook", nt.Webhook.URL != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Survey, newCfg.Survey) {
		changed = append(changed, "survey")
		attrs = append(attrs,
			logx.Int64("survey.survey_id", newCfg.Survey.SurveyID),
			logx.String("survey.default_frequency", newCfg.Survey.DefaultFrequency),
			logx.Int("survey.frequency_count", len(newCfg.Survey.Frequencies)),
			logx.Bool("survey.multi_vote", newCfg.Survey.MultiVote),
		)
	}

	// Backend (never log password or header values)
	ob, nb := oldCfg.Backend, newCfg.Backend
	if ob.APIURL != nb.APIURL || ob.Username != nb.Username || ob.Password != nb.Password ||
		!reflect.DeepEqual(ob.Headers, nb.Headers) || ob.Timeout != nb.Timeout || ob.MaxTries != nb.MaxTries {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.api_url", nb.APIURL),
			logx.Int("backend.header_count", len(nb.Headers)),
			logx.Bool("backend.credentials_changed", ob.Username != nb.Username || ob.Password != nb.Password),
		)
	}

	if !reflect.DeepEqual(oldCfg.Address, newCfg.Address) {
		changed = append(changed, "address")
		attrs = append(attrs,
			logx.Bool("address.enabled", newCfg.Address.Enabled),
			logx.String("address.source", newCfg.Address.Source),
			logx.String("address.refresh", newCfg.Address.Refresh),
		)
	}

	if oldCfg.Outbox != newCfg.Outbox {
		changed = append(changed, "outbox")
		attrs = append(attrs,
			logx.Int("outbox.workers", newCfg.Outbox.Workers),
			logx.Int("outbox.rate_per_sec", newCfg.Outbox.RatePerSec),
			logx.Int("outbox.retry_max", newCfg.Outbox.RetryMax),
		)
	}

	// HTTP (never log debug token)
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.debug_token_set", newCfg.HTTP.DebugToken != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.retry_pending", newCfg.Scheduler.RetryPending),
		)
	}

	// Storage; nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "backend", "http", "storage":
			out = append(out, s)
		}
	}
	return out
}
