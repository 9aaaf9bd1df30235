package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"surveybot/internal/task/scheduler"
)

// ErrInvalid wraps every validation failure; the process refuses to start on it.
var ErrInvalid = errors.New("invalid config")

// DefaultFrequencies is the frequency keyboard when the file has none.
var DefaultFrequencies = []Frequency{
	{Key: "once_a_day", Every: "24h"},
	{Key: "twice_a_day", Every: "12h"},
	{Key: "twelve_a_day", Every: "2h"},
	{Key: "once_a_month", Every: "720h"},
	{Key: "every_2_seconds", Every: "2s"},
	{Key: "every_10_seconds", Every: "10s"},
}

// ApplyDefaults fills zero values. It never overrides explicit settings.
func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Telegram.Webhook.Path == "" {
		c.Telegram.Webhook.Path = "/telegram"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Survey.Locale == "" {
		c.Survey.Locale = "en"
	}
	if len(c.Survey.Frequencies) == 0 {
		c.Survey.Frequencies = append([]Frequency(nil), DefaultFrequencies...)
	}
	if c.Survey.DefaultFrequency == "" {
		c.Survey.DefaultFrequency = "once_a_day"
	}
	if c.Address.Source == "" {
		c.Address.Source = "wfs"
	}
	if c.Address.MaxResults <= 0 || c.Address.MaxResults > 50 {
		c.Address.MaxResults = 50
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

// FrequencyDurations returns the configured frequencies in keyboard order.
func (c *Config) FrequencyDurations() ([]NamedDuration, error) {
	out := make([]NamedDuration, 0, len(c.Survey.Frequencies))
	for i, f := range c.Survey.Frequencies {
		path := "survey.frequencies[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(f.Key) == "" {
			return nil, fmt.Errorf("%s: key is empty", path)
		}
		d, err := ParseDurationField(path+".every", f.Every)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s.every: must be > 0", path)
		}
		out = append(out, NamedDuration{Key: f.Key, Every: d})
	}
	return out, nil
}

type NamedDuration struct {
	Key   string
	Every time.Duration
}

// Validate reports the first configuration error. Durations, cron specs and
// required fields are checked so a bad reload never replaces a good config.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fail("telegram.token is required (or TOKEN)")
	}
	if strings.TrimSpace(c.Backend.APIURL) == "" {
		return fail("backend.api_url is required (or API_URL)")
	}
	if c.Survey.SurveyID <= 0 {
		return fail("survey.survey_id must be > 0 (or SURVEY_ID)")
	}
	if g := strings.TrimSpace(c.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return fail("telegram.group_log: %v", err)
		}
	}

	freqs, err := c.FrequencyDurations()
	if err != nil {
		return fail("%v", err)
	}
	seen := map[string]bool{}
	for _, f := range freqs {
		if seen[f.Key] {
			return fail("survey.frequencies: duplicate key %q", f.Key)
		}
		seen[f.Key] = true
	}
	if !seen[c.Survey.DefaultFrequency] {
		return fail("survey.default_frequency %q is not a configured frequency", c.Survey.DefaultFrequency)
	}

	durations := map[string]string{
		"telegram.poll_timeout":    c.Telegram.PollTimeout,
		"telegram.handler_timeout": c.Telegram.HandlerTimeout,
		"survey.catalog_ttl":       c.Survey.CatalogTTL,
		"backend.timeout":          c.Backend.Timeout,
		"outbox.retry_base":        c.Outbox.RetryBase,
		"outbox.retry_max_delay":   c.Outbox.RetryMaxDelay,
		"outbox.send_timeout":      c.Outbox.SendTimeout,
		"outbox.submit_timeout":    c.Outbox.SubmitTimeout,
		"http.read_timeout":        c.HTTP.ReadTimeout,
		"http.write_timeout":       c.HTTP.WriteTimeout,
		"http.idle_timeout":        c.HTTP.IdleTimeout,
		"scheduler.job_timeout":    c.Scheduler.JobTimeout,
	}
	if c.Storage != nil {
		durations["storage.busy_timeout"] = c.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return fail("%v", err)
		}
	}

	if c.Telegram.Webhook.URL != "" && !c.HTTP.Enabled {
		return fail("telegram.webhook.url needs http.enabled")
	}
	if !strings.HasPrefix(c.Telegram.Webhook.Path, "/") {
		return fail("telegram.webhook.path must start with '/'")
	}

	if c.Address.Enabled {
		switch c.Address.Source {
		case "wfs":
		case "file":
			if strings.TrimSpace(c.Address.Path) == "" {
				return fail("address.path is required for the file source")
			}
		default:
			return fail("address.source %q (want wfs or file)", c.Address.Source)
		}
		for _, d := range c.Address.Districts {
			if d < 1 || d > 23 {
				return fail("address.districts: %d is not a Vienna district", d)
			}
		}
	}

	for path, spec := range map[string]string{"address.refresh": c.Address.Refresh, "scheduler.retry_pending": c.Scheduler.RetryPending} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if err := scheduler.ValidateSchedule(spec); err != nil {
			return fail("%s: %v", path, err)
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fail("scheduler.timezone: %v", err)
		}
	}

	if c.Storage != nil {
		switch c.Storage.Driver {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(c.Storage.Path) == "" {
				return fail("storage.path is required for driver %q", c.Storage.Driver)
			}
		default:
			return fail("storage.driver %q (want file, sqlite or none)", c.Storage.Driver)
		}
	}
	return nil
}
