package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the deployment variables. Set values win over the file,
// which keeps secrets out of it.
type envOverrides struct {
	Token       string  `env:"TOKEN"`
	BotUsername string  `env:"BOT_USERNAME"`
	WebhookURL  string  `env:"URL"`
	Host        string  `env:"HOST"`
	Port        string  `env:"PORT"`
	APIURL      string  `env:"API_URL"`
	Login       string  `env:"LOGIN"`
	Password    string  `env:"PASSWORD"`
	Headers     string  `env:"HEADERS"` // JSON object
	SurveyID    string  `env:"SURVEY_ID"`
	Owners      []int64 `env:"OWNER_USER_IDS" envSeparator:","`
	DebugToken  string  `env:"DEBUG_TOKEN"`
}

// ApplyEnv overlays environment variables onto cfg. environ replaces the
// process environment when non-nil.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var e envOverrides
	var err error
	if environ != nil {
		err = env.ParseWithOptions(&e, env.Options{Environment: environ})
	} else {
		err = env.Parse(&e)
	}
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, e.Token)
	set(&cfg.Telegram.BotUsername, e.BotUsername)
	set(&cfg.Telegram.Webhook.URL, e.WebhookURL)
	set(&cfg.Backend.APIURL, e.APIURL)
	set(&cfg.Backend.Username, e.Login)
	set(&cfg.Backend.Password, e.Password)
	set(&cfg.HTTP.DebugToken, e.DebugToken)
	if len(e.Owners) > 0 {
		cfg.Telegram.OwnerUserIDs = e.Owners
	}

	if h := strings.TrimSpace(e.Headers); h != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(h), &headers); err != nil {
			return fmt.Errorf("HEADERS: %w", err)
		}
		cfg.Backend.Headers = headers
	}
	if s := strings.TrimSpace(e.SurveyID); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("SURVEY_ID: %w", err)
		}
		cfg.Survey.SurveyID = id
	}
	// PORT (and optionally HOST) turn the HTTP server on, as the webhook needs it.
	if port := strings.TrimSpace(e.Port); port != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = net.JoinHostPort(strings.TrimSpace(e.Host), port)
	}
	return nil
}
