package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Survey   SurveyConfig   `json:"survey"`
	Backend  BackendConfig  `json:"backend"`
	Address  AddressConfig  `json:"address"`
	Outbox   OutboxConfig   `json:"outbox"`
	HTTP     HTTPConfig     `json:"http"`

	// Scheduler runs the periodic jobs (address refresh, pending retry).
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is optional; nil keeps preferences in memory only.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// BotUsername is the @name groups must mention. Defaults to getMe.
	BotUsername  string  `json:"bot_username,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the operator chat id receiving mirrored log lines.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`

	// Webhook switches from long polling to webhook delivery when URL is set.
	Webhook WebhookConfig `json:"webhook"`

	// Workers and QueueSize size the per-chat dispatch pool.
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// HandlerTimeout bounds a single command/callback handler.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

// WebhookConfig. Telegram posts updates to URL + Path; the HTTP server mounts Path.
type WebhookConfig struct {
	URL         string `json:"url,omitempty"`
	Path        string `json:"path,omitempty"` // default: "/telegram"
	SecretToken string `json:"secret_token,omitempty"`
	DropPending bool   `json:"drop_pending,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled  bool   `json:"enabled"`
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SurveyConfig controls what is asked and how often.
//
// Frequencies maps a key (used in callbacks and /setfrequency) to a Go
// duration string. Order is the keyboard order.
type SurveyConfig struct {
	SurveyID         int64       `json:"survey_id"`
	Locale           string      `json:"locale,omitempty"` // default: "en"
	DefaultFrequency string      `json:"default_frequency,omitempty"`
	Frequencies      []Frequency `json:"frequencies,omitempty"`
	// MultiVote lets /start restart an unfinished survey.
	MultiVote     bool `json:"multi_vote,omitempty"`
	ExtractImages bool `json:"extract_images,omitempty"`
	// CatalogTTL is how long fetched questions are cached; "0s" caches until /reload.
	CatalogTTL string `json:"catalog_ttl,omitempty"`
}

type Frequency struct {
	Key   string `json:"key"`
	Every string `json:"every"`
}

// BackendConfig is the LimeSurvey RemoteControl endpoint.
type BackendConfig struct {
	APIURL   string            `json:"api_url"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
	MaxTries uint              `json:"max_tries,omitempty"`
}

type AddressConfig struct {
	Enabled bool `json:"enabled"`
	// Source is "wfs" (Vienna open data) or "file".
	Source      string `json:"source"`
	Path        string `json:"path,omitempty"`
	WFSURL      string `json:"wfs_url,omitempty"`
	Districts   []int  `json:"districts,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	// QuestionCodes are question titles answered by inline search.
	QuestionCodes []string `json:"question_codes,omitempty"`
	// Refresh is a cron spec or "@every <duration>"; empty disables.
	Refresh    string `json:"refresh,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// OutboxConfig controls effect delivery (messages and submissions).
type OutboxConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	// SubmitTimeout bounds one backend submission including its retries.
	SubmitTimeout string `json:"submit_timeout,omitempty"`
}

// HTTPConfig controls the health/webhook/debug server.
//
// Security note: /debug routes require DebugToken. Without it they are not mounted.
type HTTPConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"` // default: HOST:PORT or ":8080"
	DebugToken string `json:"debug_token,omitempty"`
	Pprof      bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// RetryPending is a cron spec for resubmitting pending responses; empty disables.
	RetryPending string `json:"retry_pending,omitempty"`
	// JobTimeout bounds one job run.
	JobTimeout string `json:"job_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./surveybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
