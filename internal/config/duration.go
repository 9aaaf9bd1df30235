package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration ("90s", "2h") or a bare number of
// seconds ("10"), the unit frequencies were configured in historically.
// Empty means zero. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(secs) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use e.g. \"10s\", \"2h\" or seconds)", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// UnmarshalJSON accepts "every" as a string or a bare number of seconds.
func (f *Frequency) UnmarshalJSON(b []byte) error {
	var raw struct {
		Key   string          `json:"key"`
		Every json.RawMessage `json:"every"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	f.Key = raw.Key
	f.Every = ""
	if len(raw.Every) == 0 || string(raw.Every) == "null" {
		return nil
	}
	if raw.Every[0] == '"' {
		return json.Unmarshal(raw.Every, &f.Every)
	}
	var n json.Number
	if err := json.Unmarshal(raw.Every, &n); err != nil {
		return fmt.Errorf("frequency %q: every: %w", raw.Key, err)
	}
	f.Every = n.String()
	return nil
}
