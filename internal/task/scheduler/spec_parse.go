package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind is either a cron expression or a fixed interval.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string after ParseSchedule. Source names the
// accepted form: "cron", "duration", "seconds" or "hhmm".
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string
}

// cronParser accepts five or six fields and descriptors such as @daily and
// "@every 10m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var errNotPositive = errors.New("interval must be > 0")

// ParseSchedule accepts the schedule forms used in config.yaml:
//
//	"0 3 * * *", "@daily", "@every 10m"   cron (any whitespace or leading @)
//	"6h", "90m"                            Go duration
//	"600"                                  seconds, like other config durations
//	"06:30"                                hours and minutes
//
// A "cron:" prefix forces cron; "every:" or "interval:" forces an interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}
	prefix, rest, found := strings.Cut(s, ":")
	if found {
		switch strings.ToLower(prefix) {
		case "cron":
			if rest = strings.TrimSpace(rest); rest == "" {
				return ParsedSpec{}, errors.New("cron expression required after 'cron:'")
			}
			return ParsedSpec{Kind: SpecCron, Cron: rest, Source: "cron"}, nil
		case "every", "interval":
			return parseInterval(rest)
		}
	}
	if s[0] == '@' || strings.ContainsAny(s, " \t") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	ps, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '0 3 * * *', HH:MM like '06:00', or a duration like '6h')", raw)
	}
	return ps, nil
}

func parseInterval(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	var (
		d   time.Duration
		src string
		err error
	)
	switch {
	case v == "":
		return ParsedSpec{}, errors.New("interval required")
	case strings.Contains(v, ":"):
		d, err = parseHHMM(v)
		src = "hhmm"
	default:
		if n, aerr := strconv.Atoi(v); aerr == nil {
			d, src = time.Duration(n)*time.Second, "seconds"
		} else {
			d, err = time.ParseDuration(v)
			src = "duration"
		}
	}
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return ParsedSpec{}, errNotPositive
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	hs, ms, _ := strings.Cut(v, ":")
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || len(hs) > 3 {
		return 0, fmt.Errorf("bad hours %q", hs)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || len(ms) != 2 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minutes %q", ms)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// ValidateSchedule reports whether AddSchedule would accept spec.
func ValidateSchedule(spec string) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		_, err = cronParser.Parse(ps.Cron)
	}
	return err
}
