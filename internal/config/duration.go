package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// descriptorParser only accepts descriptors; "@every" is the one that maps to
// a fixed interval.
var descriptorParser = cron.NewParser(cron.Descriptor)

// ParseInterval parses a task interval.
//
// Supported forms:
//   - Go duration: "250ms", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - cron descriptor: "@every 1m30s" (robfig/cron rounds to whole seconds, minimum 1s)
//
// A zero interval is valid and means "every tick".
func ParseInterval(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%s: interval required", path)
	}

	if strings.HasPrefix(s, "@") {
		sched, err := descriptorParser.Parse(s)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid descriptor %q: %w", path, raw, err)
		}
		every, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("%s: only @every descriptors map to an interval, got %q", path, raw)
		}
		return every.Delay, nil
	}

	if m := reHHMM.FindStringSubmatch(s); len(m) == 3 {
		var hh int
		for i := 0; i < len(m[1]); i++ {
			hh = hh*10 + int(m[1][i]-'0')
		}
		mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return 0, fmt.Errorf("%s: invalid minutes in %q", path, raw)
		}
		return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid interval %q (use a duration like '30s', HH:MM like '00:05', or '@every 1m')", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: interval must be >= 0", path)
	}
	return d, nil
}
