package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrNeverFires marks a syntactically valid expression with no future fire
// time, such as "0 0 30 2 *".
var ErrNeverFires = errors.New("cron expression never fires")

// ParseCron parses a standard 5-field expression (or a descriptor such as
// @hourly) evaluated in the IANA timezone tz. An empty tz means UTC.
func ParseCron(expression, tz string) (cron.Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	if strings.HasPrefix(expression, "TZ=") || strings.HasPrefix(expression, "CRON_TZ=") {
		return nil, fmt.Errorf("cron expression must not carry its own timezone")
	}

	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	schedule, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", tz, expression))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return schedule, nil
}

// NextFire returns the first fire time strictly after after. An expression
// with no such time yields ErrNeverFires.
func NextFire(expression, tz string, after time.Time) (time.Time, error) {
	schedule, err := ParseCron(expression, tz)
	if err != nil {
		return time.Time{}, err
	}
	next := schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNeverFires, expression)
	}
	return next, nil
}
