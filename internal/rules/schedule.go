package rules

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/models"
)

// scheduleMatches checks whether now, in the schedule's timezone, falls
// within the configured window. Misconfigured schedules fail open: an
// unknown timezone falls back to UTC and unparseable times match, both with
// a warning, so a bad schedule never silences a rule.
func scheduleMatches(ruleName string, sched *models.Schedule, now time.Time) bool {
	if sched == nil {
		return true
	}

	tz := strings.TrimSpace(sched.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Err(err).Str("rule", ruleName).Str("timezone", tz).Msg("Unknown timezone in schedule, using UTC")
		loc = time.UTC
	}

	localNow := now.In(loc)

	if len(sched.Days) > 0 {
		dayName := strings.ToLower(localNow.Format("Monday"))
		found := false
		for _, d := range sched.Days {
			if strings.EqualFold(strings.TrimSpace(d), dayName) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if sched.StartTime == "" && sched.EndTime == "" {
		return true
	}

	startTime, err := time.ParseInLocation("15:04", sched.StartTime, loc)
	if err != nil {
		log.Warn().Err(err).Str("rule", ruleName).Str("start", sched.StartTime).Msg("Unparseable schedule start time, treating as matching")
		return true
	}
	endTime, err := time.ParseInLocation("15:04", sched.EndTime, loc)
	if err != nil {
		log.Warn().Err(err).Str("rule", ruleName).Str("end", sched.EndTime).Msg("Unparseable schedule end time, treating as matching")
		return true
	}

	// Pin both times to today's date in the schedule's zone.
	start := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), startTime.Hour(), startTime.Minute(), 0, 0, loc)
	end := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), endTime.Hour(), endTime.Minute(), 0, 0, loc)

	if end.Before(start) {
		// Overnight window, e.g. 22:00 to 06:00.
		return !localNow.Before(start) || localNow.Before(end)
	}
	return !localNow.Before(start) && localNow.Before(end)
}
