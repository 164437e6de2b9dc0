package task

import (
	"math/rand"
	"time"
)

func randFloat() float64 { return rand.Float64() }

// PlanNextRun computes when a recurring task next becomes eligible (spec
// §4.2), following smart_scheduler.py's _calculate_next_run /
// _calculate_adaptive_schedule. history is the task's execution ring,
// oldest first, used only by ScheduleAdaptive.
func PlanNextRun(cfg ScheduleConfig, now time.Time, history []ExecutionRecord) time.Time {
	loc := loadLocation(cfg.Timezone)
	local := now.In(loc)

	var next time.Time
	switch cfg.Kind {
	case ScheduleContinuous:
		next = now.Add(30 * time.Second)
	case ScheduleInterval:
		minutes := cfg.IntervalMinutes
		if minutes <= 0 {
			minutes = 60
		}
		next = now.Add(time.Duration(minutes) * time.Minute)
	case ScheduleDaily:
		next = nextDailyTime(local, cfg.SpecificTimes)
	case ScheduleWeekly:
		next = nextWeeklyTime(local, cfg.SpecificTimes, cfg.DaysOfWeek)
	case ScheduleMonthly:
		// same time-of-day, first day of next month local time the task
		// isn't already past this month.
		next = nextMonthlyTime(local, cfg.SpecificTimes)
	case ScheduleAdaptive:
		next = adaptiveNextRun(now, history)
	case ScheduleCustom:
		next = nextDailyTime(local, cfg.SpecificTimes)
	default:
		next = now.Add(time.Hour)
	}

	return skipBlackout(next, cfg.BlackoutWindows, loc)
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func nextDailyTime(local time.Time, times []TimeOfDay) time.Time {
	if len(times) == 0 {
		return local.Add(24 * time.Hour)
	}
	best := local.AddDate(0, 0, 1)
	found := false
	for _, t := range times {
		candidate := time.Date(local.Year(), local.Month(), local.Day(), t.Hour, t.Minute, 0, 0, local.Location())
		if candidate.After(local) {
			if !found || candidate.Before(best) {
				best = candidate
				found = true
			}
		}
	}
	if found {
		return best
	}
	// every configured time today has passed: earliest tomorrow.
	tomorrow := local.AddDate(0, 0, 1)
	best = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 23, 59, 0, 0, local.Location())
	for _, t := range times {
		candidate := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), t.Hour, t.Minute, 0, 0, local.Location())
		if candidate.Before(best) {
			best = candidate
		}
	}
	return best
}

func nextWeeklyTime(local time.Time, times []TimeOfDay, days []time.Weekday) time.Time {
	if len(times) == 0 {
		times = []TimeOfDay{{Hour: 0, Minute: 0}}
	}
	if len(days) == 0 {
		days = []time.Weekday{local.Weekday()}
	}
	var best time.Time
	found := false
	for offset := 0; offset < 8; offset++ {
		day := local.AddDate(0, 0, offset)
		matchesDay := false
		for _, d := range days {
			if day.Weekday() == d {
				matchesDay = true
				break
			}
		}
		if !matchesDay {
			continue
		}
		for _, t := range times {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, local.Location())
			if candidate.After(local) {
				if !found || candidate.Before(best) {
					best = candidate
					found = true
				}
			}
		}
		if found && offset > 0 {
			break
		}
	}
	if !found {
		return local.AddDate(0, 0, 7)
	}
	return best
}

func nextMonthlyTime(local time.Time, times []TimeOfDay) time.Time {
	t := TimeOfDay{Hour: 0, Minute: 0}
	if len(times) > 0 {
		t = times[0]
	}
	firstNext := time.Date(local.Year(), local.Month(), 1, t.Hour, t.Minute, 0, 0, local.Location()).AddDate(0, 1, 0)
	return firstNext
}

// skipBlackout advances next past any overlapping blackout window to the
// first minute after the window's end (BlackoutWindow.Contains treats the
// end minute as inside), re-checking iteratively in case that minute lands
// in another window (bounded to avoid pathological configs).
func skipBlackout(next time.Time, windows []BlackoutWindow, loc *time.Location) time.Time {
	if len(windows) == 0 {
		return next
	}
	for i := 0; i < 14; i++ {
		local := next.In(loc)
		clock := local.Hour()*60 + local.Minute()
		blocked := false
		for _, w := range windows {
			if w.Contains(clock) {
				blocked = true
				end := w.End
				candidate := time.Date(local.Year(), local.Month(), local.Day(), end.Hour, end.Minute, 0, 0, loc).Add(time.Minute)
				if !candidate.After(local) {
					candidate = candidate.AddDate(0, 0, 1)
				}
				next = candidate
				break
			}
		}
		if !blocked {
			return next
		}
	}
	return next
}

// adaptiveNextRun picks the hour-of-day with the highest historical
// success weight (count of successful runs, not rate) once at least 10
// runs exist; otherwise falls back to a flat 4h cadence, per
// smart_scheduler.py's _calculate_adaptive_schedule (hour_counts[hour] +=
// 1, best_hour = max(hour_counts, key=hour_counts.get)).
func adaptiveNextRun(now time.Time, history []ExecutionRecord) time.Time {
	const minHistory = 10
	if len(history) < minHistory {
		return now.Add(4 * time.Hour)
	}

	successCounts := make(map[int]int)
	for _, rec := range history {
		if !rec.Success {
			continue
		}
		successCounts[rec.StartedAt.Hour()]++
	}

	bestHour := now.Hour()
	bestCount := -1
	for h, count := range successCounts {
		if count > bestCount {
			bestCount = count
			bestHour = h
		}
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), bestHour, 0, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Add(jitterSigned(30 * time.Minute))
}

// jitterSigned returns a uniform random offset in [-max, max].
func jitterSigned(max time.Duration) time.Duration {
	offset := time.Duration((randFloat()*2 - 1) * float64(max))
	return offset
}
