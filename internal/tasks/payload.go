package tasks

import (
	"fmt"
	"strings"
	"time"

	"fleetpilot-backend/internal/models"
)

// BuildPayload renders the scheduled task definition sent with schedtask.
// now is used as the start time of scheduled tasks that have none.
func BuildPayload(task *models.AutomatedTask, now time.Time) (*models.SchedTaskPayload, error) {
	trigger := string(task.TaskType)
	if task.TaskType == models.TaskCheckFailure {
		trigger = string(models.TaskManual)
	}

	p := &models.SchedTaskPayload{
		PK:                 task.ID,
		Type:               "rmm",
		Name:               task.RemoteName,
		Enabled:            task.Enabled,
		Trigger:            trigger,
		MultipleInstances:  task.TaskInstancePolicy,
		StartWhenAvailable: task.RunAsapAfterMissed,
	}
	if task.ExpireDate != nil {
		p.DeleteExpiredTaskAfter = task.RemoveIfNotScheduled
	}
	if task.TaskType == models.TaskRunOnce {
		p.StartWhenAvailable = true
	}

	if !task.TaskType.Scheduled() {
		return p, nil
	}

	start := now
	if task.RunTimeDate != nil {
		start = *task.RunTimeDate
	}
	p.StartYear, p.StartMonth, p.StartDay = intp(start.Year()), intp(int(start.Month())), intp(start.Day())
	p.StartHour, p.StartMin = intp(start.Hour()), intp(start.Minute())

	if task.ExpireDate != nil {
		e := *task.ExpireDate
		p.ExpireYear, p.ExpireMonth, p.ExpireDay = intp(e.Year()), intp(int(e.Month())), intp(e.Day())
		p.ExpireHour, p.ExpireMin = intp(e.Hour()), intp(e.Minute())
	}

	if task.RandomTaskDelay != "" {
		d, err := ISODuration(task.RandomTaskDelay)
		if err != nil {
			return nil, fmt.Errorf("random delay: %w", err)
		}
		p.RandomDelay = d
	}

	if task.TaskRepetitionInterval != "" && task.TaskRepetitionDuration != "" {
		interval, err := ISODuration(task.TaskRepetitionInterval)
		if err != nil {
			return nil, fmt.Errorf("repetition interval: %w", err)
		}
		duration, err := ISODuration(task.TaskRepetitionDuration)
		if err != nil {
			return nil, fmt.Errorf("repetition duration: %w", err)
		}
		p.RepetitionInterval = interval
		p.RepetitionDuration = duration
		p.StopAtDurationEnd = task.StopTaskAtDurationEnd
	}

	switch task.TaskType {
	case models.TaskDaily:
		p.DayInterval = intp(max(task.DailyInterval, 1))
	case models.TaskWeekly:
		p.WeekInterval = intp(max(task.WeeklyInterval, 1))
		p.DaysOfWeek = intp(task.RunTimeBitWeekdays)
	case models.TaskMonthly:
		days := task.MonthlyDaysOfMonth &^ LastDayOfMonth
		last := task.MonthlyDaysOfMonth&LastDayOfMonth != 0
		p.DaysOfMonth = &days
		p.RunOnLastDayOfMonth = &last
		p.MonthsOfYear = intp(task.MonthlyMonthsOfYear)
	case models.TaskMonthlyDOW:
		p.DaysOfWeek = intp(task.RunTimeBitWeekdays)
		p.WeeksOfMonth = intp(task.MonthlyWeeksOfMonth)
		p.MonthsOfYear = intp(task.MonthlyMonthsOfYear)
	}

	return p, nil
}

// ISODuration converts the compact form used on tasks ("30m", "1h30m",
// "2d", "1d12h") to an ISO-8601 duration ("PT30M", "PT1H30M", "P2D",
// "P1DT12H").
func ISODuration(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty duration")
	}

	var days, clock strings.Builder
	num := 0
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			digits++
		case r == 'D' || r == 'H' || r == 'M' || r == 'S':
			if digits == 0 {
				return "", fmt.Errorf("invalid duration %q", s)
			}
			if r == 'D' {
				fmt.Fprintf(&days, "%dD", num)
			} else {
				fmt.Fprintf(&clock, "%d%c", num, r)
			}
			num, digits = 0, 0
		default:
			return "", fmt.Errorf("invalid duration %q", s)
		}
	}
	if digits != 0 {
		return "", fmt.Errorf("invalid duration %q: missing unit", s)
	}

	out := "P" + days.String()
	if clock.Len() > 0 {
		out += "T" + clock.String()
	}
	return out, nil
}

func intp(v int) *int {
	return &v
}
