package tasks

import "time"

const (
	AllWeekdays = 0x7f
	AllMonths   = 0xfff

	// LastDayOfMonth is the "last day" bit of the days-of-month mask.
	LastDayOfMonth int64 = 0x80000000

	FirstWeek  = 0x1
	SecondWeek = 0x2
	ThirdWeek  = 0x4
	FourthWeek = 0x8
	LastWeek   = 0x10
)

// EncodeWeekdays maps weekdays to the 7-bit mask, Sunday = 0x1 through
// Saturday = 0x40.
func EncodeWeekdays(days []time.Weekday) int {
	mask := 0
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			continue
		}
		mask |= 1 << uint(d)
	}
	return mask
}

// DecodeWeekdays returns the weekdays set in mask, Sunday first.
func DecodeWeekdays(mask int) []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if mask&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}

// EncodeDaysOfMonth sets bit n-1 for each day n in 1..31.
func EncodeDaysOfMonth(days []int, lastDay bool) int64 {
	var mask int64
	for _, d := range days {
		if d < 1 || d > 31 {
			continue
		}
		mask |= 1 << uint(d-1)
	}
	if lastDay {
		mask |= LastDayOfMonth
	}
	return mask
}

func DecodeDaysOfMonth(mask int64) (days []int, lastDay bool) {
	for d := 1; d <= 31; d++ {
		if mask&(1<<uint(d-1)) != 0 {
			days = append(days, d)
		}
	}
	return days, mask&LastDayOfMonth != 0
}

// EncodeMonths maps months to the 12-bit mask, January = 0x1.
func EncodeMonths(months []time.Month) int {
	mask := 0
	for _, m := range months {
		if m < time.January || m > time.December {
			continue
		}
		mask |= 1 << uint(m-1)
	}
	return mask
}

func DecodeMonths(mask int) []time.Month {
	var out []time.Month
	for m := time.January; m <= time.December; m++ {
		if mask&(1<<uint(m-1)) != 0 {
			out = append(out, m)
		}
	}
	return out
}

// EncodeWeeksOfMonth takes ordinals 1 to 4, with 5 meaning the last week.
func EncodeWeeksOfMonth(weeks []int) int {
	mask := 0
	for _, w := range weeks {
		if w < 1 || w > 5 {
			continue
		}
		mask |= 1 << uint(w-1)
	}
	return mask
}

func DecodeWeeksOfMonth(mask int) []int {
	var out []int
	for w := 1; w <= 5; w++ {
		if mask&(1<<uint(w-1)) != 0 {
			out = append(out, w)
		}
	}
	return out
}
