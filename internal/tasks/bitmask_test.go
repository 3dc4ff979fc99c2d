package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeekdayRoundTrip(t *testing.T) {
	days := []time.Weekday{time.Monday, time.Tuesday, time.Friday}
	mask := EncodeWeekdays(days)

	assert.Equal(t, 0x2|0x4|0x20, mask)
	assert.Equal(t, days, DecodeWeekdays(mask))
}

func TestAllWeekdays(t *testing.T) {
	all := DecodeWeekdays(AllWeekdays)
	assert.Len(t, all, 7)
	assert.Equal(t, time.Sunday, all[0])
	assert.Equal(t, time.Saturday, all[6])
	assert.Equal(t, AllWeekdays, EncodeWeekdays(all))
}

func TestWeekdayBits(t *testing.T) {
	assert.Equal(t, 0x1, EncodeWeekdays([]time.Weekday{time.Sunday}))
	assert.Equal(t, 0x40, EncodeWeekdays([]time.Weekday{time.Saturday}))
	assert.Zero(t, EncodeWeekdays([]time.Weekday{time.Weekday(9)}))
}

func TestDaysOfMonthRoundTrip(t *testing.T) {
	mask := EncodeDaysOfMonth([]int{1, 15, 31}, true)
	assert.Equal(t, int64(0x1|0x4000|0x40000000)|LastDayOfMonth, mask)

	days, last := DecodeDaysOfMonth(mask)
	assert.Equal(t, []int{1, 15, 31}, days)
	assert.True(t, last)

	days, last = DecodeDaysOfMonth(LastDayOfMonth)
	assert.Empty(t, days)
	assert.True(t, last)
}

func TestMonthsRoundTrip(t *testing.T) {
	months := []time.Month{time.January, time.June, time.December}
	mask := EncodeMonths(months)
	assert.Equal(t, 0x1|0x20|0x800, mask)
	assert.Equal(t, months, DecodeMonths(mask))
	assert.Len(t, DecodeMonths(AllMonths), 12)
}

func TestWeeksOfMonthRoundTrip(t *testing.T) {
	mask := EncodeWeeksOfMonth([]int{1, 3, 5})
	assert.Equal(t, FirstWeek|ThirdWeek|LastWeek, mask)
	assert.Equal(t, []int{1, 3, 5}, DecodeWeeksOfMonth(mask))
}
