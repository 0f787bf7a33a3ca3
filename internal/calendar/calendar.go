// Package calendar holds the working-day and office-hours policy used to
// classify attendance. The policy is built once from configuration; all
// checks are pure functions so the attendance engine stays testable.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/config"
	"github.com/best-technologies/embedded-door-lock/internal/model"
)

type Policy struct {
	workingDays          map[time.Weekday]bool
	OpeningMinutes       int
	ClosingMinutes       int
	LateThresholdMinutes int
	CheckoutWindowStart  int
	CheckoutWindowEnd    int
}

func NewPolicy(cfg config.Config) (Policy, error) {
	policy := Policy{
		workingDays:          make(map[time.Weekday]bool),
		LateThresholdMinutes: cfg.LateThresholdMinutes,
	}

	for _, part := range strings.Split(cfg.WorkingDays, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := strconv.Atoi(part)
		if err != nil || day < 0 || day > 6 {
			return Policy{}, fmt.Errorf("invalid working day %q", part)
		}
		policy.workingDays[time.Weekday(day)] = true
	}
	if len(policy.workingDays) == 0 {
		return Policy{}, fmt.Errorf("working days set is empty")
	}

	var err error
	if policy.OpeningMinutes, err = TimeToMinutes(cfg.OfficeOpeningTime); err != nil {
		return Policy{}, fmt.Errorf("office opening time: %w", err)
	}
	if policy.ClosingMinutes, err = TimeToMinutes(cfg.OfficeClosingTime); err != nil {
		return Policy{}, fmt.Errorf("office closing time: %w", err)
	}
	if policy.CheckoutWindowStart, err = TimeToMinutes(cfg.CheckoutWindowStart); err != nil {
		return Policy{}, fmt.Errorf("checkout window start: %w", err)
	}
	if policy.CheckoutWindowEnd, err = TimeToMinutes(cfg.CheckoutWindowEnd); err != nil {
		return Policy{}, fmt.Errorf("checkout window end: %w", err)
	}
	if policy.CheckoutWindowStart > policy.CheckoutWindowEnd {
		return Policy{}, fmt.Errorf("checkout window start %s after end %s", cfg.CheckoutWindowStart, cfg.CheckoutWindowEnd)
	}

	return policy, nil
}

// TimeToMinutes parses an HH:MM clock value into minutes since midnight.
func TimeToMinutes(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed time %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed time %q", value)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("time %q out of range", value)
	}
	return hours*60 + minutes, nil
}

func (p Policy) IsWorkingDay(date time.Time) bool {
	return p.workingDays[date.Weekday()]
}

// InCheckoutWindow reports whether the timestamp's minutes-since-midnight
// fall inside the configured checkout window, bounds inclusive. Accesses
// outside the window never count as check-out, so a lunch-break badge-out
// cannot masquerade as an end-of-day departure.
func (p Policy) InCheckoutWindow(ts time.Time) bool {
	minutes := ts.Hour()*60 + ts.Minute()
	return minutes >= p.CheckoutWindowStart && minutes <= p.CheckoutWindowEnd
}

func MinutesOfDay(ts time.Time) int {
	return ts.Hour()*60 + ts.Minute()
}

// DayOf truncates a timestamp to midnight UTC of its calendar day.
func DayOf(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// MatchHoliday scans the holiday table for the given day. Exact calendar-day
// matches win; failing that, any holiday flagged recurring matches on
// (month, day) regardless of year. Returns the first match's name.
func MatchHoliday(holidays []model.Holiday, date time.Time) (bool, string) {
	day := DayOf(date)
	for _, holiday := range holidays {
		if DayOf(holiday.Date).Equal(day) {
			return true, holiday.Name
		}
	}
	for _, holiday := range holidays {
		if !holiday.IsRecurring {
			continue
		}
		if holiday.Date.UTC().Month() == day.Month() && holiday.Date.UTC().Day() == day.Day() {
			return true, holiday.Name
		}
	}
	return false, ""
}
