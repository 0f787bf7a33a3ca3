// Package attendance folds successful access events into per-day attendance
// records and classifies each day (present, late, half_day, ...).
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/best-technologies/embedded-door-lock/internal/calendar"
	"github.com/best-technologies/embedded-door-lock/internal/db"
	"github.com/best-technologies/embedded-door-lock/internal/model"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateHoliday = errors.New("holiday already exists on this date")
)

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	GetAttendance(ctx context.Context, userID string, date time.Time) (model.Attendance, error)
	UpsertAttendance(ctx context.Context, att model.Attendance) error
	ListAttendanceForStats(ctx context.Context, userID *string, from, to time.Time) ([]db.AttendanceStatsRow, error)
	ListHolidays(ctx context.Context) ([]model.Holiday, error)
	ListHolidaysInRange(ctx context.Context, from, to time.Time) ([]model.Holiday, error)
	CreateHoliday(ctx context.Context, holiday model.Holiday) error
	GetHolidayByDate(ctx context.Context, date time.Time) (model.Holiday, error)
	UserIDExists(ctx context.Context, userID string) (bool, error)
}

// AccessGranted is published by the access-log path for every successful
// access event. The engine consumes it asynchronously so attendance failures
// never block the access-log write.
type AccessGranted struct {
	UserID    string
	Timestamp time.Time
}

type Engine struct {
	store  Store
	policy calendar.Policy
	events chan AccessGranted
}

func NewEngine(store Store, policy calendar.Policy) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		events: make(chan AccessGranted, 256),
	}
}

// Notify queues an event for the fold loop. The send never blocks the
// caller; if the buffer is full the event is dropped and logged, keeping the
// access log (the source of truth) unaffected.
func (e *Engine) Notify(event AccessGranted) {
	select {
	case e.events <- event:
	default:
		log.Printf("attendance: event buffer full, dropping event for user %s", event.UserID)
	}
}

// Run consumes queued events until the context is cancelled. A single
// consumer serializes folds, so two near-simultaneous events for the same
// (user, day) cannot race on the upsert.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.events:
			if err := e.Record(ctx, event.UserID, event.Timestamp); err != nil {
				log.Printf("attendance: record failed for user %s: %v", event.UserID, err)
			}
		}
	}
}

// Record folds one successful access event into the user's attendance row
// for that day. The first event of a day always sets check-in; check-out is
// only ever set from events inside the checkout window, and only ratchets
// forward. Check-in only ratchets backward.
func (e *Engine) Record(ctx context.Context, userID string, ts time.Time) error {
	ts = ts.UTC()
	date := calendar.DayOf(ts)
	inWindow := e.policy.InCheckoutWindow(ts)

	holidays, err := e.store.ListHolidays(ctx)
	if err != nil {
		return fmt.Errorf("list holidays: %w", err)
	}
	isHoliday, holidayName := calendar.MatchHoliday(holidays, date)

	att, err := e.store.GetAttendance(ctx, userID, date)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		att = model.Attendance{
			ID:           uuid.NewString(),
			AttendanceID: fmt.Sprintf("ATT-%s-%s", userID, date.Format("20060102")),
			UserID:       userID,
			Date:         date,
			CheckIn:      &ts,
			IsWorkingDay: e.policy.IsWorkingDay(date),
			IsHoliday:    isHoliday,
		}
		if inWindow {
			checkOut := ts
			att.CheckOut = &checkOut
		}
	case err != nil:
		return fmt.Errorf("load attendance: %w", err)
	default:
		if att.CheckIn == nil || ts.Before(*att.CheckIn) {
			checkIn := ts
			att.CheckIn = &checkIn
		}
		if inWindow && (att.CheckOut == nil || ts.After(*att.CheckOut)) {
			checkOut := ts
			att.CheckOut = &checkOut
		}
	}
	if isHoliday {
		att.HolidayName = &holidayName
	}

	classify(e.policy, &att)
	if err := e.store.UpsertAttendance(ctx, att); err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// classify derives status and the lateness fields from the row's check-in,
// check-out and day context. Weekend outranks holiday outranks everything
// time-based; among the time-based statuses, lateness wins over early
// departure wins over short hours.
//
// Lateness arithmetic uses only the clock component of each timestamp. Both
// bounds belong to the same calendar day, so that is equivalent to full
// timestamp arithmetic.
func classify(policy calendar.Policy, att *model.Attendance) {
	att.MinutesLate = nil
	att.MinutesEarly = nil
	att.TotalHours = nil

	if !att.IsWorkingDay {
		att.Status = model.AttendanceWeekend
		return
	}
	if att.IsHoliday {
		att.Status = model.AttendanceHoliday
		return
	}
	if att.CheckIn == nil {
		att.Status = model.AttendanceAbsent
		return
	}

	checkInMinutes := calendar.MinutesOfDay(att.CheckIn.UTC())
	if checkInMinutes > policy.OpeningMinutes+policy.LateThresholdMinutes {
		late := checkInMinutes - policy.OpeningMinutes
		att.MinutesLate = &late
	}
	if att.CheckOut != nil {
		checkOutMinutes := calendar.MinutesOfDay(att.CheckOut.UTC())
		if checkOutMinutes < policy.ClosingMinutes {
			early := policy.ClosingMinutes - checkOutMinutes
			att.MinutesEarly = &early
		}
		total := att.CheckOut.Sub(*att.CheckIn).Hours()
		att.TotalHours = &total
	}

	switch {
	case att.CheckOut == nil:
		att.Status = model.AttendanceHalfDay
	case att.MinutesLate != nil && *att.MinutesLate > policy.LateThresholdMinutes:
		att.Status = model.AttendanceLate
	case att.MinutesEarly != nil && *att.MinutesEarly > 60:
		att.Status = model.AttendanceEarlyDeparture
	case att.TotalHours != nil && *att.TotalHours < 4:
		att.Status = model.AttendanceHalfDay
	default:
		att.Status = model.AttendancePresent
	}
}

// CreateOrUpdate is the manual admin write path. Unlike Record it requires
// the user to exist, and it takes check-in/check-out verbatim instead of
// ratcheting.
func (e *Engine) CreateOrUpdate(ctx context.Context, userID string, date time.Time, checkIn, checkOut *time.Time, notes *string) (model.Attendance, error) {
	exists, err := e.store.UserIDExists(ctx, userID)
	if err != nil {
		return model.Attendance{}, err
	}
	if !exists {
		return model.Attendance{}, ErrUserNotFound
	}

	date = calendar.DayOf(date)
	holidays, err := e.store.ListHolidays(ctx)
	if err != nil {
		return model.Attendance{}, err
	}
	isHoliday, holidayName := calendar.MatchHoliday(holidays, date)

	att, err := e.store.GetAttendance(ctx, userID, date)
	if errors.Is(err, pgx.ErrNoRows) {
		att = model.Attendance{
			ID:           uuid.NewString(),
			AttendanceID: fmt.Sprintf("ATT-%s-%s", userID, date.Format("20060102")),
			UserID:       userID,
			Date:         date,
		}
	} else if err != nil {
		return model.Attendance{}, err
	}

	att.IsWorkingDay = e.policy.IsWorkingDay(date)
	att.IsHoliday = isHoliday
	if isHoliday {
		att.HolidayName = &holidayName
	}
	if checkIn != nil {
		att.CheckIn = checkIn
	}
	if checkOut != nil {
		att.CheckOut = checkOut
	}
	if notes != nil {
		att.Notes = notes
	}

	classify(e.policy, &att)
	if err := e.store.UpsertAttendance(ctx, att); err != nil {
		return model.Attendance{}, err
	}
	return att, nil
}

// AddHoliday rejects a second holiday on the same literal date. Recurring
// holidays are only checked against their own stored date, so a recurring
// entry can still shadow other years.
func (e *Engine) AddHoliday(ctx context.Context, name string, date time.Time, isRecurring bool, description *string) (model.Holiday, error) {
	date = calendar.DayOf(date)
	if _, err := e.store.GetHolidayByDate(ctx, date); err == nil {
		return model.Holiday{}, ErrDuplicateHoliday
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return model.Holiday{}, err
	}

	holiday := model.Holiday{
		ID:          uuid.NewString(),
		Name:        name,
		Date:        date,
		IsRecurring: isRecurring,
		Description: description,
	}
	if err := e.store.CreateHoliday(ctx, holiday); err != nil {
		return model.Holiday{}, err
	}
	return holiday, nil
}

// Stats is the aggregate view over a date range.
type Stats struct {
	TotalDays            int            `json:"totalDays"`
	WorkingDays          int            `json:"workingDays"`
	WeekendDays          int            `json:"weekendDays"`
	Holidays             int            `json:"holidays"`
	StatusCounts         map[string]int `json:"statusCounts"`
	AttendancePercentage float64        `json:"attendancePercentage"`
	AverageHoursPerDay   float64        `json:"averageHoursPerDay"`
}

func (e *Engine) Stats(ctx context.Context, userID *string, from, to time.Time) (Stats, error) {
	from = calendar.DayOf(from)
	to = calendar.DayOf(to)
	if to.Before(from) {
		return Stats{}, fmt.Errorf("range end %s before start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	stats := Stats{StatusCounts: map[string]int{}}
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		stats.TotalDays++
		if e.policy.IsWorkingDay(day) {
			stats.WorkingDays++
		} else {
			stats.WeekendDays++
		}
	}

	holidays, err := e.store.ListHolidaysInRange(ctx, from, to)
	if err != nil {
		return Stats{}, err
	}
	stats.Holidays = len(holidays)

	rows, err := e.store.ListAttendanceForStats(ctx, userID, from, to)
	if err != nil {
		return Stats{}, err
	}
	var hoursSum float64
	var hoursCount int
	for _, row := range rows {
		stats.StatusCounts[string(row.Status)]++
		if row.TotalHours != nil {
			hoursSum += *row.TotalHours
			hoursCount++
		}
	}

	if expected := stats.WorkingDays - stats.Holidays; expected > 0 {
		stats.AttendancePercentage = float64(stats.StatusCounts[string(model.AttendancePresent)]) / float64(expected) * 100
	}
	if hoursCount > 0 {
		stats.AverageHoursPerDay = hoursSum / float64(hoursCount)
	}
	return stats, nil
}
