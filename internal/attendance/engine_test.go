package attendance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/best-technologies/embedded-door-lock/internal/calendar"
	"github.com/best-technologies/embedded-door-lock/internal/config"
	"github.com/best-technologies/embedded-door-lock/internal/db"
	"github.com/best-technologies/embedded-door-lock/internal/model"
)

type fakeStore struct {
	attendance map[string]model.Attendance
	holidays   []model.Holiday
	statsRows  []db.AttendanceStatsRow
	users      map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attendance: map[string]model.Attendance{},
		users:      map[string]bool{},
	}
}

func attKey(userID string, date time.Time) string {
	return fmt.Sprintf("%s|%s", userID, date.Format("2006-01-02"))
}

func (f *fakeStore) GetAttendance(_ context.Context, userID string, date time.Time) (model.Attendance, error) {
	att, ok := f.attendance[attKey(userID, date)]
	if !ok {
		return model.Attendance{}, pgx.ErrNoRows
	}
	return att, nil
}

func (f *fakeStore) UpsertAttendance(_ context.Context, att model.Attendance) error {
	f.attendance[attKey(att.UserID, att.Date)] = att
	return nil
}

func (f *fakeStore) ListAttendanceForStats(_ context.Context, _ *string, _, _ time.Time) ([]db.AttendanceStatsRow, error) {
	return f.statsRows, nil
}

func (f *fakeStore) ListHolidays(_ context.Context) ([]model.Holiday, error) {
	return f.holidays, nil
}

func (f *fakeStore) ListHolidaysInRange(_ context.Context, from, to time.Time) ([]model.Holiday, error) {
	var in []model.Holiday
	for _, h := range f.holidays {
		if !h.Date.Before(from) && !h.Date.After(to) {
			in = append(in, h)
		}
	}
	return in, nil
}

func (f *fakeStore) CreateHoliday(_ context.Context, holiday model.Holiday) error {
	f.holidays = append(f.holidays, holiday)
	return nil
}

func (f *fakeStore) GetHolidayByDate(_ context.Context, date time.Time) (model.Holiday, error) {
	for _, h := range f.holidays {
		if calendar.DayOf(h.Date).Equal(calendar.DayOf(date)) {
			return h, nil
		}
	}
	return model.Holiday{}, pgx.ErrNoRows
}

func (f *fakeStore) UserIDExists(_ context.Context, userID string) (bool, error) {
	return f.users[userID], nil
}

func testPolicy(t *testing.T) calendar.Policy {
	t.Helper()
	policy, err := calendar.NewPolicy(config.Config{
		WorkingDays:          "1,2,3,4,5",
		OfficeOpeningTime:    "09:00",
		OfficeClosingTime:    "17:00",
		LateThresholdMinutes: 15,
		CheckoutWindowStart:  "16:50",
		CheckoutWindowEnd:    "17:05",
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return policy
}

// 2025-03-10 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2025, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func TestRecordFirstEventIsCheckIn(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testPolicy(t))

	ts := monday(8, 45)
	if err := engine.Record(context.Background(), "BTL-25-03-01", ts); err != nil {
		t.Fatalf("Record: %v", err)
	}

	att, err := store.GetAttendance(context.Background(), "BTL-25-03-01", calendar.DayOf(ts))
	if err != nil {
		t.Fatalf("GetAttendance: %v", err)
	}
	if att.CheckIn == nil || !att.CheckIn.Equal(ts) {
		t.Fatalf("checkIn = %v, want %v", att.CheckIn, ts)
	}
	if att.CheckOut != nil {
		t.Fatalf("checkOut set from an out-of-window event: %v", att.CheckOut)
	}
	if att.Status != model.AttendanceHalfDay {
		t.Fatalf("status = %s, want half_day", att.Status)
	}
}

func TestRecordCheckoutRatchetsForwardOnlyInWindow(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testPolicy(t))
	ctx := context.Background()
	userID := "BTL-25-03-02"
	day := calendar.DayOf(monday(0, 0))

	for _, ts := range []time.Time{monday(8, 55), monday(16, 55), monday(17, 0)} {
		if err := engine.Record(ctx, userID, ts); err != nil {
			t.Fatalf("Record(%v): %v", ts, err)
		}
	}
	att, _ := store.GetAttendance(ctx, userID, day)
	if att.CheckOut == nil || !att.CheckOut.Equal(monday(17, 0)) {
		t.Fatalf("checkOut = %v, want 17:00", att.CheckOut)
	}

	// mid-day badge-out must not touch checkOut
	if err := engine.Record(ctx, userID, monday(12, 30)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	att, _ = store.GetAttendance(ctx, userID, day)
	if !att.CheckOut.Equal(monday(17, 0)) {
		t.Fatalf("checkOut moved by out-of-window event: %v", att.CheckOut)
	}

	// an earlier in-window event must not move checkOut backward
	if err := engine.Record(ctx, userID, monday(16, 52)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	att, _ = store.GetAttendance(ctx, userID, day)
	if !att.CheckOut.Equal(monday(17, 0)) {
		t.Fatalf("checkOut moved backward: %v", att.CheckOut)
	}
	// but checkIn ratchets the other way
	if att.CheckIn == nil || !att.CheckIn.Equal(monday(8, 55)) {
		t.Fatalf("checkIn = %v, want 08:55", att.CheckIn)
	}
}

func TestClassifyLateExample(t *testing.T) {
	policy := testPolicy(t)
	checkIn := monday(9, 20)
	checkOut := monday(17, 0)
	att := model.Attendance{
		CheckIn:      &checkIn,
		CheckOut:     &checkOut,
		IsWorkingDay: true,
	}
	classify(policy, &att)
	if att.Status != model.AttendanceLate {
		t.Fatalf("status = %s, want late", att.Status)
	}
	if att.MinutesLate == nil || *att.MinutesLate != 20 {
		t.Fatalf("minutesLate = %v, want 20", att.MinutesLate)
	}
}

func TestClassifyNoCheckoutIsHalfDay(t *testing.T) {
	policy := testPolicy(t)
	checkIn := monday(9, 0)
	att := model.Attendance{CheckIn: &checkIn, IsWorkingDay: true}
	classify(policy, &att)
	if att.Status != model.AttendanceHalfDay {
		t.Fatalf("status = %s, want half_day", att.Status)
	}
}

func TestClassifyEarlyDeparture(t *testing.T) {
	policy := testPolicy(t)
	checkIn := monday(9, 0)
	checkOut := monday(15, 30)
	att := model.Attendance{CheckIn: &checkIn, CheckOut: &checkOut, IsWorkingDay: true}
	classify(policy, &att)
	if att.Status != model.AttendanceEarlyDeparture {
		t.Fatalf("status = %s, want early_departure", att.Status)
	}
	if att.MinutesEarly == nil || *att.MinutesEarly != 90 {
		t.Fatalf("minutesEarly = %v, want 90", att.MinutesEarly)
	}
	if att.TotalHours == nil || *att.TotalHours != 6.5 {
		t.Fatalf("totalHours = %v, want 6.5", att.TotalHours)
	}
}

func TestClassifyLateOutranksShortHours(t *testing.T) {
	policy := testPolicy(t)
	checkIn := monday(14, 0)
	checkOut := monday(16, 55)
	att := model.Attendance{CheckIn: &checkIn, CheckOut: &checkOut, IsWorkingDay: true}
	classify(policy, &att)
	if att.Status != model.AttendanceLate {
		t.Fatalf("status = %s, want late (lateness outranks short hours)", att.Status)
	}
}

func TestClassifyWeekendOutranksHoliday(t *testing.T) {
	policy := testPolicy(t)
	att := model.Attendance{IsWorkingDay: false, IsHoliday: true}
	classify(policy, &att)
	if att.Status != model.AttendanceWeekend {
		t.Fatalf("status = %s, want weekend", att.Status)
	}
}

func TestRecordOnHoliday(t *testing.T) {
	store := newFakeStore()
	name := "Founders Day"
	store.holidays = []model.Holiday{{Name: name, Date: calendar.DayOf(monday(0, 0))}}
	engine := NewEngine(store, testPolicy(t))

	if err := engine.Record(context.Background(), "BTL-25-03-03", monday(9, 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	att, _ := store.GetAttendance(context.Background(), "BTL-25-03-03", calendar.DayOf(monday(0, 0)))
	if att.Status != model.AttendanceHoliday {
		t.Fatalf("status = %s, want holiday", att.Status)
	}
	if att.HolidayName == nil || *att.HolidayName != name {
		t.Fatalf("holidayName = %v", att.HolidayName)
	}
}

func TestAddHolidayRejectsDuplicateDate(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testPolicy(t))
	ctx := context.Background()
	date := monday(0, 0)

	if _, err := engine.AddHoliday(ctx, "Founders Day", date, false, nil); err != nil {
		t.Fatalf("AddHoliday: %v", err)
	}
	if _, err := engine.AddHoliday(ctx, "Other Day", date, true, nil); err != ErrDuplicateHoliday {
		t.Fatalf("duplicate AddHoliday err = %v, want ErrDuplicateHoliday", err)
	}
}

func TestCreateOrUpdateUnknownUser(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testPolicy(t))

	_, err := engine.CreateOrUpdate(context.Background(), "BTL-00-00-00", monday(0, 0), nil, nil, nil)
	if err != ErrUserNotFound {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestStats(t *testing.T) {
	store := newFakeStore()
	present := 8.0
	store.statsRows = []db.AttendanceStatsRow{
		{Status: model.AttendancePresent, TotalHours: &present},
		{Status: model.AttendancePresent, TotalHours: &present},
		{Status: model.AttendanceLate},
		{Status: model.AttendanceAbsent},
	}
	store.holidays = []model.Holiday{{Name: "Founders Day", Date: time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC)}}
	engine := NewEngine(store, testPolicy(t))

	// Mon 2025-03-10 .. Sun 2025-03-16: 5 working days, 2 weekend days
	from := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.March, 16, 0, 0, 0, 0, time.UTC)
	stats, err := engine.Stats(context.Background(), nil, from, to)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalDays != 7 || stats.WorkingDays != 5 || stats.WeekendDays != 2 {
		t.Fatalf("day counts = %+v", stats)
	}
	if stats.Holidays != 1 {
		t.Fatalf("holidays = %d, want 1", stats.Holidays)
	}
	if stats.StatusCounts["present"] != 2 || stats.StatusCounts["late"] != 1 {
		t.Fatalf("statusCounts = %v", stats.StatusCounts)
	}
	// 2 present / (5 working - 1 holiday) = 50%
	if stats.AttendancePercentage != 50 {
		t.Fatalf("attendancePercentage = %v, want 50", stats.AttendancePercentage)
	}
	if stats.AverageHoursPerDay != 8 {
		t.Fatalf("averageHoursPerDay = %v, want 8", stats.AverageHoursPerDay)
	}
}

func TestStatsZeroWorkingDaysNoDivide(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, testPolicy(t))

	// Sat + Sun only: zero working days
	from := time.Date(2025, time.March, 8, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)
	stats, err := engine.Stats(context.Background(), nil, from, to)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.AttendancePercentage != 0 {
		t.Fatalf("attendancePercentage = %v, want 0", stats.AttendancePercentage)
	}
}
