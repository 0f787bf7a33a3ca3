package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/model"
)

const attendanceColumns = `id, attendance_id, user_id, date, check_in, check_out, status,
	minutes_late, minutes_early, total_hours, is_working_day, is_holiday, holiday_name, notes`

func scanAttendance(row interface{ Scan(...any) error }) (model.Attendance, error) {
	var att model.Attendance
	err := row.Scan(
		&att.ID,
		&att.AttendanceID,
		&att.UserID,
		&att.Date,
		&att.CheckIn,
		&att.CheckOut,
		&att.Status,
		&att.MinutesLate,
		&att.MinutesEarly,
		&att.TotalHours,
		&att.IsWorkingDay,
		&att.IsHoliday,
		&att.HolidayName,
		&att.Notes,
	)
	return att, err
}

func (s *Store) GetAttendance(ctx context.Context, userID string, date time.Time) (model.Attendance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+` FROM attendance WHERE user_id = $1 AND date = $2
	`, userID, date)
	return scanAttendance(row)
}

// UpsertAttendance writes a day record keyed on (user_id, date). The row's
// unique constraint makes concurrent folds for the same key converge on a
// single row instead of raising duplicates.
func (s *Store) UpsertAttendance(ctx context.Context, att model.Attendance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance (id, attendance_id, user_id, date, check_in, check_out, status,
			minutes_late, minutes_early, total_hours, is_working_day, is_holiday, holiday_name, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, date) DO UPDATE SET
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			status = EXCLUDED.status,
			minutes_late = EXCLUDED.minutes_late,
			minutes_early = EXCLUDED.minutes_early,
			total_hours = EXCLUDED.total_hours,
			is_working_day = EXCLUDED.is_working_day,
			is_holiday = EXCLUDED.is_holiday,
			holiday_name = EXCLUDED.holiday_name,
			notes = COALESCE(EXCLUDED.notes, attendance.notes)
	`, att.ID, att.AttendanceID, att.UserID, att.Date, att.CheckIn, att.CheckOut, att.Status,
		att.MinutesLate, att.MinutesEarly, att.TotalHours, att.IsWorkingDay, att.IsHoliday, att.HolidayName, att.Notes)
	return err
}

type AttendanceFilter struct {
	UserID *string
	Status *string
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

func (s *Store) ListAttendance(ctx context.Context, filter AttendanceFilter) ([]model.Attendance, int, error) {
	conditions := []string{"true"}
	args := []any{}

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.From != nil {
		add("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("date <= $%d", *filter.To)
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM attendance WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagedArgs := append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+attendanceColumns+` FROM attendance WHERE `+where+`
		ORDER BY date DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2), pagedArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []model.Attendance
	for rows.Next() {
		att, err := scanAttendance(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, att)
	}
	return list, total, rows.Err()
}

// AttendanceStatsRow is the projection the stats aggregation needs.
type AttendanceStatsRow struct {
	Status     model.AttendanceStatus
	TotalHours *float64
}

func (s *Store) ListAttendanceForStats(ctx context.Context, userID *string, from, to time.Time) ([]AttendanceStatsRow, error) {
	query := `SELECT status, total_hours FROM attendance WHERE date >= $1 AND date <= $2`
	args := []any{from, to}
	if userID != nil {
		query += ` AND user_id = $3`
		args = append(args, *userID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []AttendanceStatsRow
	for rows.Next() {
		var row AttendanceStatsRow
		if err := rows.Scan(&row.Status, &row.TotalHours); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

func (s *Store) CreateHoliday(ctx context.Context, holiday model.Holiday) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holidays (id, name, date, is_recurring, description)
		VALUES ($1, $2, $3, $4, $5)
	`, holiday.ID, holiday.Name, holiday.Date, holiday.IsRecurring, holiday.Description)
	return err
}

func scanHolidays(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.Holiday, error) {
	var list []model.Holiday
	for rows.Next() {
		var holiday model.Holiday
		if err := rows.Scan(&holiday.ID, &holiday.Name, &holiday.Date, &holiday.IsRecurring, &holiday.Description); err != nil {
			return nil, err
		}
		list = append(list, holiday)
	}
	return list, rows.Err()
}

func (s *Store) ListHolidays(ctx context.Context) ([]model.Holiday, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, date, is_recurring, description FROM holidays ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHolidays(rows)
}

func (s *Store) ListHolidaysInRange(ctx context.Context, from, to time.Time) ([]model.Holiday, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, date, is_recurring, description FROM holidays
		WHERE date >= $1 AND date <= $2
		ORDER BY date
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHolidays(rows)
}

func (s *Store) GetHolidayByDate(ctx context.Context, date time.Time) (model.Holiday, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, date, is_recurring, description FROM holidays WHERE date = $1`, date)
	var holiday model.Holiday
	err := row.Scan(&holiday.ID, &holiday.Name, &holiday.Date, &holiday.IsRecurring, &holiday.Description)
	return holiday, err
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM holidays WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
