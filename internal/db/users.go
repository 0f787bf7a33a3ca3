package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/model"
)

const userColumns = `id, user_id, first_name, last_name, email, password_hash, keypad_pin_hash,
	status, role, department, access_level, allowed_access_methods, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.UserID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&user.KeypadPinHash,
		&user.Status,
		&user.Role,
		&user.Department,
		&user.AccessLevel,
		&user.AllowedAccessMethods,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, user_id, first_name, last_name, email, password_hash, keypad_pin_hash,
			status, role, department, access_level, allowed_access_methods, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, user.ID, user.UserID, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.KeypadPinHash,
		user.Status, user.Role, user.Department, user.AccessLevel, user.AllowedAccessMethods, user.CreatedAt, user.UpdatedAt)
	return err
}

func (s *Store) GetUserByUserID(ctx context.Context, userID string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) UserIDExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists)
	return exists, err
}

// CountUsersCreatedBetween backs user-id serial generation: serials restart
// each month per role.
func (s *Store) CountUsersCreatedBetween(ctx context.Context, role model.UserRole, from, to time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM users WHERE role = $1 AND created_at >= $2 AND created_at <= $3
	`, role, from, to).Scan(&count)
	return count, err
}

type UserFilter struct {
	Status     *string
	Role       *string
	Department *string
	Search     *string
	Page       int
	Limit      int
}

func (s *Store) ListUsers(ctx context.Context, filter UserFilter) ([]model.User, int, error) {
	conditions := []string{"true"}
	args := []any{}

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Role != nil {
		add("role = $%d", *filter.Role)
	}
	if filter.Department != nil {
		add("department = $%d", *filter.Department)
	}
	if filter.Search != nil {
		add("(user_id ILIKE $%d OR first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d OR email ILIKE $%[1]d)", "%"+*filter.Search+"%")
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offsetArgs := append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+userColumns+` FROM users WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2), offsetArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

type UserUpdate struct {
	FirstName            *string
	LastName             *string
	Status               *string
	Department           *string
	AccessLevel          *int
	AllowedAccessMethods []string
	KeypadPinHash        *string
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update UserUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{}

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.FirstName != nil {
		set("first_name", *update.FirstName)
	}
	if update.LastName != nil {
		set("last_name", *update.LastName)
	}
	if update.Status != nil {
		set("status", *update.Status)
	}
	if update.Department != nil {
		set("department", *update.Department)
	}
	if update.AccessLevel != nil {
		set("access_level", *update.AccessLevel)
	}
	if update.AllowedAccessMethods != nil {
		set("allowed_access_methods", update.AllowedAccessMethods)
	}
	if update.KeypadPinHash != nil {
		set("keypad_pin_hash", *update.KeypadPinHash)
	}

	args = append(args, userID)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE users SET %s WHERE user_id = $%d
	`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserRole(ctx context.Context, userID string, role model.UserRole) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET role = $1, updated_at = now() WHERE user_id = $2
	`, role, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
