package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/model"
)

func (s *Store) AddRFIDTag(ctx context.Context, tag model.RFIDTag, normalized string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rfid_tags (id, user_id, tag, tag_normalized)
		VALUES ($1, $2, $3, $4)
	`, tag.ID, tag.UserID, tag.Tag, normalized)
	return err
}

// GetUserByNormalizedTag resolves an RFID credential with an indexed equality
// lookup on the normalized column. Callers must normalize the scanned tag
// with access.NormalizeTag first.
func (s *Store) GetUserByNormalizedTag(ctx context.Context, normalized string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		JOIN rfid_tags ON rfid_tags.user_id = users.user_id
		WHERE rfid_tags.tag_normalized = $1
	`, normalized)
	return scanUser(row)
}

func (s *Store) AddFingerprint(ctx context.Context, fingerprint model.Fingerprint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fingerprint_ids (id, user_id, fingerprint_id)
		VALUES ($1, $2, $3)
	`, fingerprint.ID, fingerprint.UserID, fingerprint.FingerprintID)
	return err
}

func (s *Store) GetUserByFingerprintID(ctx context.Context, fingerprintID int) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		JOIN fingerprint_ids ON fingerprint_ids.user_id = users.user_id
		WHERE fingerprint_ids.fingerprint_id = $1
	`, fingerprintID)
	return scanUser(row)
}

func (s *Store) ListRFIDTagsByUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tag FROM rfid_tags WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *Store) ListFingerprintIDsByUser(ctx context.Context, userID string) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT fingerprint_id FROM fingerprint_ids WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CreateAccessLog(ctx context.Context, log model.AccessLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_logs (id, log_id, user_id, device_id, method, status, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, log.ID, log.LogID, log.UserID, log.DeviceID, log.Method, log.Status, log.Message, log.Timestamp)
	return err
}

type AccessLogFilter struct {
	DeviceID *string
	UserID   *string
	Status   *string
	Method   *string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

func (s *Store) ListAccessLogs(ctx context.Context, filter AccessLogFilter) ([]model.AccessLog, int, error) {
	conditions := []string{"true"}
	args := []any{}

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}
	if filter.DeviceID != nil {
		add("device_id = $%d", *filter.DeviceID)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Method != nil {
		add("method = $%d", *filter.Method)
	}
	if filter.From != nil {
		add("occurred_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at <= $%d", *filter.To)
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM access_logs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagedArgs := append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, log_id, user_id, device_id, method, status, message, occurred_at
		FROM access_logs WHERE `+where+`
		ORDER BY occurred_at DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2), pagedArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []model.AccessLog
	for rows.Next() {
		var log model.AccessLog
		if err := rows.Scan(&log.ID, &log.LogID, &log.UserID, &log.DeviceID, &log.Method, &log.Status, &log.Message, &log.Timestamp); err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, rows.Err()
}
