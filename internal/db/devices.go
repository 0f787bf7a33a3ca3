package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/best-technologies/embedded-door-lock/internal/model"
)

const deviceColumns = `id, device_id, name, location, status, last_seen_at, created_at`

func scanDevice(row interface{ Scan(...any) error }) (model.Device, error) {
	var device model.Device
	err := row.Scan(
		&device.ID,
		&device.DeviceID,
		&device.Name,
		&device.Location,
		&device.Status,
		&device.LastSeenAt,
		&device.CreatedAt,
	)
	return device, err
}

func (s *Store) CreateDevice(ctx context.Context, device model.Device) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO devices (id, device_id, name, location, status, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, device.ID, device.DeviceID, device.Name, device.Location, device.Status, device.LastSeenAt, device.CreatedAt)
	return err
}

func (s *Store) GetDeviceByDeviceID(ctx context.Context, deviceID string) (model.Device, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = $1`, deviceID)
	return scanDevice(row)
}

func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

type DeviceUpdate struct {
	Name     *string
	Location *string
	Status   *string
}

func (s *Store) UpdateDevice(ctx context.Context, deviceID string, update DeviceUpdate) error {
	sets := []string{}
	args := []any{}

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.Location != nil {
		set("location", *update.Location)
	}
	if update.Status != nil {
		set("status", *update.Status)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, deviceID)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE devices SET %s WHERE device_id = $%d
	`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDevice(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchDevice marks the device online and records the heartbeat time. Unknown
// devices are ignored so the verify path never fails on a missing row.
func (s *Store) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE devices SET status = 'online', last_seen_at = $1 WHERE device_id = $2
	`, seenAt, deviceID)
	return err
}
