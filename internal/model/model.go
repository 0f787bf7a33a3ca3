package model

import "time"

type UserStatus string

const (
	UserStatusActive     UserStatus = "active"
	UserStatusSuspended  UserStatus = "suspended"
	UserStatusTerminated UserStatus = "terminated"
)

type UserRole string

const (
	UserRoleEmployee UserRole = "employee"
	UserRoleAdmin    UserRole = "admin"
	UserRoleVisitor  UserRole = "visitor"
)

type AccessMethod string

const (
	AccessMethodRFID        AccessMethod = "rfid"
	AccessMethodFingerprint AccessMethod = "fingerprint"
	AccessMethodKeypad      AccessMethod = "keypad"
)

type User struct {
	ID                   string
	UserID               string
	FirstName            string
	LastName             string
	Email                string
	PasswordHash         string
	KeypadPinHash        *string
	Status               UserStatus
	Role                 UserRole
	Department           *string
	AccessLevel          int
	AllowedAccessMethods []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// UserProfile is the projection returned to door devices on a successful
// verification. It never carries credential hashes.
type UserProfile struct {
	UserID               string   `json:"userId"`
	FirstName            string   `json:"firstName"`
	LastName             string   `json:"lastName"`
	Email                string   `json:"email"`
	Status               string   `json:"status"`
	Role                 string   `json:"role"`
	Department           *string  `json:"department"`
	AllowedAccessMethods []string `json:"allowedAccessMethods"`
	RFIDTags             []string `json:"rfidTags"`
	FingerprintIDs       []int    `json:"fingerprintIds"`
}

type RFIDTag struct {
	ID     string
	UserID string
	Tag    string
}

type Fingerprint struct {
	ID            string
	UserID        string
	FingerprintID int
}

type AccessLogStatus string

const (
	AccessStatusSuccess AccessLogStatus = "success"
	AccessStatusFailed  AccessLogStatus = "failed"
)

type AccessLog struct {
	ID        string
	LogID     string
	UserID    string
	DeviceID  string
	Method    string
	Status    AccessLogStatus
	Message   string
	Timestamp time.Time
}

// TemporaryCode is the redis-backed single-use credential record. Expiry is
// carried in the record as well as on the key TTL so an expired-but-present
// code can be reported distinctly from an unknown one.
type TemporaryCode struct {
	UserID    string `json:"user_id"`
	Used      bool   `json:"used"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

type Holiday struct {
	ID          string
	Name        string
	Date        time.Time
	IsRecurring bool
	Description *string
}

type AttendanceStatus string

const (
	AttendancePresent        AttendanceStatus = "present"
	AttendanceAbsent         AttendanceStatus = "absent"
	AttendanceLate           AttendanceStatus = "late"
	AttendanceEarlyDeparture AttendanceStatus = "early_departure"
	AttendanceHalfDay        AttendanceStatus = "half_day"
	AttendanceHoliday        AttendanceStatus = "holiday"
	AttendanceWeekend        AttendanceStatus = "weekend"
)

type Attendance struct {
	ID           string
	AttendanceID string
	UserID       string
	Date         time.Time
	CheckIn      *time.Time
	CheckOut     *time.Time
	Status       AttendanceStatus
	MinutesLate  *int
	MinutesEarly *int
	TotalHours   *float64
	IsWorkingDay bool
	IsHoliday    bool
	HolidayName  *string
	Notes        *string
}

type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
)

type Device struct {
	ID         string
	DeviceID   string
	Name       string
	Location   *string
	Status     DeviceStatus
	LastSeenAt *time.Time
	CreatedAt  time.Time
}
