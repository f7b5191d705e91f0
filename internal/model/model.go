package model

import (
	"time"
)

// Privilege levels as reported by the terminal firmware.
const (
	PrivilegeRegular = 0
	PrivilegeAdmin   = 14
)

// Access event types emitted by the live access controller.
const (
	EventAccessGranted = "access_granted"
	EventAccessDenied  = "access_denied"
	EventError         = "error"
	EventShutdown      = "shutdown"
)

// Finding kinds emitted by the security audit engine.
const (
	FindingTimeDrift            = "time_drift"
	FindingExcessAdmins         = "excess_admins"
	FindingNoPasswordUser       = "no_password_user"
	FindingAttendanceOutOfRange = "attendance_out_of_range"
	FindingRapidRepeatEntry     = "rapid_repeat_entry"
	FindingNoUsers              = "no_users"
	FindingNoAttendances        = "no_attendances"
	FindingInvalidConfig        = "invalid_config"
	FindingError                = "error"
	FindingShutdown             = "shutdown"
)

// Severity levels for findings.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// User is one enrolled user as reported by the terminal roster. The engine
// never caches users across calls; every decision works on a fresh snapshot.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Privilege int    `json:"privilege"`
	Password  string `json:"password,omitempty"`
}

// IsAdmin reports whether the user holds a privileged account on the terminal.
func (u User) IsAdmin() bool {
	return u.Privilege == PrivilegeAdmin
}

// HasPassword reports whether the user has any credential set.
func (u User) HasPassword() bool {
	return u.Password != ""
}

// AttendanceRecord is one entry of the terminal's authentication append log.
// The terminal reports the log newest-first; timestamps come from the device
// clock and may drift from the host clock.
type AttendanceRecord struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthAttempt is one live authentication attempt pushed by the terminal.
type AuthAttempt struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is any structured record produced by the monitoring engines and
// consumed by the event emitters.
type Record interface {
	Kind() string
}

// AccessEvent is the live access controller's output record.
type AccessEvent struct {
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id,omitempty"`
	UserName     string    `json:"user_name,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	DoorUnlocked bool      `json:"door_unlocked"`
	Detail       string    `json:"detail,omitempty"`
}

// Kind returns the event type for emitter routing.
func (e AccessEvent) Kind() string {
	return e.EventType
}

// Finding is one security anomaly detected by the audit engine. Fields beyond
// the common set are kind-specific and omitted when unused.
type Finding struct {
	ID            string     `json:"id"`
	EventType     string     `json:"event_type"`
	Severity      string     `json:"severity"`
	Timestamp     time.Time  `json:"timestamp"`
	Detail        string     `json:"detail,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	DriftSeconds  float64    `json:"drift_seconds,omitempty"`
	AdminCount    int        `json:"admin_count,omitempty"`
	ExpectedCount int        `json:"expected_count,omitempty"`
	RecordedAt    *time.Time `json:"recorded_at,omitempty"`
	GapSeconds    float64    `json:"gap_seconds,omitempty"`
}

// Kind returns the finding kind for emitter routing.
func (f Finding) Kind() string {
	return f.EventType
}
