package models

import (
	"time"

	"gorm.io/datatypes"
)

// Unit status constants
const (
	UnitStatusAvailable   = "available"
	UnitStatusOccupied    = "occupied"
	UnitStatusCleaning    = "cleaning"
	UnitStatusMaintenance = "maintenance"
)

// Checkin status constants
const (
	CheckinStatusActive        = "active"
	CheckinStatusExtended      = "extended"
	CheckinStatusCompleted     = "completed"
	CheckinStatusEarlyCheckout = "early_checkout"
)

// ScheduledNotification type constants
const (
	NotificationCheckoutReminder = "checkout_reminder"
	NotificationCheckoutTime     = "checkout_time"
	NotificationCleaningTime     = "cleaning_time"
	NotificationUnitAvailable    = "unit_available"
)

// PendingNotification status constants
const (
	PendingStatusPending = "pending"
	PendingStatusSent    = "sent"
)

// StaffUser role constants
const (
	RoleAdmin     = "admin"
	RoleFieldTeam = "field_team"
)

// Activity log kinds
const (
	ActivityAutoCheckout   = "auto_checkout"
	ActivityReconciliation = "unit_reconciliation"
	ActivitySimulation     = "auto_checkout_simulation"
)

// Apartment corresponds to the apartments table.
type Apartment struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null;unique" json:"name"`
	Address   string    `gorm:"type:varchar(512)" json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unit corresponds to the units table. Its status moves exclusively through
// the occupancy state machine; unconditional writes are not allowed.
type Unit struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ApartmentID uint      `gorm:"not null;index" json:"apartment_id"`
	Number      string    `gorm:"type:varchar(50);not null" json:"number"`
	Status      string    `gorm:"type:varchar(50);not null;default:'available';index" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StaffUser corresponds to the staff_users table. Admins receive every
// life-cycle notification; field-team users only those for their check-ins.
type StaffUser struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Role        string    `gorm:"type:varchar(50);not null;index" json:"role"`
	DeviceToken string    `gorm:"type:varchar(512)" json:"device_token"`
	Active      bool      `gorm:"default:true;not null" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Checkin corresponds to the checkins table, one rental occupancy of a unit.
type Checkin struct {
	ID                  uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UnitID              uint       `gorm:"not null;index:idx_checkins_unit_status" json:"unit_id"`
	FieldTeamID         *uint      `gorm:"index" json:"field_team_id"`
	Status              string     `gorm:"type:varchar(50);not null;default:'active';index:idx_checkins_unit_status;index:idx_checkins_status_checkout" json:"status"`
	CheckoutTime        time.Time  `gorm:"not null;index:idx_checkins_status_checkout" json:"checkout_time"`
	PaidAmount          float64    `gorm:"not null;default:0" json:"paid_amount"`
	PaymentMethod       string     `gorm:"type:varchar(50)" json:"payment_method"`
	Reminder30MinSentAt *time.Time `gorm:"column:reminder_30min_sent_at" json:"reminder_30min_sent_at"`
	OverdueNotifiedAt   *time.Time `json:"overdue_notified_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the check-in has reached a final status.
func (c *Checkin) IsTerminal() bool {
	return c.Status == CheckinStatusCompleted || c.Status == CheckinStatusEarlyCheckout
}

// ScheduledNotification corresponds to the scheduled_notifications table.
// A row is dispatched at most once; is_sent is the only idempotency guard.
type ScheduledNotification struct {
	ID            uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	CheckinID     uint              `gorm:"not null;index" json:"checkin_id"`
	Type          string            `gorm:"type:varchar(50);not null" json:"type"`
	ScheduledTime time.Time         `gorm:"not null;index:idx_sched_notif_due" json:"scheduled_time"`
	Title         string            `gorm:"type:varchar(255)" json:"title"`
	Body          string            `gorm:"type:text" json:"body"`
	Data          datatypes.JSONMap `gorm:"type:json" json:"data"`
	IsSent        bool              `gorm:"default:false;not null;index:idx_sched_notif_due" json:"is_sent"`
	SentAt        *time.Time        `json:"sent_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PendingNotification corresponds to the pending_notifications table. It
// models transport-level delivery with its own retry bookkeeping, unlike
// ScheduledNotification which models business timing.
type PendingNotification struct {
	ID           uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	RecipientID  uint              `gorm:"not null;index" json:"recipient_id"`
	Title        string            `gorm:"type:varchar(255)" json:"title"`
	Body         string            `gorm:"type:text" json:"body"`
	Data         datatypes.JSONMap `gorm:"type:json" json:"data"`
	Status       string            `gorm:"type:varchar(50);not null;default:'pending';index:idx_pending_status_retry" json:"status"`
	RetryCount   int               `gorm:"not null;default:0;index:idx_pending_status_retry" json:"retry_count"`
	ErrorMessage string            `gorm:"type:text" json:"error_message"`
	SentAt       *time.Time        `json:"sent_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ActivityLog corresponds to the activity_logs table, an append-only audit
// sink for scheduler transitions.
type ActivityLog struct {
	ID        string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind      string            `gorm:"type:varchar(50);not null;index:idx_activity_kind_created" json:"kind"`
	CheckinID *uint             `gorm:"index" json:"checkin_id"`
	UnitID    *uint             `gorm:"index" json:"unit_id"`
	Message   string            `gorm:"type:varchar(512)" json:"message"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;index:idx_activity_kind_created" json:"created_at"`
}
