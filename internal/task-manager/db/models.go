package db

import (
	"time"

	"gorm.io/gorm"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusRejected   TaskStatus = "REJECTED"
	StatusSubmitted  TaskStatus = "SUBMITTED"
)

// IsTerminal reports whether the scheduler must leave the status alone.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusSubmitted:
		return true
	}
	return false
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusSubmitted:
		return true
	}
	return false
}

// Task is a bootcamp task. Start and end instants are split into a calendar
// date (YYYY-MM-DD) and a time of day (HH:MM or HH:MM:SS); a nil part means
// the task never auto-transitions across that boundary.
type Task struct {
	gorm.Model
	Title          string     `json:"title" gorm:"index;not null"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status" gorm:"index;type:varchar(16);not null;default:PENDING"`
	StartDate      *string    `json:"start_date,omitempty" gorm:"index;type:varchar(10)"`
	StartTime      *string    `json:"start_time,omitempty" gorm:"type:varchar(8)"`
	EndDate        *string    `json:"end_date,omitempty" gorm:"index;type:varchar(10)"`
	EndTime        *string    `json:"end_time,omitempty" gorm:"type:varchar(8)"`
	OwnerID        *string    `json:"owner_id,omitempty" gorm:"index;type:varchar(64)"`
	SubmissionLink string     `json:"-"` // AES-GCM sealed, see pkg/crypto
}

// StartInstant combines StartDate and StartTime in loc.
func (t *Task) StartInstant(loc *time.Location) (time.Time, bool, error) {
	return ScheduledInstant(t.StartDate, t.StartTime, loc)
}

// EndInstant combines EndDate and EndTime in loc.
func (t *Task) EndInstant(loc *time.Location) (time.Time, bool, error) {
	return ScheduledInstant(t.EndDate, t.EndTime, loc)
}

func (t *Task) Owner() string {
	if t.OwnerID == nil {
		return ""
	}
	return *t.OwnerID
}

type NotificationType string

const (
	NotificationTaskStarted   NotificationType = "TASK_STARTED"
	NotificationTaskCompleted NotificationType = "TASK_COMPLETED"
	NotificationTaskReminder  NotificationType = "TASK_REMINDER"
	NotificationAnnouncement  NotificationType = "ANNOUNCEMENT"
)

// Notification is a feed entry addressed to one participant. The UI layer
// marks entries read; the scheduler only inserts.
type Notification struct {
	ID          string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Type        NotificationType `json:"type" gorm:"index;type:varchar(32);not null"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	RecipientID string           `json:"recipient_id" gorm:"index;type:varchar(64);not null"`
	Read        bool             `json:"read" gorm:"column:is_read;not null;default:false"`
	CreatedAt   time.Time        `json:"created_at" gorm:"index"`
}

// Models lists every table this service migrates.
func Models() []interface{} {
	return []interface{}{&Task{}, &Notification{}}
}
