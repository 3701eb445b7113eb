package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// TaskRepository is the gorm-backed task store. The scheduler reads
// candidates by status and date range and writes status transitions only.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *Task) error {
	if task.Status == "" {
		task.Status = StatusPending
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, id uint) (*Task, error) {
	var task Task
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find task %d: %w", id, err)
	}
	return &task, nil
}

type TaskFilter struct {
	Status  TaskStatus
	OwnerID string
}

func (r *TaskRepository) List(ctx context.Context, filter TaskFilter) ([]Task, error) {
	var tasks []Task
	query := r.db.WithContext(ctx).Model(&Task{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if err := query.Order("id").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// FindPendingStartingBy returns PENDING tasks with both start fields set and
// a start date on or before lastDate. Callers still compare the exact
// instant; the date bound only narrows the scan.
func (r *TaskRepository) FindPendingStartingBy(ctx context.Context, lastDate string) ([]Task, error) {
	var tasks []Task
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("start_date IS NOT NULL AND start_time IS NOT NULL").
		Where("start_date <= ?", lastDate).
		Order("id").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending tasks due to start: %w", err)
	}
	return tasks, nil
}

// FindInProgressEndingBy returns IN_PROGRESS tasks with both end fields set
// and an end date on or before lastDate.
func (r *TaskRepository) FindInProgressEndingBy(ctx context.Context, lastDate string) ([]Task, error) {
	var tasks []Task
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusInProgress).
		Where("end_date IS NOT NULL AND end_time IS NOT NULL").
		Where("end_date <= ?", lastDate).
		Order("id").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch in-progress tasks due to complete: %w", err)
	}
	return tasks, nil
}

// FindPendingStartingBetween returns PENDING tasks whose start date falls in
// [firstDate, lastDate].
func (r *TaskRepository) FindPendingStartingBetween(ctx context.Context, firstDate, lastDate string) ([]Task, error) {
	var tasks []Task
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("start_date IS NOT NULL AND start_time IS NOT NULL").
		Where("start_date >= ? AND start_date <= ?", firstDate, lastDate).
		Order("id").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending tasks starting soon: %w", err)
	}
	return tasks, nil
}

// TransitionStatus moves a task from one status to another only if it is
// still in from. It returns false when the row no longer matches, which
// means a concurrent writer got there first.
func (r *TaskRepository) TransitionStatus(ctx context.Context, id uint, from, to TaskStatus, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{"status": to, "updated_at": at.UTC()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to move task %d from %s to %s: %w", id, from, to, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Submit moves a PENDING, IN_PROGRESS or COMPLETED task to SUBMITTED and
// stores the sealed link in the same conditional statement. COMPLETED is
// accepted so work handed in after the end instant still lands.
func (r *TaskRepository) Submit(ctx context.Context, id uint, sealedLink string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("id = ? AND status IN ?", id, []TaskStatus{StatusPending, StatusInProgress, StatusCompleted}).
		Updates(map[string]interface{}{
			"status":          StatusSubmitted,
			"submission_link": sealedLink,
			"updated_at":      at.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to submit task %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Ping reports whether the store can be reached at all.
func (r *TaskRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// NotificationRepository appends and reads feed entries.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ExistsSince reports whether recipient already received a notification of
// type whose message contains fragment at or after since. The fragment is
// matched in Go so titles containing LIKE wildcards behave.
func (r *NotificationRepository) ExistsSince(ctx context.Context, recipientID string, notifType NotificationType, fragment string, since time.Time) (bool, error) {
	var messages []string
	err := r.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND type = ?", recipientID, notifType).
		Where("created_at >= ?", since.UTC()).
		Pluck("message", &messages).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up recent %s notifications: %w", notifType, err)
	}
	for _, m := range messages {
		if strings.Contains(m, fragment) {
			return true, nil
		}
	}
	return false, nil
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]Notification, error) {
	var notifications []Notification
	query := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if err := query.Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	var n Notification
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to find notification %s: %w", id, err)
	}
	if n.Read {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&n).Update("is_read", true).Error; err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}
