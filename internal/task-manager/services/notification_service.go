package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"task-lifecycle-service/internal/logger"
	taskDB "task-lifecycle-service/internal/task-manager/db"
	"task-lifecycle-service/internal/task-manager/events"
)

// Notifier writes feed entries. The scheduler depends on this rather than on
// NotificationService so tests can swap in a failing emitter.
type Notifier interface {
	NotifyAt(ctx context.Context, at time.Time, recipientID string, notifType taskDB.NotificationType, title, message string) (string, error)
	HasRecent(ctx context.Context, recipientID string, notifType taskDB.NotificationType, fragment string, since time.Time) (bool, error)
}

// EventPublisher fans a written notification out to other services.
type EventPublisher interface {
	PublishNotification(ctx context.Context, event events.NotificationEvent) error
}

type NotificationService struct {
	repo      *taskDB.NotificationRepository
	publisher EventPublisher
	log       *logger.Logger
}

// NewNotificationService wires the emitter. publisher may be nil, in which
// case notifications are only stored.
func NewNotificationService(repo *taskDB.NotificationRepository, publisher EventPublisher, log *logger.Logger) *NotificationService {
	if log == nil {
		log = logger.Nop()
	}
	return &NotificationService{repo: repo, publisher: publisher, log: log}
}

// Notify appends one notification stamped with the wall clock.
func (s *NotificationService) Notify(ctx context.Context, recipientID string, notifType taskDB.NotificationType, title, message string) (string, error) {
	return s.NotifyAt(ctx, time.Now(), recipientID, notifType, title, message)
}

// NotifyAt performs a single insert and no retries. Publishing the event
// afterwards is best effort and never fails the call.
func (s *NotificationService) NotifyAt(ctx context.Context, at time.Time, recipientID string, notifType taskDB.NotificationType, title, message string) (string, error) {
	if recipientID == "" {
		return "", fmt.Errorf("%w: notification recipient is required", ErrInvalidInput)
	}
	n := taskDB.Notification{
		ID:          uuid.NewString(),
		Type:        notifType,
		Title:       title,
		Message:     message,
		RecipientID: recipientID,
		CreatedAt:   at.UTC(),
	}
	if err := s.repo.Create(ctx, &n); err != nil {
		return "", err
	}

	if s.publisher != nil {
		event := events.NotificationEvent{
			NotificationID: n.ID,
			Type:           string(n.Type),
			RecipientID:    n.RecipientID,
			Title:          n.Title,
			Message:        n.Message,
			CreatedAt:      n.CreatedAt,
		}
		if err := s.publisher.PublishNotification(ctx, event); err != nil {
			s.log.Warnf("Notification %s stored but not published: %v", n.ID, err)
		}
	}
	return n.ID, nil
}

func (s *NotificationService) HasRecent(ctx context.Context, recipientID string, notifType taskDB.NotificationType, fragment string, since time.Time) (bool, error) {
	return s.repo.ExistsSince(ctx, recipientID, notifType, fragment, since)
}

func (s *NotificationService) List(ctx context.Context, recipientID string, unreadOnly bool) ([]taskDB.Notification, error) {
	if recipientID == "" {
		return nil, fmt.Errorf("%w: recipient_id is required", ErrInvalidInput)
	}
	return s.repo.ListByRecipient(ctx, recipientID, unreadOnly)
}

func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	return s.repo.MarkRead(ctx, id)
}
