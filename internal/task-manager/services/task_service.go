package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"task-lifecycle-service/internal/logger"
	taskDB "task-lifecycle-service/internal/task-manager/db"
	"task-lifecycle-service/pkg/crypto"
)

// TaskService covers the manual side of the lifecycle: creating tasks and the
// reject and submit edges. The scheduler never calls it.
type TaskService struct {
	repo   *taskDB.TaskRepository
	cipher *crypto.FieldCipher
	clock  Clock
	log    *logger.Logger
}

// NewTaskService builds the service. cipher may be nil, which disables
// submissions.
func NewTaskService(repo *taskDB.TaskRepository, cipher *crypto.FieldCipher, clock Clock, log *logger.Logger) *TaskService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TaskService{repo: repo, cipher: cipher, clock: clock, log: log}
}

type CreateTaskInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	StartDate   *string `json:"start_date"`
	StartTime   *string `json:"start_time"`
	EndDate     *string `json:"end_date"`
	EndTime     *string `json:"end_time"`
	OwnerID     *string `json:"owner_id"`
}

// TaskView is a task as returned to API callers, with the submission link
// opened.
type TaskView struct {
	taskDB.Task
	SubmissionLink string `json:"submission_link,omitempty"`
}

func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*taskDB.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := taskDB.ValidateSchedulePair(in.StartDate, in.StartTime); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if err := taskDB.ValidateSchedulePair(in.EndDate, in.EndTime); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	start, hasStart, _ := taskDB.ScheduledInstant(in.StartDate, in.StartTime, time.UTC)
	end, hasEnd, _ := taskDB.ScheduledInstant(in.EndDate, in.EndTime, time.UTC)
	if hasStart && hasEnd && end.Before(start) {
		return nil, fmt.Errorf("%w: end is before start", taskDB.ErrInvalidSchedule)
	}

	task := &taskDB.Task{
		Title:       title,
		Description: in.Description,
		Status:      taskDB.StatusPending,
		StartDate:   in.StartDate,
		StartTime:   in.StartTime,
		EndDate:     in.EndDate,
		EndTime:     in.EndTime,
		OwnerID:     in.OwnerID,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	s.log.Infof("Created task %d (%s) for owner %q", task.ID, task.Title, task.Owner())
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id uint) (*TaskView, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &TaskView{Task: *task}
	if task.SubmissionLink != "" && s.cipher != nil {
		link, err := s.cipher.Decrypt(task.SubmissionLink)
		if err != nil {
			// Key rotated or row tampered with; the task itself is still readable.
			s.log.Warnf("Task %d: cannot open submission link: %v", id, err)
		} else {
			view.SubmissionLink = link
		}
	}
	return view, nil
}

func (s *TaskService) List(ctx context.Context, filter taskDB.TaskFilter) ([]taskDB.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	return s.repo.List(ctx, filter)
}

// Reject moves a PENDING task to REJECTED.
func (s *TaskService) Reject(ctx context.Context, id uint) (*taskDB.Task, error) {
	moved, err := s.repo.TransitionStatus(ctx, id, taskDB.StatusPending, taskDB.StatusRejected, s.clock())
	if err != nil {
		return nil, err
	}
	return s.afterManualEdge(ctx, id, moved)
}

// Submit stores the sealed submission link and moves a PENDING, IN_PROGRESS
// or COMPLETED task to SUBMITTED.
func (s *TaskService) Submit(ctx context.Context, id uint, link string) (*taskDB.Task, error) {
	if s.cipher == nil {
		return nil, ErrSubmissionDisabled
	}
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, fmt.Errorf("%w: submission_link is required", ErrInvalidInput)
	}
	sealed, err := s.cipher.Encrypt(link)
	if err != nil {
		return nil, err
	}
	moved, err := s.repo.Submit(ctx, id, sealed, s.clock())
	if err != nil {
		return nil, err
	}
	return s.afterManualEdge(ctx, id, moved)
}

func (s *TaskService) afterManualEdge(ctx context.Context, id uint, moved bool) (*taskDB.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, fmt.Errorf("%w: task %d is %s", ErrStatusConflict, id, task.Status)
	}
	s.log.Infof("Task %d moved to %s", id, task.Status)
	return task, nil
}

// IsClientError reports whether err came from bad caller input rather than
// the store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, taskDB.ErrInvalidSchedule)
}
