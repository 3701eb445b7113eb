package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"task-lifecycle-service/internal/logger"
	taskDB "task-lifecycle-service/internal/task-manager/db"
	"task-lifecycle-service/internal/task-manager/events"
	"task-lifecycle-service/pkg/validation"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// SubmissionService applies submissions published by other portal services.
// It goes through TaskService so the conditional update and link sealing are
// the same as for the HTTP route.
type SubmissionService struct {
	reader MessageReader
	tasks  *TaskService
	schema *validation.Schema
	log    *logger.Logger
}

func NewSubmissionService(reader MessageReader, tasks *TaskService, log *logger.Logger) *SubmissionService {
	if log == nil {
		log = logger.Nop()
	}
	return &SubmissionService{
		reader: reader,
		tasks:  tasks,
		schema: validation.MustCompile("task_submission.json", events.TaskSubmissionSchema),
		log:    log,
	}
}

// StartConsuming reads until ctx is cancelled or the reader is closed.
func (s *SubmissionService) StartConsuming(ctx context.Context) {
	s.log.Info("SubmissionService starting to consume task submission events...")
	go func() {
		for {
			select {
			case <-ctx.Done():
				s.log.Info("SubmissionService: context cancelled, stopping consumer.")
				return
			default:
			}

			readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			msg, err := s.reader.ReadMessage(readCtx)
			cancel()

			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				s.log.Info("SubmissionService: read context cancelled.")
				return
			case errors.Is(err, io.EOF):
				s.log.Info("SubmissionService: Kafka reader closed (EOF), stopping consumption.")
				return
			case err != nil:
				s.log.Errorf("SubmissionService: error reading message: %v", err)
				time.Sleep(time.Second)
				continue
			}

			if err := s.HandleMessage(ctx, msg); err != nil {
				s.log.Warnf("SubmissionService: dropped message at partition %d offset %d: %v", msg.Partition, msg.Offset, err)
			}
		}
	}()
}

// HandleMessage validates and applies one submission. Errors are returned
// for logging only; the offset is committed either way.
func (s *SubmissionService) HandleMessage(ctx context.Context, msg kafka.Message) error {
	if err := s.schema.Validate(msg.Value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var payload events.TaskSubmissionPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	task, err := s.tasks.Submit(ctx, payload.TaskID, payload.SubmissionLink)
	switch {
	case errors.Is(err, ErrStatusConflict), errors.Is(err, taskDB.ErrNotFound):
		s.log.Infof("SubmissionService: ignoring submission for task %d: %v", payload.TaskID, err)
		return nil
	case err != nil:
		return err
	}
	s.log.Infof("SubmissionService: task %d submitted by %q", task.ID, payload.SubmittedBy)
	return nil
}

func (s *SubmissionService) Close() {
	if s.reader != nil {
		s.log.Info("SubmissionService: Closing Kafka reader.")
		if err := s.reader.Close(); err != nil {
			s.log.Warnf("SubmissionService: closing reader: %v", err)
		}
	}
}
