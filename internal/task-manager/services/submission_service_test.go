package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	taskDB "task-lifecycle-service/internal/task-manager/db"
)

type MockMessageReader struct{ mock.Mock }

func (m *MockMessageReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

func (m *MockMessageReader) Close() error { return m.Called().Error(0) }

func TestSubmissionService_HandleMessage(t *testing.T) {
	f := newFixture(t)
	tasks := newTaskService(t, f)
	task := f.addTask(t, taskDB.Task{Title: "Capstone", Status: taskDB.StatusInProgress})
	svc := NewSubmissionService(new(MockMessageReader), tasks, nil)

	msg := kafka.Message{Value: []byte(`{"task_id": 1, "submission_link": "https://git.example.com/capstone", "submitted_by": "u1"}`)}
	require.Equal(t, uint(1), task.ID)
	require.NoError(t, svc.HandleMessage(context.Background(), msg))

	view, err := tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusSubmitted, view.Status)
	assert.Equal(t, "https://git.example.com/capstone", view.SubmissionLink)

	// A replay hits the conditional update and is ignored.
	assert.NoError(t, svc.HandleMessage(context.Background(), msg))
}

func TestSubmissionService_HandleMessageRejectsInvalidPayload(t *testing.T) {
	f := newFixture(t)
	svc := NewSubmissionService(new(MockMessageReader), newTaskService(t, f), nil)

	for _, raw := range []string{
		`{"submission_link": "https://example.com"}`,
		`{"task_id": 0, "submission_link": "https://example.com"}`,
		`{"task_id": "7", "submission_link": "https://example.com"}`,
		`not json`,
	} {
		err := svc.HandleMessage(context.Background(), kafka.Message{Value: []byte(raw)})
		assert.ErrorIs(t, err, ErrInvalidInput, raw)
	}
}

func TestSubmissionService_StartConsumingStopsOnEOF(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Streamed"})
	reader := new(MockMessageReader)
	reader.On("ReadMessage", mock.Anything).
		Return(kafka.Message{Value: []byte(`{"task_id": 1, "submission_link": "https://example.com/s"}`)}, nil).Once()
	reader.On("ReadMessage", mock.Anything).Return(kafka.Message{}, io.EOF)

	svc := NewSubmissionService(reader, newTaskService(t, f), nil)
	svc.StartConsuming(context.Background())

	require.Eventually(t, func() bool {
		stored, err := f.tasks.FindByID(context.Background(), task.ID)
		return err == nil && stored.Status == taskDB.StatusSubmitted
	}, 2*time.Second, 10*time.Millisecond)
}
