package services

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskDB "task-lifecycle-service/internal/task-manager/db"
)

const today = "2026-10-18"

type brokenCompletionStore struct {
	*taskDB.TaskRepository
}

func (brokenCompletionStore) FindInProgressEndingBy(context.Context, string) ([]taskDB.Task, error) {
	return nil, errors.New("connection reset by peer")
}

// racingStore lets a concurrent writer reject a task between the read and the
// conditional update.
type racingStore struct {
	*taskDB.TaskRepository
	rejectID uint
}

func (s racingStore) FindPendingStartingBy(ctx context.Context, lastDate string) ([]taskDB.Task, error) {
	tasks, err := s.TaskRepository.FindPendingStartingBy(ctx, lastDate)
	if err != nil {
		return nil, err
	}
	_, err = s.TransitionStatus(ctx, s.rejectID, taskDB.StatusPending, taskDB.StatusRejected, time.Now())
	return tasks, err
}

type failingNotifier struct {
	*NotificationService
}

func (failingNotifier) NotifyAt(context.Context, time.Time, string, taskDB.NotificationType, string, string) (string, error) {
	return "", errors.New("notifications table locked")
}

func TestRunTick_StartsDueTask(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Kickoff", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
	now := at(today, "09:05")

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Started)
	assert.True(t, report.Success)
	assert.False(t, report.Partial)

	stored, err := f.tasks.FindByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusInProgress, stored.Status)
	assert.True(t, stored.UpdatedAt.Equal(now), "updated_at should be the tick instant, got %s", stored.UpdatedAt)

	feed := f.feed(t, "u1")
	require.Len(t, feed, 1)
	assert.Equal(t, taskDB.NotificationTaskStarted, feed[0].Type)
	assert.Contains(t, feed[0].Message, "Kickoff")
	assert.False(t, feed[0].Read)
}

func TestRunTick_FutureStartUnchanged(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Later", StartDate: strPtr(today), StartTime: strPtr("18:00"), OwnerID: strPtr("u1")})

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "09:05"))
	require.NoError(t, err)
	assert.Zero(t, report.Started)
	assert.Equal(t, taskDB.StatusPending, f.status(t, task.ID))
	assert.Empty(t, f.feed(t, "u1"))
}

func TestRunTick_CompletionBoundary(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{
		Title: "Sprint", Status: taskDB.StatusInProgress,
		EndDate: strPtr(today), EndTime: strPtr("17:00"), OwnerID: strPtr("u1"),
	})
	s := f.scheduler(t, nil, nil, SchedulerOptions{})

	report, err := s.RunTick(context.Background(), at(today, "16:59"))
	require.NoError(t, err)
	assert.Zero(t, report.Completed)
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))

	report, err = s.RunTick(context.Background(), at(today, "17:01"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, taskDB.StatusCompleted, f.status(t, task.ID))
	assert.Equal(t, 1, countType(f.feed(t, "u1"), taskDB.NotificationTaskCompleted))
}

func TestRunTick_EndWithoutTimeNeverCompletes(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Open ended", Status: taskDB.StatusInProgress, EndDate: strPtr("2026-10-01")})

	_, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "12:00"))
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))
}

func TestRunTick_TerminalStatesUntouched(t *testing.T) {
	f := newFixture(t)
	var ids []uint
	for _, status := range []taskDB.TaskStatus{taskDB.StatusRejected, taskDB.StatusSubmitted, taskDB.StatusCompleted} {
		task := f.addTask(t, taskDB.Task{
			Title: string(status), Status: status,
			StartDate: strPtr("2026-10-01"), StartTime: strPtr("09:00"),
			EndDate: strPtr("2026-10-02"), EndTime: strPtr("09:00"),
			OwnerID: strPtr("u1"),
		})
		ids = append(ids, task.ID)
	}

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "12:00"))
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Equal(t, taskDB.StatusRejected, f.status(t, ids[0]))
	assert.Equal(t, taskDB.StatusSubmitted, f.status(t, ids[1]))
	assert.Equal(t, taskDB.StatusCompleted, f.status(t, ids[2]))
	assert.Empty(t, f.feed(t, "u1"))
}

func TestRunTick_Idempotent(t *testing.T) {
	f := newFixture(t)
	started := f.addTask(t, taskDB.Task{Title: "A", StartDate: strPtr(today), StartTime: strPtr("08:00"), OwnerID: strPtr("u1")})
	finished := f.addTask(t, taskDB.Task{
		Title: "B", Status: taskDB.StatusInProgress,
		EndDate: strPtr(today), EndTime: strPtr("08:30"), OwnerID: strPtr("u1"),
	})
	s := f.scheduler(t, nil, nil, SchedulerOptions{})
	now := at(today, "09:00")

	first, err := s.RunTick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Started)
	assert.Equal(t, 1, first.Completed)

	second, err := s.RunTick(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Zero(t, second.Skipped)

	assert.Equal(t, taskDB.StatusInProgress, f.status(t, started.ID))
	assert.Equal(t, taskDB.StatusCompleted, f.status(t, finished.ID))
	assert.Len(t, f.feed(t, "u1"), 2)
}

func TestRunTick_ReminderWindowAndDedup(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, taskDB.Task{Title: "Demo day", StartDate: strPtr("2026-10-19"), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, nil, nil, SchedulerOptions{})

	report, err := s.RunTick(context.Background(), at("2026-10-19", "07:45"))
	require.NoError(t, err)
	assert.Zero(t, report.RemindersSent)
	assert.Empty(t, f.feed(t, "u1"))

	report, err = s.RunTick(context.Background(), at("2026-10-19", "08:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemindersSent)

	report, err = s.RunTick(context.Background(), at("2026-10-19", "08:45"))
	require.NoError(t, err)
	assert.Zero(t, report.RemindersSent)

	feed := f.feed(t, "u1")
	require.Len(t, feed, 1)
	assert.Equal(t, taskDB.NotificationTaskReminder, feed[0].Type)
	assert.Contains(t, feed[0].Message, "Demo day")
}

func TestRunTick_ReminderDedupWithQuotedTitle(t *testing.T) {
	f := newFixture(t)
	title := `Build "Hello" API in C:\work`
	f.addTask(t, taskDB.Task{Title: title, StartDate: strPtr(today), StartTime: strPtr("10:00"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, nil, nil, SchedulerOptions{})

	for _, clock := range []string{"09:30", "09:40", "09:50"} {
		_, err := s.RunTick(context.Background(), at(today, clock))
		require.NoError(t, err)
	}

	feed := f.feed(t, "u1")
	require.Equal(t, 1, countType(feed, taskDB.NotificationTaskReminder))
	assert.Contains(t, feed[0].Message, title)
}

func TestRunTick_ReminderDedupPerTitle(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, taskDB.Task{Title: "Intro to Go", StartDate: strPtr(today), StartTime: strPtr("10:00"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, nil, nil, SchedulerOptions{})

	report, err := s.RunTick(context.Background(), at(today, "09:15"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemindersSent)

	f.addTask(t, taskDB.Task{Title: "Intro", StartDate: strPtr(today), StartTime: strPtr("10:30"), OwnerID: strPtr("u1")})
	report, err = s.RunTick(context.Background(), at(today, "09:45"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemindersSent, "a reminder for a longer title must not cover a shorter one")

	assert.Equal(t, 2, countType(f.feed(t, "u1"), taskDB.NotificationTaskReminder))
}

func TestRunTick_ReminderAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, taskDB.Task{Title: "Night shift", StartDate: strPtr("2026-10-19"), StartTime: strPtr("00:15"), OwnerID: strPtr("u1")})

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "23:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemindersSent)
}

func TestRunTick_ReminderNotRepeatedForStartedTask(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Standup", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, nil, nil, SchedulerOptions{})

	_, err := s.RunTick(context.Background(), at(today, "08:30"))
	require.NoError(t, err)
	_, err = s.RunTick(context.Background(), at(today, "09:00"))
	require.NoError(t, err)

	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))
	feed := f.feed(t, "u1")
	assert.Equal(t, 1, countType(feed, taskDB.NotificationTaskReminder))
	assert.Equal(t, 1, countType(feed, taskDB.NotificationTaskStarted))
}

func TestRunTick_StartedAndCompletedInSameTick(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{
		Title:     "Short",
		StartDate: strPtr(today), StartTime: strPtr("09:00"),
		EndDate: strPtr(today), EndTime: strPtr("10:00"),
		OwnerID: strPtr("u1"),
	})

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "11:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, taskDB.StatusCompleted, f.status(t, task.ID))
	assert.Len(t, f.feed(t, "u1"), 2)
}

func TestRunTick_MalformedScheduleSkipped(t *testing.T) {
	f := newFixture(t)
	bad := f.addTask(t, taskDB.Task{Title: "Broken", StartDate: strPtr(today), StartTime: strPtr("25:99"), OwnerID: strPtr("u1")})
	good := f.addTask(t, taskDB.Task{Title: "Fine", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "10:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Started)
	assert.GreaterOrEqual(t, report.Skipped, 1)
	assert.Equal(t, taskDB.StatusPending, f.status(t, bad.ID))
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, good.ID))
}

func TestRunTick_TaskWithoutOwner(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Orphan", StartDate: strPtr(today), StartTime: strPtr("09:00")})

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{}).RunTick(context.Background(), at(today, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))

	var count int64
	require.NoError(t, f.db.Model(&taskDB.Notification{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRunTick_SweepFailureDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, taskDB.Task{Title: "Go", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
	f.addTask(t, taskDB.Task{Title: "Soon", StartDate: strPtr(today), StartTime: strPtr("10:30"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, brokenCompletionStore{f.tasks}, nil, SchedulerOptions{})

	report, err := s.RunTick(context.Background(), at(today, "10:00"))
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, report.Partial)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.RemindersSent)
	require.Len(t, report.Sweeps, 3)
	assert.Equal(t, "complete", report.Sweeps[1].Name)
	assert.Contains(t, report.Sweeps[1].Error, "connection reset")
}

func TestRunTick_NotificationFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Go", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, nil, failingNotifier{f.notifier}, SchedulerOptions{})

	report, err := s.RunTick(context.Background(), at(today, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, 1, report.Sweeps[0].NotifyFailed)
	assert.True(t, report.Partial)
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))
}

func TestRunTick_LostRaceIsSkipped(t *testing.T) {
	f := newFixture(t)
	contested := f.addTask(t, taskDB.Task{Title: "Contested", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
	s := f.scheduler(t, racingStore{TaskRepository: f.tasks, rejectID: contested.ID}, nil, SchedulerOptions{})

	report, err := s.RunTick(context.Background(), at(today, "09:30"))
	require.NoError(t, err)
	assert.Zero(t, report.Started)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Partial)
	assert.Equal(t, taskDB.StatusRejected, f.status(t, contested.ID))
	assert.Empty(t, f.feed(t, "u1"))
}

func TestRunTick_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, nil, nil, SchedulerOptions{})
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	report, err := s.RunTick(context.Background(), at(today, "09:00"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, report)
	assert.NotEmpty(t, s.Status().LastError)
}

func TestRunTick_UsesConfiguredTimezone(t *testing.T) {
	belgrade, err := time.LoadLocation("Europe/Belgrade")
	require.NoError(t, err)
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Local", StartDate: strPtr(today), StartTime: strPtr("09:00")})

	// 09:00 in Belgrade on this date is 07:00 UTC.
	utc := f.scheduler(t, nil, nil, SchedulerOptions{})
	_, err = utc.RunTick(context.Background(), at(today, "07:30"))
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusPending, f.status(t, task.ID))

	local := f.scheduler(t, nil, nil, SchedulerOptions{Location: belgrade})
	report, err := local.RunTick(context.Background(), at(today, "07:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Started)
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))
}

func TestRunTick_BoundedConcurrency(t *testing.T) {
	f := newFixture(t)
	var ids []uint
	for i := 0; i < 12; i++ {
		task := f.addTask(t, taskDB.Task{Title: "Batch", StartDate: strPtr(today), StartTime: strPtr("09:00"), OwnerID: strPtr("u1")})
		ids = append(ids, task.ID)
	}

	report, err := f.scheduler(t, nil, nil, SchedulerOptions{Concurrency: 4}).RunTick(context.Background(), at(today, "09:01"))
	require.NoError(t, err)
	assert.Equal(t, 12, report.Started)
	for _, id := range ids {
		assert.Equal(t, taskDB.StatusInProgress, f.status(t, id))
	}
}

func TestRunTickNow_UsesInjectedClock(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Clocked", StartDate: strPtr(today), StartTime: strPtr("09:00")})
	now := at(today, "09:10")
	s := f.scheduler(t, nil, nil, SchedulerOptions{Clock: func() time.Time { return now }})

	report, err := s.RunTickNow(context.Background())
	require.NoError(t, err)
	assert.True(t, report.RanAt.Equal(now))
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))

	status := s.Status()
	require.NotNil(t, status.LastRunAt)
	assert.True(t, status.LastRunAt.Equal(now))
	assert.Same(t, report, status.LastReport)
}

func TestListDue_ReadOnly(t *testing.T) {
	f := newFixture(t)
	toStart := f.addTask(t, taskDB.Task{Title: "Late start", StartDate: strPtr(today), StartTime: strPtr("08:00"), OwnerID: strPtr("u1")})
	toFinish := f.addTask(t, taskDB.Task{
		Title: "Overrun", Status: taskDB.StatusInProgress,
		EndDate: strPtr(today), EndTime: strPtr("08:30"),
	})
	f.addTask(t, taskDB.Task{Title: "Soon", StartDate: strPtr(today), StartTime: strPtr("09:30"), OwnerID: strPtr("u1")})
	f.addTask(t, taskDB.Task{Title: "Far", StartDate: strPtr(today), StartTime: strPtr("15:00"), OwnerID: strPtr("u1")})

	s := f.scheduler(t, nil, nil, SchedulerOptions{})
	report, err := s.ListDue(context.Background(), at(today, "09:00"))
	require.NoError(t, err)

	require.Len(t, report.DueToStart, 1)
	assert.Equal(t, toStart.ID, report.DueToStart[0].ID)
	require.Len(t, report.DueToFinish, 1)
	assert.Equal(t, toFinish.ID, report.DueToFinish[0].ID)
	require.Len(t, report.StartingSoon, 1)
	assert.Equal(t, "Soon", report.StartingSoon[0].Title)

	assert.Equal(t, taskDB.StatusPending, f.status(t, toStart.ID))
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, toFinish.ID))
	assert.Empty(t, f.feed(t, "u1"))
	assert.Nil(t, s.Status().LastRunAt)
}

func TestSchedulerService_StartStop(t *testing.T) {
	f := newFixture(t)
	task := f.addTask(t, taskDB.Task{Title: "Cron", StartDate: strPtr("2026-01-01"), StartTime: strPtr("00:00")})
	s := f.scheduler(t, nil, nil, SchedulerOptions{Interval: time.Hour})

	require.NoError(t, s.Start())
	assert.True(t, s.Status().Running)

	require.Eventually(t, func() bool {
		return s.Status().LastRunAt != nil
	}, 5*time.Second, 20*time.Millisecond, "first tick should fire immediately")

	s.Stop()
	assert.False(t, s.Status().Running)
	assert.Equal(t, taskDB.StatusInProgress, f.status(t, task.ID))
}
