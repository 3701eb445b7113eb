package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	taskDB "task-lifecycle-service/internal/task-manager/db"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test_gorm.db")), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := gormDB.AutoMigrate(taskDB.Models()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return gormDB
}

func strPtr(s string) *string { return &s }

func at(date, clock string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	db            *gorm.DB
	tasks         *taskDB.TaskRepository
	notifications *taskDB.NotificationRepository
	notifier      *NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gormDB := setupTestDB(t)
	notifications := taskDB.NewNotificationRepository(gormDB)
	return &fixture{
		db:            gormDB,
		tasks:         taskDB.NewTaskRepository(gormDB),
		notifications: notifications,
		notifier:      NewNotificationService(notifications, nil, nil),
	}
}

func (f *fixture) scheduler(t *testing.T, store TaskStore, notifier Notifier, opts SchedulerOptions) *SchedulerService {
	t.Helper()
	if store == nil {
		store = f.tasks
	}
	if notifier == nil {
		notifier = f.notifier
	}
	s, err := NewSchedulerService(context.Background(), store, notifier, opts, nil)
	require.NoError(t, err)
	return s
}

func (f *fixture) addTask(t *testing.T, task taskDB.Task) *taskDB.Task {
	t.Helper()
	require.NoError(t, f.tasks.Create(context.Background(), &task))
	return &task
}

func (f *fixture) status(t *testing.T, id uint) taskDB.TaskStatus {
	t.Helper()
	task, err := f.tasks.FindByID(context.Background(), id)
	require.NoError(t, err)
	return task.Status
}

func (f *fixture) feed(t *testing.T, recipient string) []taskDB.Notification {
	t.Helper()
	list, err := f.notifications.ListByRecipient(context.Background(), recipient, false)
	require.NoError(t, err)
	return list
}

func countType(list []taskDB.Notification, typ taskDB.NotificationType) int {
	n := 0
	for _, item := range list {
		if item.Type == typ {
			n++
		}
	}
	return n
}
