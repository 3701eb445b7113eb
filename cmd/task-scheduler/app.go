package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"task-lifecycle-service/internal/config"
	"task-lifecycle-service/internal/logger"
	taskDB "task-lifecycle-service/internal/task-manager/db"
	tmKafka "task-lifecycle-service/internal/task-manager/kafka"
	"task-lifecycle-service/internal/task-manager/services"
	"task-lifecycle-service/pkg/crypto"
	gorm_db "task-lifecycle-service/pkg/db"
)

// app holds everything the subcommands share.
type app struct {
	cfg           *config.Config
	log           *logger.Logger
	db            *gorm.DB
	taskRepo      *taskDB.TaskRepository
	notifications *services.NotificationService
	tasks         *services.TaskService
	scheduler     *services.SchedulerService
	publisher     *tmKafka.Publisher
}

func bootstrap(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	gormDB, err := gorm_db.NewGormDB(cfg.Database, log.Named("gorm").Warnf)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("Running database migrations...")
	if err := gorm_db.AutoMigrate(gormDB, taskDB.Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: gormDB, taskRepo: taskDB.NewTaskRepository(gormDB)}

	var eventPublisher services.EventPublisher
	if cfg.Kafka.Enabled {
		a.publisher = tmKafka.NewPublisher(tmKafka.NewKafkaProducer(cfg.Kafka), cfg.Kafka, log.Named("kafka"))
		eventPublisher = a.publisher
		log.Infof("Publishing notification events to %s on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	}
	a.notifications = services.NewNotificationService(
		taskDB.NewNotificationRepository(gormDB), eventPublisher, log.Named("notifications"))

	var cipher *crypto.FieldCipher
	if cfg.Security.EncryptionKey != "" {
		if cipher, err = crypto.NewFieldCipher(cfg.Security.EncryptionKey); err != nil {
			return nil, fmt.Errorf("failed to init field encryption: %w", err)
		}
	} else {
		log.Warn("security.encryption_key is empty, task submissions are disabled")
	}
	a.tasks = services.NewTaskService(a.taskRepo, cipher, nil, log.Named("tasks"))

	a.scheduler, err = services.NewSchedulerService(ctx, a.taskRepo, a.notifications, services.SchedulerOptions{
		Interval:       cfg.Scheduler.Interval,
		Location:       cfg.Scheduler.Location(),
		ReminderWindow: cfg.Scheduler.ReminderWindow,
		Concurrency:    cfg.Scheduler.Concurrency,
	}, log.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler service: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Errorf("Kafka producer close error: %v", err)
		}
	}
	if err := gorm_db.Close(a.db); err != nil {
		a.log.Errorf("Database close error: %v", err)
	}
	_ = a.log.Sync()
}
