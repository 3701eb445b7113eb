package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"task-lifecycle-service/internal/logger"
	taskDB "task-lifecycle-service/internal/task-manager/db"
)

const (
	tickJobName = "task-lifecycle-tick"
	tickJobTag  = "task_lifecycle"
)

// Clock returns the current instant. Tests pin it.
type Clock func() time.Time

// TaskStore is the slice of the task repository a tick touches.
type TaskStore interface {
	FindPendingStartingBy(ctx context.Context, lastDate string) ([]taskDB.Task, error)
	FindInProgressEndingBy(ctx context.Context, lastDate string) ([]taskDB.Task, error)
	FindPendingStartingBetween(ctx context.Context, firstDate, lastDate string) ([]taskDB.Task, error)
	TransitionStatus(ctx context.Context, id uint, from, to taskDB.TaskStatus, at time.Time) (bool, error)
	Ping(ctx context.Context) error
}

type SchedulerOptions struct {
	Interval       time.Duration
	Location       *time.Location
	ReminderWindow time.Duration
	Concurrency    int
	Clock          Clock
}

// SweepReport describes one pass of a tick.
type SweepReport struct {
	Name       string `json:"name"`
	Candidates int    `json:"candidates"`
	Processed  int    `json:"processed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	// NotifyFailed counts transitions that stuck but whose notification
	// could not be written.
	NotifyFailed int    `json:"notifyFailed"`
	Error        string `json:"error,omitempty"`
}

// TickReport is returned by RunTick and the run-once endpoint.
type TickReport struct {
	RanAt         time.Time     `json:"ranAt"`
	Duration      string        `json:"duration"`
	Started       int           `json:"started"`
	Completed     int           `json:"completed"`
	RemindersSent int           `json:"remindersSent"`
	Processed     int           `json:"processed"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	Success       bool          `json:"success"`
	Partial       bool          `json:"partial"`
	Sweeps        []SweepReport `json:"sweeps"`
}

func (r *TickReport) add(s SweepReport) {
	r.Sweeps = append(r.Sweeps, s)
	r.Processed += s.Processed
	r.Skipped += s.Skipped
	r.Failed += s.Failed
	if s.Error != "" || s.Failed > 0 || s.NotifyFailed > 0 {
		r.Partial = true
	}
}

type DueTask struct {
	ID      uint              `json:"id"`
	Title   string            `json:"title"`
	Status  taskDB.TaskStatus `json:"status"`
	OwnerID string            `json:"owner_id,omitempty"`
	DueAt   time.Time         `json:"due_at"`
}

// DueReport lists what a tick at At would act on, without acting.
type DueReport struct {
	At           time.Time `json:"at"`
	DueToStart   []DueTask `json:"due_to_start"`
	DueToFinish  []DueTask `json:"due_to_finish"`
	StartingSoon []DueTask `json:"starting_soon"`
}

type SchedulerStatus struct {
	Running    bool        `json:"running"`
	Ticking    bool        `json:"ticking"`
	Interval   string      `json:"interval"`
	Timezone   string      `json:"timezone"`
	NextRun    *time.Time  `json:"next_run,omitempty"`
	LastRunAt  *time.Time  `json:"last_run_at,omitempty"`
	LastReport *TickReport `json:"last_report,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

type SchedulerService struct {
	tasks    TaskStore
	notifier Notifier
	cron     gocron.Scheduler
	log      *logger.Logger

	interval       time.Duration
	loc            *time.Location
	reminderWindow time.Duration
	concurrency    int
	clock          Clock

	appContext context.Context

	// tickMu serializes ticks so a manual trigger waits for a running cron tick.
	tickMu  sync.Mutex
	ticking atomic.Bool

	stateMu    sync.RWMutex
	job        gocron.Job
	lastRunAt  *time.Time
	lastReport *TickReport
	lastErr    error
}

func NewSchedulerService(ctx context.Context, tasks TaskStore, notifier Notifier, opts SchedulerOptions, log *logger.Logger) (*SchedulerService, error) {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.ReminderWindow <= 0 {
		opts.ReminderWindow = time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(opts.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &SchedulerService{
		tasks:          tasks,
		notifier:       notifier,
		cron:           s,
		log:            log,
		interval:       opts.Interval,
		loc:            opts.Location,
		reminderWindow: opts.ReminderWindow,
		concurrency:    opts.Concurrency,
		clock:          opts.Clock,
		appContext:     ctx,
	}, nil
}

// Start registers the periodic tick and starts gocron. The first tick fires
// immediately; a tick still running when the next is due pushes it back.
func (s *SchedulerService) Start() error {
	s.log.Infof("SchedulerService starting, interval %s, timezone %s", s.interval, s.loc)
	job, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.scheduledTick),
		gocron.WithName(tickJobName),
		gocron.WithTags(tickJobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule lifecycle tick: %w", err)
	}
	s.stateMu.Lock()
	s.job = job
	s.stateMu.Unlock()

	s.cron.Start()
	s.log.Infof("SchedulerService started. gocron Job ID: %s, Tags: %v", job.ID(), job.Tags())
	return nil
}

func (s *SchedulerService) Stop() {
	s.log.Info("SchedulerService stopping...")
	if err := s.cron.Shutdown(); err != nil {
		s.log.Errorf("Error shutting down gocron scheduler: %v", err)
		return
	}
	s.stateMu.Lock()
	s.job = nil
	s.stateMu.Unlock()
	s.log.Info("Gocron scheduler shut down successfully.")
}

func (s *SchedulerService) scheduledTick() {
	report, err := s.RunTick(s.appContext, s.clock())
	if err != nil {
		s.log.Errorf("Scheduled tick did not run: %v", err)
		return
	}
	s.log.Infof("Scheduled tick done: started=%d completed=%d reminders=%d skipped=%d failed=%d",
		report.Started, report.Completed, report.RemindersSent, report.Skipped, report.Failed)
}

// RunTickNow runs a tick against the service clock.
func (s *SchedulerService) RunTickNow(ctx context.Context) (*TickReport, error) {
	return s.RunTick(ctx, s.clock())
}

// RunTick runs the start, completion and reminder sweeps in that order,
// each against freshly read state. A failing sweep is recorded and the next
// one still runs. The only error returned is an unreachable store.
func (s *SchedulerService) RunTick(ctx context.Context, now time.Time) (*TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.ticking.Store(true)
	defer s.ticking.Store(false)

	began := time.Now()
	if err := s.tasks.Ping(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		s.recordRun(now, nil, err)
		return nil, err
	}

	report := &TickReport{RanAt: now, Success: true}

	start := s.transitionSweep(ctx, now, startSweep)
	report.add(start)
	report.Started = start.Processed

	finish := s.transitionSweep(ctx, now, completeSweep)
	report.add(finish)
	report.Completed = finish.Processed

	reminders := s.reminderSweep(ctx, now)
	report.add(reminders)
	report.RemindersSent = reminders.Processed

	report.Duration = time.Since(began).String()
	s.recordRun(now, report, nil)
	if report.Partial {
		s.log.Warnf("Tick at %s finished with errors: %+v", now.Format(time.RFC3339), report.Sweeps)
	}
	return report, nil
}

type sweepDef struct {
	name      string
	from, to  taskDB.TaskStatus
	fetch     func(s *SchedulerService, ctx context.Context, today string) ([]taskDB.Task, error)
	instant   func(t *taskDB.Task, loc *time.Location) (time.Time, bool, error)
	notifType taskDB.NotificationType
	title     string
	message   string
}

var (
	startSweep = sweepDef{
		name: "start",
		from: taskDB.StatusPending,
		to:   taskDB.StatusInProgress,
		fetch: func(s *SchedulerService, ctx context.Context, today string) ([]taskDB.Task, error) {
			return s.tasks.FindPendingStartingBy(ctx, today)
		},
		instant:   (*taskDB.Task).StartInstant,
		notifType: taskDB.NotificationTaskStarted,
		title:     "Task started",
		message:   "Your task %q has started.",
	}
	completeSweep = sweepDef{
		name: "complete",
		from: taskDB.StatusInProgress,
		to:   taskDB.StatusCompleted,
		fetch: func(s *SchedulerService, ctx context.Context, today string) ([]taskDB.Task, error) {
			return s.tasks.FindInProgressEndingBy(ctx, today)
		},
		instant:   (*taskDB.Task).EndInstant,
		notifType: taskDB.NotificationTaskCompleted,
		title:     "Task completed",
		message:   "Your task %q has ended and is now marked completed.",
	}
)

type sweepCounters struct {
	processed, skipped, failed, notifyFailed atomic.Int32
}

func (c *sweepCounters) into(r *SweepReport) {
	r.Processed = int(c.processed.Load())
	r.Skipped = int(c.skipped.Load())
	r.Failed = int(c.failed.Load())
	r.NotifyFailed = int(c.notifyFailed.Load())
}

func (s *SchedulerService) transitionSweep(ctx context.Context, now time.Time, def sweepDef) SweepReport {
	rep := SweepReport{Name: def.name}
	tasks, err := def.fetch(s, ctx, taskDB.DateIn(now, s.loc))
	if err != nil {
		s.log.Errorf("Sweep %s: failed to load candidates: %v", def.name, err)
		rep.Error = err.Error()
		return rep
	}
	rep.Candidates = len(tasks)

	var c sweepCounters
	s.forEach(ctx, tasks, func(ctx context.Context, task taskDB.Task) {
		due, ok, err := def.instant(&task, s.loc)
		if err != nil {
			s.log.Warnf("Sweep %s: skipping task %d with malformed schedule: %v", def.name, task.ID, err)
			c.skipped.Add(1)
			return
		}
		if !ok || due.After(now) {
			return
		}

		moved, err := s.tasks.TransitionStatus(ctx, task.ID, def.from, def.to, now)
		if err != nil {
			s.log.Errorf("Sweep %s: task %d: %v", def.name, task.ID, err)
			c.failed.Add(1)
			return
		}
		if !moved {
			s.log.Debugf("Sweep %s: task %d left %s before the update, skipping", def.name, task.ID, def.from)
			c.skipped.Add(1)
			return
		}
		c.processed.Add(1)
		s.log.Infof("Task %d moved %s -> %s", task.ID, def.from, def.to)

		owner := task.Owner()
		if owner == "" {
			return
		}
		if _, err := s.notifier.NotifyAt(ctx, now, owner, def.notifType, def.title, fmt.Sprintf(def.message, task.Title)); err != nil {
			s.log.Warnf("Sweep %s: task %d moved but notification to %s failed: %v", def.name, task.ID, owner, err)
			c.notifyFailed.Add(1)
		}
	})
	c.into(&rep)
	return rep
}

// reminderSweep notifies owners of PENDING tasks starting within the window.
// A reminder for the same title sent to the same owner within the window
// suppresses a second one.
func (s *SchedulerService) reminderSweep(ctx context.Context, now time.Time) SweepReport {
	rep := SweepReport{Name: "reminder"}
	horizon := now.Add(s.reminderWindow)
	tasks, err := s.tasks.FindPendingStartingBetween(ctx, taskDB.DateIn(now, s.loc), taskDB.DateIn(horizon, s.loc))
	if err != nil {
		s.log.Errorf("Sweep reminder: failed to load candidates: %v", err)
		rep.Error = err.Error()
		return rep
	}
	rep.Candidates = len(tasks)

	var c sweepCounters
	s.forEach(ctx, tasks, func(ctx context.Context, task taskDB.Task) {
		start, ok, err := task.StartInstant(s.loc)
		if err != nil {
			s.log.Warnf("Sweep reminder: skipping task %d with malformed schedule: %v", task.ID, err)
			c.skipped.Add(1)
			return
		}
		if !ok || !start.After(now) || start.After(horizon) {
			return
		}
		owner := task.Owner()
		if owner == "" {
			return
		}

		sent, err := s.notifier.HasRecent(ctx, owner, taskDB.NotificationTaskReminder, reminderPrefix(task.Title), now.Add(-s.reminderWindow))
		if err != nil {
			s.log.Errorf("Sweep reminder: task %d: %v", task.ID, err)
			c.failed.Add(1)
			return
		}
		if sent {
			return
		}

		msg := reminderPrefix(task.Title) + start.In(s.loc).Format("2006-01-02 15:04 MST") + "."
		if _, err := s.notifier.NotifyAt(ctx, now, owner, taskDB.NotificationTaskReminder, "Task starting soon", msg); err != nil {
			s.log.Errorf("Sweep reminder: task %d: %v", task.ID, err)
			c.failed.Add(1)
			return
		}
		c.processed.Add(1)
	})
	c.into(&rep)
	return rep
}

// reminderPrefix is the fixed head of every reminder message. The title goes
// in unescaped and the closing quote plus " starts at " ends it, so a lookup
// on the prefix matches exactly one title.
func reminderPrefix(title string) string {
	return `Your task "` + title + `" starts at `
}

func (s *SchedulerService) forEach(ctx context.Context, tasks []taskDB.Task, fn func(ctx context.Context, task taskDB.Task)) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range tasks {
		task := tasks[i]
		g.Go(func() error {
			fn(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
}

// ListDue reports what a tick at now would touch. Nothing is written.
func (s *SchedulerService) ListDue(ctx context.Context, now time.Time) (*DueReport, error) {
	if err := s.tasks.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	today := taskDB.DateIn(now, s.loc)
	horizon := now.Add(s.reminderWindow)
	report := &DueReport{At: now, DueToStart: []DueTask{}, DueToFinish: []DueTask{}, StartingSoon: []DueTask{}}

	pending, err := s.tasks.FindPendingStartingBy(ctx, taskDB.DateIn(horizon, s.loc))
	if err != nil {
		return nil, err
	}
	for i := range pending {
		start, ok, err := pending[i].StartInstant(s.loc)
		if err != nil || !ok {
			continue
		}
		switch {
		case !start.After(now):
			report.DueToStart = append(report.DueToStart, dueTask(&pending[i], start))
		case !start.After(horizon) && pending[i].Owner() != "":
			report.StartingSoon = append(report.StartingSoon, dueTask(&pending[i], start))
		}
	}

	running, err := s.tasks.FindInProgressEndingBy(ctx, today)
	if err != nil {
		return nil, err
	}
	for i := range running {
		end, ok, err := running[i].EndInstant(s.loc)
		if err != nil || !ok || end.After(now) {
			continue
		}
		report.DueToFinish = append(report.DueToFinish, dueTask(&running[i], end))
	}
	return report, nil
}

func dueTask(t *taskDB.Task, at time.Time) DueTask {
	return DueTask{ID: t.ID, Title: t.Title, Status: t.Status, OwnerID: t.Owner(), DueAt: at}
}

func (s *SchedulerService) recordRun(now time.Time, report *TickReport, err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	at := now
	s.lastRunAt = &at
	if report != nil {
		s.lastReport = report
	}
	s.lastErr = err
}

func (s *SchedulerService) Status() SchedulerStatus {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := SchedulerStatus{
		Running:    s.job != nil,
		Ticking:    s.ticking.Load(),
		Interval:   s.interval.String(),
		Timezone:   s.loc.String(),
		LastRunAt:  s.lastRunAt,
		LastReport: s.lastReport,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.job != nil {
		if next, err := s.job.NextRun(); err == nil && !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}
