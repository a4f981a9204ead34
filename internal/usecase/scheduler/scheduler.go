package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/logger"
	"github.com/kailas-cloud/watchledger/internal/metrics"
)

// Defaults.
const (
	DefaultPollInterval     = 300 * time.Second
	DefaultCooldown         = 45 * time.Minute
	DefaultRecoveryInterval = 60 * time.Second
	DefaultStopTimeout      = 5 * time.Second
	DefaultWindowWidth      = time.Hour
)

// Config holds loop timing. WindowWidth is how long a window stays open
// after its minute; it defaults to an hour.
type Config struct {
	PollInterval     time.Duration
	Cooldown         time.Duration
	RecoveryInterval time.Duration
	StopTimeout      time.Duration
	WindowWidth      time.Duration
	DefaultMinutes   []int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = DefaultRecoveryInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = DefaultWindowWidth
	}
	if len(c.DefaultMinutes) == 0 {
		c.DefaultMinutes, _ = domain.ParseClocks(domain.DefaultScheduleTimes)
	}
}

type task struct {
	id          string
	description string
	action      Action
	lastRunAt   *time.Time
	lastError   string
}

// Scheduler fires registered tasks inside allowed time-of-day windows,
// at most once per cooldown per task, from a single background loop.
type Scheduler struct {
	mu       sync.Mutex
	tasks    []*task
	schedule domain.ScheduleConfig
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}

	store  ScheduleStore
	cfg    Config
	clock  quartz.Clock
	logger *zap.Logger
}

// New creates a scheduler and loads its windows. A missing or unreadable
// schedule is replaced with the defaults, which are persisted.
func New(ctx context.Context, store ScheduleStore, cfg Config, clock quartz.Clock, logger *zap.Logger) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{store: store, cfg: cfg, clock: clock, logger: logger}
	s.schedule = s.loadSchedule(ctx)
	return s
}

func (s *Scheduler) loadSchedule(ctx context.Context) domain.ScheduleConfig {
	cfg, err := s.store.Load(ctx)
	if err == nil {
		s.logger.Info("Schedule loaded", zap.Strings("times", cfg.Times()))
		return cfg
	}

	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Info("No schedule stored, using defaults")
	} else {
		s.logger.Warn("Schedule unreadable, regenerating defaults", zap.Error(err))
	}
	def, _ := domain.NewScheduleConfig(s.cfg.DefaultMinutes, s.clock.Now().UTC())
	if err := s.store.Save(ctx, def); err != nil {
		s.logger.Error("Failed to persist default schedule", zap.Error(err))
	}
	return def
}

// AddTask registers a task. Tasks run in registration order.
func (s *Scheduler) AddTask(id, description string, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) >= 0 {
		return domain.NewDuplicateTask(id)
	}
	s.tasks = append(s.tasks, &task{id: id, description: description, action: action})
	s.logger.Info("Task registered", zap.String("task", id), zap.String("description", description))
	return nil
}

// RemoveTask unregisters a task. Unknown ids are ignored.
func (s *Scheduler) RemoveTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexLocked(id); i >= 0 {
		s.tasks = slices.Delete(s.tasks, i, i+1)
		s.logger.Info("Task removed", zap.String("task", id))
	}
}

// SetSchedule replaces the allowed windows and persists them. The new
// windows take effect even if the write fails.
func (s *Scheduler) SetSchedule(ctx context.Context, minutes []int) (domain.ScheduleConfig, error) {
	cfg, err := domain.NewScheduleConfig(minutes, s.clock.Now().UTC())
	if err != nil {
		return domain.ScheduleConfig{}, err
	}

	s.mu.Lock()
	s.schedule = cfg
	s.mu.Unlock()

	s.logger.Info("Schedule updated", zap.Strings("times", cfg.Times()))
	if err := s.store.Save(ctx, cfg); err != nil {
		return cfg, fmt.Errorf("persist schedule: %w", err)
	}
	return cfg, nil
}

// SetScheduleTimes is SetSchedule for "HH:MM" strings.
func (s *Scheduler) SetScheduleTimes(ctx context.Context, times []string) (domain.ScheduleConfig, error) {
	minutes, err := domain.ParseClocks(times)
	if err != nil {
		return domain.ScheduleConfig{}, err
	}
	return s.SetSchedule(ctx, minutes)
}

// Schedule returns the current windows.
func (s *Scheduler) Schedule() domain.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

// Start launches the background loop. It returns false if the loop is
// already running. The loop stops on Stop or when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running, s.cancel, s.done = true, cancel, done

	go s.loop(loopCtx, done)
	s.logger.Info("Scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("cooldown", s.cfg.Cooldown),
	)
	return true
}

// Stop signals the loop and waits up to StopTimeout for it to exit.
// An in-flight task is not interrupted. Returns false on timeout; the
// scheduler then stays running until the loop exits, and Start keeps
// refusing a second loop.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	timer := s.clock.NewTimer(s.cfg.StopTimeout, "scheduler", "stop")
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return true
	case <-timer.C:
		s.logger.Warn("Scheduler loop did not exit in time", zap.Duration("timeout", s.cfg.StopTimeout))
		return false
	}
}

// Close stops the loop. Owners must call it before dropping the scheduler.
func (s *Scheduler) Close() error {
	if !s.Stop() {
		return errors.New("scheduler: stop timed out")
	}
	return nil
}

// Status reports the running flag, windows and per-task last run.
func (s *Scheduler) Status() domain.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.SchedulerStatus{
		Running:             s.running,
		AllowedMinutesOfDay: slices.Clone(s.schedule.AllowedMinutesOfDay),
		AllowedTimes:        s.schedule.Times(),
		Tasks:               make([]domain.TaskStatus, 0, len(s.tasks)),
	}
	for _, t := range s.tasks {
		ts := domain.TaskStatus{ID: t.id, Description: t.description, LastError: t.lastError}
		if t.lastRunAt != nil {
			at := *t.lastRunAt
			ts.LastRunAt = &at
		}
		st.Tasks = append(st.Tasks, ts)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.running, s.cancel = false, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := s.clock.NewTicker(s.cfg.PollInterval, "scheduler", "poll")
	defer ticker.Stop()

	for {
		if err := s.safeTick(ctx); err != nil {
			s.logger.Error("Scheduler tick failed, backing off",
				zap.Duration("recovery", s.cfg.RecoveryInterval),
				zap.Error(err),
			)
			if !s.sleep(ctx, s.cfg.RecoveryInterval) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d, "scheduler", "recovery")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// safeTick turns a panic in the loop body into an error so the loop survives.
func (s *Scheduler) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduler loop: %v", r)
		}
	}()
	s.tick(ctx)
	return nil
}

// tick runs every due task once, in registration order.
func (s *Scheduler) tick(ctx context.Context) int {
	now := s.clock.Now()
	due := s.dueTasks(now)
	if len(due) == 0 {
		return 0
	}

	ctx, log, _ := logger.WithPassID(ctx, s.logger)
	log.Info("Scheduler window open", zap.Int("due_tasks", len(due)), zap.String("time", domain.FormatClock(domain.MinuteOfDay(now))))

	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		s.runTask(ctx, t)
	}
	return len(due)
}

func (s *Scheduler) dueTasks(now time.Time) []*task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.windowOpenLocked(now) {
		return nil
	}
	var due []*task
	for _, t := range s.tasks {
		if t.lastRunAt == nil || now.Sub(*t.lastRunAt) >= s.cfg.Cooldown {
			due = append(due, t)
		}
	}
	return due
}

// windowOpenLocked reports whether now falls in [m, m+WindowWidth) for an
// allowed minute m, wrapping past midnight.
func (s *Scheduler) windowOpenLocked(now time.Time) bool {
	width := int(s.cfg.WindowWidth / time.Minute)
	if s.cfg.WindowWidth%time.Minute != 0 {
		width++
	}
	width = max(width, 1)

	minute := domain.MinuteOfDay(now)
	for _, m := range s.schedule.AllowedMinutesOfDay {
		if (minute-m+domain.MinutesPerDay)%domain.MinutesPerDay < width {
			return true
		}
	}
	return false
}

// runTask executes t with the task id added to the context logger.
func (s *Scheduler) runTask(ctx context.Context, t *task) {
	ctx, log := logger.With(ctx, zap.String("task", t.id))
	start := s.clock.Now()

	err := invoke(ctx, t.action)

	s.mu.Lock()
	if err != nil {
		t.lastError = err.Error()
	} else {
		at := start
		t.lastRunAt = &at
		t.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		metrics.SchedulerTaskRunsTotal.WithLabelValues(t.id, "error").Inc()
		log.Error("Task failed", zap.Error(err))
		return
	}
	metrics.SchedulerTaskRunsTotal.WithLabelValues(t.id, "ok").Inc()
	log.Info("Task completed", zap.Duration("took", s.clock.Since(start)))
}

func invoke(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return action(ctx)
}

func (s *Scheduler) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t *task) bool { return t.id == id })
}
