package interfaces

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/pkg/metrics"
	"rentbot/internal/service/marketplace/application"
	"rentbot/internal/service/marketplace/domain/port"
)

// stopTimeout 关停时等待正在运行的任务的上限
const stopTimeout = 15 * time.Second

// ErrUnknownJob 表示没有注册该名称的任务
var ErrUnknownJob = errors.New("unknown job")

// Job 是一个按 cron 表达式运行的后台任务
type Job struct {
	Name string
	Spec string
	// RunAtStart 为 true 时启动后立即执行一次
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Scheduler 驱动后台任务。同名任务在进程内不会重叠，
// 跨副本的互斥交给 SweepLock。
type Scheduler struct {
	cron   *cron.Cron
	lock   port.SweepLock
	tracer trace.Tracer

	mu    sync.Mutex
	jobs  map[string]Job
	order []string
	base  context.Context
}

func NewScheduler(lock port.SweepLock, tracer trace.Tracer) *Scheduler {
	if lock == nil {
		lock = port.NoopLock{}
	}
	l := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
			cron.WithLogger(l),
		),
		lock:   lock,
		tracer: tracer,
		jobs:   make(map[string]Job),
		base:   context.Background(),
	}
}

// Add 注册任务，必须在 Run 之前调用
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return errors.Errorf("job %q already registered", job.Name)
	}
	if job.Spec != "" {
		name := job.Name
		if _, err := s.cron.AddFunc(job.Spec, func() {
			_ = s.RunJob(s.rootContext(), name)
		}); err != nil {
			return errors.Wrapf(err, "invalid schedule %q for job %s", job.Spec, job.Name)
		}
	}
	s.jobs[job.Name] = job
	s.order = append(s.order, job.Name)
	return nil
}

func (s *Scheduler) rootContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// RunJob 在锁的保护下执行一次任务。其他副本正在运行时直接跳过。
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrUnknownJob, name)
	}

	ctx, span := s.tracer.Start(ctx, "sweep."+name, trace.WithAttributes(attribute.String("sweep.job", name)))
	defer span.End()

	release, err := s.lock.Acquire(ctx, name)
	if err != nil {
		if errors.Is(err, port.ErrSweepBusy) {
			metrics.SweepRuns.WithLabelValues(name, "skipped").Inc()
			span.SetAttributes(attribute.Bool("sweep.skipped", true))
			logger.Ctx(ctx).Debug().Str("job", name).Msg("sweep is running on another replica, skipped")
			return nil
		}
		metrics.SweepRuns.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		logger.Ctx(ctx).Error().Err(err).Str("job", name).Msg("failed to acquire sweep lock")
		return err
	}
	defer release()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		metrics.SweepRuns.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(ctx).Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("sweep failed")
		return err
	}
	metrics.SweepRuns.WithLabelValues(name, "ok").Inc()
	logger.Ctx(ctx).Debug().Str("job", name).Dur("took", time.Since(start)).Msg("sweep finished")
	return nil
}

// Run 启动调度直到 ctx 取消，随后等待正在运行的任务结束
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	s.cron.Start()
	logger.L().Info().Int("jobs", len(names)).Msg("✅ Scheduler started.")

	for _, name := range names {
		s.mu.Lock()
		job := s.jobs[name]
		s.mu.Unlock()
		if job.RunAtStart {
			_ = s.RunJob(ctx, name)
		}
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(stopTimeout):
		logger.L().Warn().Msg("scheduler stop timed out, some sweeps are still running")
	}
	logger.L().Info().Msg("🛑 Scheduler stopped.")
	return nil
}

// cronLogger 把 cron 的日志接到 zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.L().Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.L().Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// SweepSchedules 各任务的 cron 表达式
type SweepSchedules struct {
	NotifyInterval  time.Duration
	ModeratorAlerts string
	Cleanup         string
	DailyStats      string
	Health          string
}

// SweepJobs 把 SweepService 的各项任务组装成调度任务
func SweepJobs(svc *application.SweepService, sched SweepSchedules) []Job {
	interval := sched.NotifyInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return []Job{
		{
			Name:       "notify_new_ads",
			Spec:       fmt.Sprintf("@every %s", interval),
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				n, err := svc.NotifyNewAds(ctx)
				if n > 0 {
					logger.Ctx(ctx).Info().Int("created", n).Msg("search notifications created")
				}
				return err
			},
		},
		{
			Name: "notify_moderators",
			Spec: sched.ModeratorAlerts,
			Run: func(ctx context.Context) error {
				_, err := svc.NotifyModerators(ctx)
				return err
			},
		},
		{
			Name: "cleanup",
			Spec: sched.Cleanup,
			Run: func(ctx context.Context) error {
				_, err := svc.Cleanup(ctx)
				return err
			},
		},
		{
			Name: "daily_stats",
			Spec: sched.DailyStats,
			Run: func(ctx context.Context) error {
				_, err := svc.DailyStats(ctx)
				return err
			},
		},
		{
			Name:       "health_check",
			Spec:       sched.Health,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := svc.Health(ctx)
				return err
			},
		},
	}
}
