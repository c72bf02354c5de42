// Package scheduler runs the periodic sync and eligibility jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"standings/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is a named task run every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Locker grants a job run to one instance per interval.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker takes a SETNX lock per job and tick. A nil client grants every lock, which suits a
// single instance.
type RedisLocker struct {
	rdb   *redis.Client
	owner string
}

// NewRedisLocker returns a locker backed by rdb.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, owner: uuid.NewString()}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	return l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
}

// Scheduler runs each job on its own ticker until the context passed to Start is cancelled.
// A job never overlaps itself; ticks that arrive while it runs are dropped.
type Scheduler struct {
	jobs   []Job
	locker Locker
	wg     sync.WaitGroup
}

// New returns a scheduler for jobs. Jobs with a non-positive interval are ignored.
func New(locker Locker, jobs ...Job) *Scheduler {
	s := &Scheduler{locker: locker}
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			s.jobs = append(s.jobs, j)
		}
	}
	return s
}

// Jobs returns the scheduled jobs.
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Start launches every job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	slog.InfoContext(ctx, "scheduler started", "jobs", len(s.jobs))
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunNow(ctx, job)
		}
	}
}

// RunNow runs job once if this instance wins the lock for the current interval.
func (s *Scheduler) RunNow(ctx context.Context, job Job) (err error) {
	ctx = observability.WithCorrelationID(ctx, observability.GenerateCorrelationID())

	if s.locker != nil {
		ok, lockErr := s.locker.TryLock(ctx, lockKey(job.Name), lockTTL(job.Interval))
		if lockErr != nil {
			slog.WarnContext(ctx, "job lock unavailable, running anyway", "job", job.Name, "err", lockErr)
		} else if !ok {
			observability.SchedulerJobRuns.WithLabelValues(job.Name, "skipped").Inc()
			slog.DebugContext(ctx, "job held by another instance", "job", job.Name)
			return nil
		}
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
			slog.ErrorContext(ctx, "job panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
		}
		result := "ok"
		if err != nil {
			result = "error"
			slog.ErrorContext(ctx, "job failed", "job", job.Name, "err", err, "duration", time.Since(start))
		} else {
			slog.InfoContext(ctx, "job finished", "job", job.Name, "duration", time.Since(start))
		}
		observability.SchedulerJobRuns.WithLabelValues(job.Name, result).Inc()
	}()

	return job.Run(ctx)
}

func lockKey(name string) string {
	return "scheduler:lock:" + name
}

// Locks expire before the next tick so a crashed holder never blocks the following run.
func lockTTL(interval time.Duration) time.Duration {
	if ttl := interval * 9 / 10; ttl > time.Second {
		return ttl
	}
	return time.Second
}
