// Package scheduler runs the periodic jobs: the notification sweep and the
// subscription lifecycle check. Schedules come from config as cron
// expressions, Go durations, or HH:MM intervals; triggers fire in the
// configured timezone so "09:00" means the users' morning, not UTC's.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "cyclebot/pkg/logx"
)

// Job is one registered periodic job. Run receives a context bounded by
// Timeout and the service's run context.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	jobs   []Job

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds a stopped service. timezone is an IANA name; empty means UTC.
func New(timezone string, log logx.Logger) (*Service, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		loc: loc,
		// SecondOptional accepts both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// Add registers a job. Must be called before Start.
func (s *Service) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("job name and run func required")
	}
	spec, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	if spec.Kind == SpecCron {
		if _, err := s.parser.Parse(spec.Cron); err != nil {
			return fmt.Errorf("job %s: invalid cron %q: %w", j.Name, spec.Cron, err)
		}
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))

	for _, j := range s.jobs {
		j := j
		spec, _ := ParseSchedule(j.Schedule)
		expr := spec.Cron
		if spec.Kind == SpecInterval {
			expr = "@every " + spec.Every.String()
		}
		if _, err := s.c.AddFunc(expr, func() { s.runJob(j) }); err != nil {
			return fmt.Errorf("register job %s: %w", j.Name, err)
		}
		s.log.Info("job registered", logx.String("job", j.Name), logx.String("schedule", expr))
	}

	s.c.Start()
	return nil
}

// Stop halts triggering and waits for running jobs up to the ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Service) runJob(j Job) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		return
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job", logx.String("job", j.Name),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now().In(s.loc)
	s.log.Debug("job started", logx.String("job", j.Name))
	if err := j.Run(ctx, start); err != nil {
		s.log.Warn("job failed", logx.String("job", j.Name),
			logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("job", j.Name), logx.Duration("took", time.Since(start)))
}
