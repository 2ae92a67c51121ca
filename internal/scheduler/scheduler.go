// Package scheduler runs named periodic jobs on cron specs with seconds.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/robfig/cron/v3"
)

// Job names used by the daemon.
const (
	JobPersist = "persist"
	JobBias    = "bias"
	JobSession = "session"
	JobArchive = "archive"
)

// JobFunc is one run of a job.
type JobFunc func(ctx context.Context) error

// JobStatus reports the last run of a job.
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Next      time.Time `json:"next,omitempty"`
}

type job struct {
	spec   string
	fn     JobFunc
	id     cron.EntryID
	runMu  sync.Mutex
	mu     sync.Mutex
	status JobStatus
}

// Scheduler wraps a seconds-enabled cron. Runs of the same job never
// overlap.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration

	mu   sync.RWMutex
	jobs map[string]*job
}

// New returns a scheduler whose job contexts derive from ctx. Each run is
// bounded by timeout when positive.
func New(ctx context.Context, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DiscardLogger))),
		ctx:     ctx,
		timeout: timeout,
		jobs:    make(map[string]*job),
	}
}

// Add registers fn under name. An empty spec leaves the job runnable only
// through RunNow.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	j := &job{spec: spec, fn: fn, status: JobStatus{Name: name, Spec: spec}}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() { s.run(name, j) })
		if err != nil {
			return fmt.Errorf("scheduler: register %s %q: %w", name, spec, err)
		}
		j.id = id
	}
	s.jobs[name] = j
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", s.Names())
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunNow runs a job synchronously. It returns the job's error.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("unknown job %q", name), nil)
	}
	return s.run(name, j)
}

// Names lists registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Status returns every job's last run, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		st := j.status
		j.mu.Unlock()
		if j.id != 0 {
			st.Next = s.cron.Entry(j.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) run(name string, j *job) error {
	// A tick that arrives mid-run waits for it.
	j.runMu.Lock()
	defer j.runMu.Unlock()

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.fn(ctx)
	j.mu.Lock()
	j.status.Runs++
	j.status.LastRun = start.UTC()
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
	j.mu.Unlock()
	if err != nil {
		slog.Warn("scheduler job failed", "job", name, "error", err, "elapsed", time.Since(start))
		return err
	}
	slog.Debug("scheduler job done", "job", name, "elapsed", time.Since(start))
	return nil
}
