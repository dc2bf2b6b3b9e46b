// Package scheduler runs the self-perpetuating job loops. Each job family
// (chain, solana, dm, digest, ...) loops independently: claim the family's
// lease, run one cycle, record the outcome, release, sleep. Multiple
// processes can run the same families; the lease keeps at most one cycle per
// family in flight.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/store"
)

// Job is one schedulable family.
type Job struct {
	// Family names the job and its lock row.
	Family string
	// Delay is the pause between the end of one cycle and the start of the
	// next, and the backoff while another owner holds the lease.
	Delay time.Duration
	// Lease bounds how long one cycle may hold the family lock. Run is given
	// a context that expires with the lease.
	Lease time.Duration
	Run   func(ctx context.Context) error
}

// Config holds scheduler defaults applied to jobs that leave fields zero.
type Config struct {
	Delay time.Duration
	Lease time.Duration
}

// DefaultConfig returns the stock cadence.
func DefaultConfig() Config {
	return Config{
		Delay: 3 * time.Second,
		Lease: 2 * time.Minute,
	}
}

// Scheduler owns the job loops.
type Scheduler struct {
	store  *store.Store
	owner  string
	config Config
	jobs   []Job
}

// New creates a Scheduler. The owner identity is derived from hostname and
// pid so lock rows are attributable in the database.
func New(s *store.Store, config Config) *Scheduler {
	def := DefaultConfig()
	if config.Delay == 0 {
		config.Delay = def.Delay
	}
	if config.Lease == 0 {
		config.Lease = def.Lease
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Scheduler{
		store:  s,
		owner:  fmt.Sprintf("%s-%d", host, os.Getpid()),
		config: config,
	}
}

// Register adds a job family. Must be called before Run.
func (s *Scheduler) Register(job Job) {
	if job.Delay == 0 {
		job.Delay = s.config.Delay
	}
	if job.Lease == 0 {
		job.Lease = s.config.Lease
	}
	s.jobs = append(s.jobs, job)
}

// Owner returns the lock owner identity of this process.
func (s *Scheduler) Owner() string {
	return s.owner
}

// Run starts one loop per registered family and blocks until the context is
// cancelled and every loop has drained.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started", "owner", s.owner, "families", len(s.jobs))
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		s.RunOnce(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-time.After(job.Delay):
		}
	}
}

// RunOnce attempts a single cycle of one family: claim, run, record,
// release. Losing the lease claim is not an error, just another owner's
// turn. Exposed for tests and the run-once CLI path.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) {
	ok, err := s.store.AcquireLock(job.Family, s.owner, job.Lease)
	if err != nil {
		slog.Error("acquire job lock failed", "family", job.Family, "error", err)
		return
	}
	if !ok {
		slog.Debug("job lock held elsewhere", "family", job.Family)
		return
	}
	defer func() {
		if err := s.store.ReleaseLock(job.Family, s.owner); err != nil {
			slog.Error("release job lock failed", "family", job.Family, "error", err)
		}
	}()

	// The cycle must not outlive the lease, or a second owner could start
	// while this one is still writing.
	runCtx, cancel := context.WithTimeout(ctx, job.Lease)
	defer cancel()

	start := time.Now()
	runErr := job.Run(runCtx)
	if runErr != nil {
		slog.Error("job cycle failed", "family", job.Family,
			"elapsed", time.Since(start), "error", runErr)
	}
	if err := s.store.RecordRun(job.Family, runErr); err != nil {
		slog.Error("record job run failed", "family", job.Family, "error", err)
	}
}
