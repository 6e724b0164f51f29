package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/atlasmap-sc/geftools/internal/jobstore"
)

var (
	ErrQueueFull     = errors.New("job queue is full; try again later")
	ErrManagerClosed = errors.New("job manager stopped")
	ErrBadJobPath    = errors.New("job path outside the allowed directory")
)

// Executor runs one conversion. progress may be called from any goroutine.
type Executor func(ctx context.Context, job *jobstore.Job, progress func(jobstore.JobProgress)) (*jobstore.JobResult, error)

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	MaxConcurrent int    // Max concurrent conversions (default 1)
	SQLitePath    string // Path to SQLite database
	RetentionDays int    // Days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
	QueueSize     int
	InputDir      string // job inputs are resolved inside this directory
	OutputDir     string // job outputs are resolved inside this directory
}

// JobManager runs conversion jobs on a bounded worker pool with SQLite
// persistence.
type JobManager struct {
	cfg      JobManagerConfig
	store    *jobstore.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	baseCtx  context.Context
	stopAll  context.CancelFunc
	log      logrus.FieldLogger

	// Executor is called to run the actual conversion.
	Executor Executor
	// OnComplete is called when a job succeeded, before it is marked completed.
	OnComplete func(job *jobstore.Job, result *jobstore.JobResult)
}

// NewJobManager creates a new job manager with SQLite persistence.
func NewJobManager(cfg JobManagerConfig) (*JobManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	store, err := jobstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm := &JobManager{
		cfg:     cfg,
		store:   store,
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
		baseCtx: ctx,
		stopAll: cancel,
		log:     logrus.WithField("component", "jobs"),
	}
	return jm, nil
}

// Store returns the underlying store for direct access.
func (jm *JobManager) Store() *jobstore.Store {
	return jm.store
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from previous shutdown.
func (jm *JobManager) Start() {
	ctx := jm.baseCtx

	// Mark any running jobs as failed (server restart)
	if n, err := jm.store.MarkRunningAsFailed(ctx, "server restarted"); err != nil {
		jm.log.WithError(err).Error("Failed to mark running jobs as failed")
	} else if n > 0 {
		jm.log.WithField("count", n).Warn("Marked interrupted jobs as failed")
	}

	// Re-queue any queued jobs
	queued, err := jm.store.ListQueuedJobs(ctx)
	if err != nil {
		jm.log.WithError(err).Error("Failed to list queued jobs")
	}
	for _, job := range queued {
		select {
		case jm.queue <- job.ID:
			jm.log.WithField("job_id", job.ID).Info("Re-queued job")
		default:
			jm.log.WithField("job_id", job.ID).Warn("Queue full, cannot re-queue job")
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}

	go jm.cleaner()
}

// Stop cancels running jobs and waits for the workers to exit.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)
		jm.stopAll()
		jm.wg.Wait()
		jm.store.Close()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for {
		select {
		case <-jm.stopCh:
			return
		case jobID := <-jm.queue:
			jm.runJob(jobID)
		}
	}
}

func (jm *JobManager) runJob(jobID string) {
	ctx, cancel := context.WithCancel(jm.baseCtx)
	defer cancel()
	log := jm.log.WithField("job_id", jobID)

	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	// Mark as running; cancelled-while-queued jobs are skipped
	started, err := jm.store.UpdateJobStarted(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("Failed to mark job as started")
		return
	}
	if !started {
		log.Debug("Skipping job that is no longer queued")
		return
	}
	job, err := jm.store.GetJob(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("Failed to load job")
		return
	}

	log.WithField("input", job.Params.Input).Info("Job started")
	progress := func(p jobstore.JobProgress) {
		if err := jm.store.UpdateJobProgress(context.Background(), jobID, p); err != nil {
			log.WithError(err).Warn("Failed to record progress")
		}
	}

	var (
		result  *jobstore.JobResult
		execErr error
	)
	if jm.Executor != nil {
		result, execErr = jm.Executor(ctx, job, progress)
	} else {
		execErr = errors.New("no executor configured")
	}
	jm.mu.Lock()
	delete(jm.running, jobID)
	jm.mu.Unlock()

	// Final status is written with a fresh context so it survives cancellation.
	final := context.Background()
	switch {
	case ctx.Err() != nil:
		msg := "cancelled by user"
		if jm.baseCtx.Err() != nil {
			msg = "server shutting down"
		}
		if err := jm.store.UpdateJobStatus(final, jobID, jobstore.JobStatusCancelled, msg); err != nil {
			log.WithError(err).Error("Failed to record job status")
			return
		}
		log.Info("Job cancelled")
	case execErr != nil:
		if err := jm.store.UpdateJobStatus(final, jobID, jobstore.JobStatusFailed, execErr.Error()); err != nil {
			log.WithError(err).Error("Failed to record job status")
		}
		log.WithError(execErr).Warn("Job failed")
	default:
		if result == nil {
			result = &jobstore.JobResult{Output: job.Params.Output}
		}
		// hooks run first so a completed job's output is already served
		if jm.OnComplete != nil {
			jm.OnComplete(job, result)
		}
		if err := jm.store.CompleteJob(final, jobID, result); err != nil {
			log.WithError(err).Error("Failed to record job result")
			return
		}
		log.WithFields(logrus.Fields{"records": result.Records, "output": result.Output}).Info("Job completed")
	}
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	retention := time.Duration(jm.cfg.RetentionDays) * 24 * time.Hour
	deleted, err := jm.store.DeleteExpiredJobs(context.Background(), retention)
	if err != nil {
		jm.log.WithError(err).Error("Cleanup failed")
	} else if deleted > 0 {
		jm.log.WithField("count", deleted).Info("Cleaned up expired jobs")
	}
}

// Submit validates params, creates a new job and enqueues it.
func (jm *JobManager) Submit(ctx context.Context, params jobstore.ConvertParams) (*jobstore.Job, error) {
	select {
	case <-jm.stopCh:
		return nil, ErrManagerClosed
	default:
	}

	var err error
	if params.Input, err = resolveInside(jm.cfg.InputDir, params.Input); err != nil {
		return nil, err
	}
	if params.Output == "" {
		base := filepath.Base(params.Input)
		for _, ext := range []string{".gz", ".zst", ".gem", ".txt", ".tsv"} {
			base = strings.TrimSuffix(base, ext)
		}
		params.Output = base + ".bgef"
	}
	if params.Output, err = resolveInside(jm.cfg.OutputDir, params.Output); err != nil {
		return nil, err
	}
	if _, err := os.Stat(params.Input); err != nil {
		return nil, fmt.Errorf("input %s: %w", params.Input, err)
	}

	job := &jobstore.Job{
		ID:        uuid.NewString(),
		Status:    jobstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := jm.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- job.ID:
	default:
		if err := jm.store.UpdateJobStatus(ctx, job.ID, jobstore.JobStatusFailed, ErrQueueFull.Error()); err != nil {
			jm.log.WithError(err).WithField("job_id", job.ID).Error("Failed to record job status")
		}
		return nil, ErrQueueFull
	}

	jm.log.WithFields(logrus.Fields{"job_id": job.ID, "input": params.Input, "output": params.Output}).Info("Job queued")
	return job, nil
}

// Get returns a job by ID.
func (jm *JobManager) Get(ctx context.Context, id string) (*jobstore.Job, error) {
	return jm.store.GetJob(ctx, id)
}

// List returns recent jobs, optionally filtered by status.
func (jm *JobManager) List(ctx context.Context, status jobstore.JobStatus, limit int) ([]*jobstore.Job, error) {
	return jm.store.ListJobs(ctx, status, limit)
}

// Cancel attempts to cancel a queued or running job. It reports whether the
// job was still active.
func (jm *JobManager) Cancel(ctx context.Context, id string) (bool, error) {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true, nil
	}

	// If not running, try to mark as cancelled in DB
	job, err := jm.store.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status == jobstore.JobStatusQueued {
		return true, jm.store.UpdateJobStatus(ctx, id, jobstore.JobStatusCancelled, "cancelled before start")
	}
	return false, nil
}

// Delete deletes a finished job record.
func (jm *JobManager) Delete(ctx context.Context, id string) error {
	return jm.store.DeleteJob(ctx, id)
}

// resolveInside joins p onto dir (when relative) and rejects results that
// leave dir. An empty dir allows any path.
func resolveInside(dir, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrBadJobPath)
	}
	if dir == "" {
		return filepath.Clean(p), nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(absDir, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(absDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrBadJobPath, p)
	}
	return full, nil
}
