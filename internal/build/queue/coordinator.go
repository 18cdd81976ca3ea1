package queue

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/eventstore"
	"git.home.luguber.info/inful/webapk/internal/logfields"
	"git.home.luguber.info/inful/webapk/internal/metrics"
	"git.home.luguber.info/inful/webapk/internal/observability"
	"git.home.luguber.info/inful/webapk/internal/request"
	"git.home.luguber.info/inful/webapk/internal/toolchain"
)

var (
	// ErrQueueFull is returned by Submit when the bounded queue has no room.
	ErrQueueFull = stdErrors.New("build queue is full")
	// ErrNotFound is returned for an unknown build id.
	ErrNotFound = stdErrors.New("build not found")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = stdErrors.New("build queue is stopped")
)

const (
	defaultQueueSize   = 32
	defaultHistorySize = 50
	subscriberBuffer   = 32
	workerID           = "worker-0"
)

// Runner executes one build request end to end and never returns without a
// result.
type Runner interface {
	Run(ctx context.Context, req *request.BuildRequest, progress toolchain.ProgressFunc) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req *request.BuildRequest, progress toolchain.ProgressFunc) Result

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req *request.BuildRequest, progress toolchain.ProgressFunc) Result {
	return f(ctx, req, progress)
}

// Options sizes the coordinator.
type Options struct {
	QueueSize   int
	HistorySize int
}

// Coordinator is the single entry point for build requests.
type Coordinator struct {
	jobs        chan *Job
	runner      Runner
	historySize int

	mu          sync.RWMutex
	pending     map[string]*Job // queued or running
	queued      int
	active      *Job
	history     []*Job // oldest first
	subscribers map[string][]chan Progress
	stopped     bool

	emitter  BuildEventEmitter
	recorder metrics.Recorder

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator around runner.
func NewCoordinator(runner Runner, opts Options) *Coordinator {
	if runner == nil {
		panic("NewCoordinator: runner is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	return &Coordinator{
		jobs:        make(chan *Job, opts.QueueSize),
		runner:      runner,
		historySize: opts.HistorySize,
		pending:     make(map[string]*Job),
		subscribers: make(map[string][]chan Progress),
		recorder:    metrics.NoopRecorder{},
		stopChan:    make(chan struct{}),
	}
}

// SetRecorder injects a metrics recorder.
func (c *Coordinator) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	c.recorder = r
}

// SetEventEmitter injects a build event emitter.
func (c *Coordinator) SetEventEmitter(emitter BuildEventEmitter) {
	c.emitter = emitter
}

// Start launches the worker. The worker exits when ctx ends or Stop is
// called; a build in flight is always allowed to finish.
func (c *Coordinator) Start(ctx context.Context) {
	slog.Info("Starting build coordinator", slog.Int("max_size", cap(c.jobs)))
	c.wg.Add(1)
	go c.worker(ctx)
}

// Stop rejects new submissions, waits for the in-flight build and cancels
// everything still queued.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stopChan)
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	var canceled []*Job
	for _, job := range c.pending {
		if job.Status == StatusQueued {
			c.queued--
			c.finishLocked(job, Result{Status: StatusCanceled, AppID: job.Request.AppID, Message: "build queue stopped"})
			canceled = append(canceled, job)
		}
	}
	c.mu.Unlock()
	for _, job := range canceled {
		c.emitCanceled(job)
	}
	c.recorder.SetQueueLength(c.Length())
	return nil
}

// Submit validates req and enqueues it. Invalid requests are rejected
// without touching the queue.
func (c *Coordinator) Submit(ctx context.Context, req *request.BuildRequest) (Snapshot, error) {
	if req == nil {
		return Snapshot{}, errors.ValidationError("build request is required").Build()
	}
	if err := req.Validate(); err != nil {
		return Snapshot{}, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		Progress:  Progress{Message: "Queued", Status: StatusQueued},
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return Snapshot{}, ErrStopped
	}
	select {
	case c.jobs <- job:
	default:
		c.mu.Unlock()
		return Snapshot{}, ErrQueueFull
	}
	c.pending[job.ID] = job
	c.queued++
	position := c.queued
	snap := job.snapshot()
	c.mu.Unlock()

	c.recorder.SetQueueLength(position)
	slog.InfoContext(ctx, "Build request queued",
		logfields.JobID(job.ID),
		logfields.AppID(req.AppID),
		logfields.QueueLength(position))
	if c.emitter != nil {
		meta := eventstore.BuildQueuedMeta{AppID: req.AppID, ContentKind: string(req.Content.Kind), Position: position}
		if err := c.emitter.EmitBuildQueued(ctx, job.ID, meta); err != nil {
			slog.Warn("Failed to emit BuildQueued event", logfields.JobID(job.ID), logfields.Error(err))
		}
	}
	return snap, nil
}

// Await blocks until the job's result is delivered or ctx ends. Ending ctx
// stops the wait only; the job keeps its place.
func (c *Coordinator) Await(ctx context.Context, id string) (Result, error) {
	c.mu.RLock()
	job := c.lookupLocked(id)
	c.mu.RUnlock()
	if job == nil {
		return Result{}, ErrNotFound
	}

	select {
	case <-job.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		return *job.Result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel cancels a job that has not started. It returns false for a job
// that is running or already finished.
func (c *Coordinator) Cancel(id string) (bool, error) {
	c.mu.Lock()
	job := c.lookupLocked(id)
	if job == nil {
		c.mu.Unlock()
		return false, ErrNotFound
	}
	if job.Status != StatusQueued {
		c.mu.Unlock()
		return false, nil
	}
	c.queued--
	c.finishLocked(job, Result{Status: StatusCanceled, AppID: job.Request.AppID, Message: "canceled before start"})
	c.mu.Unlock()

	c.recorder.SetQueueLength(c.Length())
	c.recorder.IncBuildOutcome(metrics.BuildOutcomeCanceled)
	c.emitCanceled(job)
	slog.Info("Build request canceled", logfields.JobID(id))
	return true, nil
}

// Snapshot returns a copy of a job (pending first, then history).
func (c *Coordinator) Snapshot(id string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job := c.lookupLocked(id)
	if job == nil {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

// Length returns the number of jobs waiting to run.
func (c *Coordinator) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queued
}

// Active returns the running job, if any.
func (c *Coordinator) Active() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return Snapshot{}, false
	}
	return c.active.snapshot(), true
}

// History returns finished jobs, newest first.
func (c *Coordinator) History() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.history))
	for i := len(c.history) - 1; i >= 0; i-- {
		out = append(out, c.history[i].snapshot())
	}
	return out
}

// Subscribe streams progress for a job. The channel first carries the
// current state and is closed after the final update. For a finished job it
// carries only the final state.
func (c *Coordinator) Subscribe(id string) (<-chan Progress, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Progress, subscriberBuffer)
	job := c.pending[id]
	if job == nil {
		if finished := c.lookupLocked(id); finished != nil {
			ch <- finished.Progress
			close(ch)
			return ch, func() {}, nil
		}
		return nil, nil, ErrNotFound
	}
	ch <- job.Progress
	c.subscribers[id] = append(c.subscribers[id], ch)

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[id]
		if i := slices.Index(subs, ch); i >= 0 {
			c.subscribers[id] = slices.Delete(subs, i, i+1)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case job := <-c.jobs:
			c.process(ctx, job)
		}
	}
}

func (c *Coordinator) process(ctx context.Context, job *Job) {
	c.mu.Lock()
	if job.Status != StatusQueued || c.stopped {
		c.mu.Unlock()
		return
	}
	start := time.Now()
	job.StartedAt = &start
	job.Status = StatusRunning
	job.Progress = Progress{Percent: 0, Message: "Starting build...", Status: StatusRunning}
	c.queued--
	c.active = job
	c.broadcastLocked(job)
	c.mu.Unlock()

	appID := job.Request.AppID
	c.recorder.SetQueueLength(c.Length())

	// Shutdown must not interrupt the tree mid-build.
	jobCtx := observability.WithBuildID(context.WithoutCancel(ctx), job.ID)
	jobCtx = observability.WithAppID(jobCtx, appID)
	if c.emitter != nil {
		meta := eventstore.BuildStartedMeta{AppID: appID, WorkerID: workerID}
		if err := c.emitter.EmitBuildStarted(jobCtx, job.ID, meta); err != nil {
			slog.Warn("Failed to emit BuildStarted event", logfields.JobID(job.ID), logfields.Error(err))
		}
	}
	observability.InfoContext(jobCtx, "Build started", logfields.Worker(workerID))

	result := c.runSafely(jobCtx, job)
	result.Duration = time.Since(start)
	if result.AppID == "" {
		result.AppID = appID
	}

	c.mu.Lock()
	c.active = nil
	c.finishLocked(job, result)
	c.mu.Unlock()

	c.recordOutcome(result)
	c.emitCompletion(jobCtx, job.ID, result)
	observability.InfoContext(jobCtx, "Build finished",
		logfields.JobStatus(string(result.Status)),
		logfields.Stage(string(result.Stage)),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))
}

func (c *Coordinator) runSafely(ctx context.Context, job *Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Build panicked",
				logfields.JobID(job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err := errors.InternalError("build panicked").
				WithContext("panic", fmt.Sprint(r)).
				Build()
			result = Failure(job.Request.AppID, err, errors.StageInternal)
		}
	}()
	return c.runner.Run(ctx, job.Request, c.progressFunc(job))
}

func (c *Coordinator) progressFunc(job *Job) toolchain.ProgressFunc {
	return func(percent int, message string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if job.Status != StatusRunning {
			return
		}
		if percent < job.Progress.Percent {
			percent = job.Progress.Percent
		}
		job.Progress = Progress{Percent: min(percent, 100), Message: message, Status: StatusRunning}
		c.broadcastLocked(job)
	}
}

// broadcastLocked sends the job's progress to its subscribers without
// blocking; slow subscribers miss intermediate updates.
func (c *Coordinator) broadcastLocked(job *Job) {
	for _, ch := range c.subscribers[job.ID] {
		select {
		case ch <- job.Progress:
		default:
		}
	}
}

// finishLocked delivers the result and moves the job into history.
// Caller must hold c.mu.
func (c *Coordinator) finishLocked(job *Job, result Result) {
	end := time.Now()
	job.CompletedAt = &end
	job.Status = result.Status
	job.Result = &result
	percent := job.Progress.Percent
	message := result.Message
	if result.Status == StatusSucceeded {
		percent, message = 100, "Done!"
	}
	job.Progress = Progress{Percent: percent, Message: message, Status: result.Status}

	delete(c.pending, job.ID)
	c.history = append(c.history, job)
	if len(c.history) > c.historySize {
		c.history = slices.Delete(c.history, 0, len(c.history)-c.historySize)
	}

	for _, ch := range c.subscribers[job.ID] {
		// Drop a stale update if needed so the final state always fits.
		select {
		case ch <- job.Progress:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- job.Progress
		}
		close(ch)
	}
	delete(c.subscribers, job.ID)
	close(job.done)
}

func (c *Coordinator) lookupLocked(id string) *Job {
	if job, ok := c.pending[id]; ok {
		return job
	}
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == id {
			return c.history[i]
		}
	}
	return nil
}

func (c *Coordinator) recordOutcome(r Result) {
	c.recorder.ObserveBuildDuration(r.Duration)
	switch {
	case r.Status == StatusSucceeded:
		c.recorder.IncBuildOutcome(metrics.BuildOutcomeSuccess)
	case r.Status == StatusCanceled:
		c.recorder.IncBuildOutcome(metrics.BuildOutcomeCanceled)
	case errors.HasCategory(r.Err, errors.CategoryTimeout):
		c.recorder.IncBuildOutcome(metrics.BuildOutcomeTimeout)
	default:
		c.recorder.IncBuildOutcome(metrics.BuildOutcomeFailed)
	}
}

func (c *Coordinator) emitCompletion(ctx context.Context, id string, r Result) {
	if c.emitter == nil {
		return
	}
	var err error
	if r.Succeeded() {
		err = c.emitter.EmitBuildCompleted(ctx, id, eventstore.BuildCompletedMeta{
			AppID:        r.AppID,
			ArtifactPath: r.ArtifactPath,
			Digest:       r.ArtifactDigest,
			DurationMS:   r.Duration.Milliseconds(),
			Repaired:     r.Repaired,
		})
	} else {
		err = c.emitter.EmitBuildFailed(ctx, id, eventstore.BuildFailedMeta{
			AppID:            r.AppID,
			Stage:            string(r.Stage),
			Category:         string(errors.GetCategory(r.Err)),
			Error:            r.Message,
			DurationMS:       r.Duration.Milliseconds(),
			OperatorRequired: errors.IsOperatorRequired(r.Err),
		})
	}
	if err != nil {
		slog.Warn("Failed to emit build completion event", logfields.JobID(id), logfields.Error(err))
	}
}

func (c *Coordinator) emitCanceled(job *Job) {
	if c.emitter == nil {
		return
	}
	meta := eventstore.BuildCanceledMeta{AppID: job.Request.AppID}
	if err := c.emitter.EmitBuildCanceled(context.Background(), job.ID, meta); err != nil {
		slog.Warn("Failed to emit BuildCanceled event", logfields.JobID(job.ID), logfields.Error(err))
	}
}
