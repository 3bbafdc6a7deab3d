package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/domain/job"
	idgen "github.com/headonpro/tabellen-service/internal/platform/id"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

// OperationTableCalculation names the queue's main operation for circuit
// breakers and alerts.
const OperationTableCalculation = "table-calculation"

type pairKey struct {
	leagueID int64
	seasonID int64
}

type QueueConfig struct {
	Concurrency      int
	MaxRetries       int
	RetryDelay       time.Duration
	BackoffMaxDelay  time.Duration
	JobTimeout       time.Duration
	MaxPendingJobs   int
	MaxCompletedJobs int
	MaxFailedJobs    int

	DefaultPriority   job.Priority
	PriorityByTrigger map[job.Trigger]job.Priority

	// AutomaticCalculation gates GAME_RESULT enqueues.
	AutomaticCalculation bool
	// SnapshotBeforeCalculation archives the current table at job start.
	SnapshotBeforeCalculation bool
}

func (c QueueConfig) normalized() QueueConfig {
	if c.Concurrency < 1 {
		c.Concurrency = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.BackoffMaxDelay < c.RetryDelay {
		c.BackoffMaxDelay = 30 * time.Second
	}
	if c.MaxPendingJobs <= 0 {
		c.MaxPendingJobs = 1000
	}
	if c.MaxCompletedJobs <= 0 {
		c.MaxCompletedJobs = 100
	}
	if c.MaxFailedJobs <= 0 {
		c.MaxFailedJobs = 50
	}
	if c.DefaultPriority == "" {
		c.DefaultPriority = job.PriorityNormal
	}
	return c
}

type EnqueueOptions struct {
	Priority    string
	Trigger     string
	Description string
}

// QueueStatus is the externally visible state of the queue.
type QueueStatus struct {
	Running                 bool       `json:"running"`
	Paused                  bool       `json:"paused"`
	TotalJobs               int        `json:"total_jobs"`
	PendingJobs             int        `json:"pending_jobs"`
	ProcessingJobs          int        `json:"processing_jobs"`
	CompletedJobs           int        `json:"completed_jobs"`
	FailedJobs              int        `json:"failed_jobs"`
	AverageProcessingTimeMs int64      `json:"average_processing_time_ms"`
	LastProcessedAt         *time.Time `json:"last_processed_at,omitempty"`
}

// QueueMetrics aggregates processing outcomes since start.
type QueueMetrics struct {
	TotalProcessed          int64   `json:"total_processed"`
	SuccessRate             float64 `json:"success_rate"`
	ErrorRate               float64 `json:"error_rate"`
	RetryRate               float64 `json:"retry_rate"`
	TimeoutRate             float64 `json:"timeout_rate"`
	DeadLetterCount         int     `json:"dead_letter_count"`
	AverageProcessingTimeMs int64   `json:"average_processing_time_ms"`
}

// QueueService schedules table calculations: one priority queue per class,
// per-(league, season) deduplication locks, a bounded worker pool, exponential
// backoff with jitter, and a dead-letter area for terminally failed jobs.
type QueueService struct {
	calc      *CalculationService
	handler   *ErrorHandlerService
	snapshots *SnapshotService
	cfg       QueueConfig
	logger    *logging.Logger
	ids       *idgen.RandomGenerator

	mu          sync.Mutex
	jobs        map[string]*job.Job
	pending     map[job.Priority][]string
	activeLocks map[pairKey]string
	deadLetter  []job.Job
	retryTimers map[string]*time.Timer
	completed   []string
	failed      []string

	running  bool
	paused   bool
	clearing bool
	inflight int

	totalProcessed  int64
	succeededCount  int64
	failedCount     int64
	retryEvents     int64
	timeoutEvents   int64
	totalDurationMs int64
	lastProcessedAt time.Time

	pool       *ants.Pool
	wake       chan struct{}
	stopCh     chan struct{}
	loops      conc.WaitGroup
	inflightWG sync.WaitGroup

	now    func() time.Time
	jitter func() float64
}

func NewQueueService(
	calc *CalculationService,
	handler *ErrorHandlerService,
	snapshots *SnapshotService,
	cfg QueueConfig,
	logger *logging.Logger,
) *QueueService {
	if logger == nil {
		logger = logging.Default()
	}

	return &QueueService{
		calc:        calc,
		handler:     handler,
		snapshots:   snapshots,
		cfg:         cfg.normalized(),
		logger:      logger,
		ids:         idgen.NewRandomGenerator(),
		jobs:        make(map[string]*job.Job),
		pending:     map[job.Priority][]string{job.PriorityHigh: {}, job.PriorityNormal: {}, job.PriorityLow: {}},
		activeLocks: make(map[pairKey]string),
		retryTimers: make(map[string]*time.Timer),
		wake:        make(chan struct{}, 1),
		now:         time.Now,
		jitter:      rand.Float64,
	}
}

// Start brings up the worker pool and the dispatch loop.
func (s *QueueService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	pool, err := ants.NewPool(s.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("create queue worker pool: %w", err)
	}
	s.pool = pool
	s.stopCh = make(chan struct{})
	s.running = true

	s.loops.Go(s.dispatchLoop)
	s.logger.Info("queue started", "concurrency", s.cfg.Concurrency, "max_retries", s.cfg.MaxRetries)
	return nil
}

// Stop halts dispatching, waits for in-flight jobs and releases the pool.
// Pending jobs stay queued in memory but are not processed any further.
func (s *QueueService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	pool := s.pool
	s.mu.Unlock()

	s.loops.Wait()
	s.inflightWG.Wait()
	if pool != nil {
		pool.Release()
	}
	s.logger.Info("queue stopped")
}

// EnqueueCalculation schedules a calculation for the pair. Concurrent
// submissions for the same pair coalesce into the already queued or running
// job, whose id is returned.
func (s *QueueService) EnqueueCalculation(ctx context.Context, leagueID, seasonID int64, opts EnqueueOptions) (string, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.QueueService.EnqueueCalculation")
	defer span.End()

	if leagueID <= 0 || seasonID <= 0 {
		return "", fmt.Errorf("%w: league and season ids must be positive", ErrInvalidInput)
	}

	trigger := job.NormalizeTrigger(opts.Trigger, job.TriggerManual)
	if trigger == job.TriggerGameResult && !s.cfg.AutomaticCalculation {
		return "", fmt.Errorf("%w: automatic calculation is off, trigger the job manually", ErrFeatureDisabled)
	}

	priority := s.priorityFor(opts.Priority, trigger)
	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("table calculation league=%d season=%d", leagueID, seasonID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{leagueID, seasonID}
	if existingID, held := s.activeLocks[key]; held {
		// Coalesce: the earliest job keeps its priority.
		return existingID, nil
	}

	if s.pendingCountLocked() >= s.cfg.MaxPendingJobs {
		return "", apperrors.New(apperrors.TypeQueueFull, "",
			fmt.Sprintf("queue is full: %d pending jobs", s.cfg.MaxPendingJobs))
	}

	suffix, err := s.ids.NewToken(8)
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	id := "job_" + suffix

	item := &job.Job{
		ID:          id,
		LeagueID:    leagueID,
		SeasonID:    seasonID,
		Priority:    priority,
		Trigger:     trigger,
		Status:      job.StatusPending,
		CreatedAt:   s.now().UTC(),
		Description: description,
	}
	s.jobs[id] = item
	s.pending[priority] = append(s.pending[priority], id)
	s.activeLocks[key] = id

	s.logger.InfoContext(ctx, "job enqueued",
		"job_id", id, "league_id", leagueID, "season_id", seasonID,
		"priority", priority, "trigger", trigger,
	)
	s.signal()
	return id, nil
}

func (s *QueueService) priorityFor(raw string, trigger job.Trigger) job.Priority {
	fallback := s.cfg.DefaultPriority
	if byTrigger, ok := s.cfg.PriorityByTrigger[trigger]; ok && byTrigger != "" {
		fallback = byTrigger
	}
	return job.NormalizePriority(raw, fallback)
}

// pendingCountLocked bounds new-enqueue admission. Jobs waiting on a retry
// timer were already admitted and hold their pair lock, so they do not count
// against the cap.
func (s *QueueService) pendingCountLocked() int {
	total := 0
	for _, ids := range s.pending {
		total += len(ids)
	}
	return total
}

func (s *QueueService) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop hands pending jobs to the worker pool, draining HIGH before
// NORMAL before LOW. It never preempts an in-flight job.
func (s *QueueService) dispatchLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		}
		s.dispatchReady()
	}
}

func (s *QueueService) dispatchReady() {
	for {
		s.mu.Lock()
		if !s.running || s.paused || s.clearing || s.inflight >= s.cfg.Concurrency {
			s.mu.Unlock()
			return
		}

		item := s.popNextLocked()
		if item == nil {
			s.mu.Unlock()
			return
		}

		startedAt := s.now().UTC()
		item.Status = job.StatusProcessing
		item.StartedAt = &startedAt
		s.inflight++
		s.inflightWG.Add(1)
		id := item.ID
		s.mu.Unlock()

		if err := s.pool.Submit(func() { s.runJob(id) }); err != nil {
			s.mu.Lock()
			s.inflight--
			s.inflightWG.Done()
			if current, ok := s.jobs[id]; ok {
				current.Status = job.StatusPending
				current.StartedAt = nil
				s.pending[current.Priority] = append([]string{id}, s.pending[current.Priority]...)
			}
			s.mu.Unlock()
			s.logger.Error("submit job to worker pool failed", "job_id", id, "error", err)
			return
		}
	}
}

func (s *QueueService) popNextLocked() *job.Job {
	for _, priority := range []job.Priority{job.PriorityHigh, job.PriorityNormal, job.PriorityLow} {
		queue := s.pending[priority]
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if item, ok := s.jobs[id]; ok && item.Status == job.StatusPending {
				s.pending[priority] = queue
				return item
			}
		}
		s.pending[priority] = queue
	}
	return nil
}

// runJob executes one calculation attempt inside a worker.
func (s *QueueService) runJob(id string) {
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
		s.inflightWG.Done()
		s.signal()
	}()

	s.mu.Lock()
	item, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	leagueID, seasonID := item.LeagueID, item.SeasonID
	retryCount := item.RetryCount
	startedAt := time.Time{}
	if item.StartedAt != nil {
		startedAt = *item.StartedAt
	}
	s.mu.Unlock()

	ctx := context.Background()
	jobCtx := JobContext{
		JobID:      id,
		LeagueID:   leagueID,
		SeasonID:   seasonID,
		Operation:  OperationTableCalculation,
		RetryCount: retryCount,
		MaxRetries: s.cfg.MaxRetries,
	}

	if err := s.handler.Allow(OperationTableCalculation); err != nil {
		s.finishWithError(ctx, id, jobCtx, startedAt, false, err)
		return
	}

	if s.cfg.SnapshotBeforeCalculation && s.snapshots != nil {
		if _, err := s.snapshots.Create(ctx, leagueID, seasonID, fmt.Sprintf("pre-calculation for %s", id)); err != nil {
			s.finishWithError(ctx, id, jobCtx, startedAt, false, err)
			return
		}
	}

	timedOut, runErr := s.runCalculation(ctx, leagueID, seasonID)
	if runErr != nil {
		s.finishWithError(ctx, id, jobCtx, startedAt, timedOut, runErr)
		return
	}

	s.handler.RecordSuccess(OperationTableCalculation)
	s.completeJob(ctx, id, startedAt)
}

// runCalculation bounds the attempt by the job timeout. A timeout marks the
// job for accounting only; the in-flight transaction concludes by its own
// error path.
func (s *QueueService) runCalculation(ctx context.Context, leagueID, seasonID int64) (bool, error) {
	done := make(chan error, 1)
	go func() {
		_, err := s.calc.Recalculate(ctx, leagueID, seasonID)
		done <- err
	}()

	if s.cfg.JobTimeout <= 0 {
		return false, <-done
	}

	timer := time.NewTimer(s.cfg.JobTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return false, err
	case <-timer.C:
		return true, apperrors.New(apperrors.TypeJobTimeout, apperrors.CodeJobTimeout,
			fmt.Sprintf("job exceeded its %s budget", s.cfg.JobTimeout))
	}
}

func (s *QueueService) completeJob(ctx context.Context, id string, startedAt time.Time) {
	now := s.now().UTC()
	duration := int64(0)
	if !startedAt.IsZero() {
		duration = now.Sub(startedAt).Milliseconds()
	}

	s.mu.Lock()
	item, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	item.Status = job.StatusCompleted
	item.CompletedAt = &now
	delete(s.activeLocks, pairKey{item.LeagueID, item.SeasonID})

	s.completed = append(s.completed, id)
	s.totalProcessed++
	s.succeededCount++
	s.totalDurationMs += duration
	s.lastProcessedAt = now
	s.trimCompletedLocked()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "job completed", "job_id", id, "duration_ms", duration)
}

func (s *QueueService) finishWithError(ctx context.Context, id string, jobCtx JobContext, startedAt time.Time, timedOut bool, runErr error) {
	decision := s.handler.Handle(ctx, runErr, jobCtx)

	now := s.now().UTC()
	duration := int64(0)
	if !startedAt.IsZero() {
		duration = now.Sub(startedAt).Milliseconds()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.jobs[id]
	if !ok {
		return
	}

	item.RecordError(decision.Classified)
	if timedOut {
		item.TimeoutCount++
		s.timeoutEvents++
	}

	if decision.Action == ActionRetryWithBackoff && s.running {
		item.RetryCount++
		item.Status = job.StatusPending
		item.StartedAt = nil
		s.retryEvents++

		delay := s.backoffDelay(item.RetryCount)
		priority := item.Priority
		timer := time.AfterFunc(delay, func() { s.requeueRetry(id, priority) })
		s.retryTimers[id] = timer

		s.logger.WarnContext(ctx, "job scheduled for retry",
			"job_id", id, "retry_count", item.RetryCount, "delay_ms", delay.Milliseconds(),
			"error_type", decision.Classified.Type,
		)
		return
	}

	item.Status = job.StatusFailed
	item.CompletedAt = &now
	delete(s.activeLocks, pairKey{item.LeagueID, item.SeasonID})

	s.deadLetter = append(s.deadLetter, *item)
	if len(s.deadLetter) > s.cfg.MaxFailedJobs {
		s.deadLetter = s.deadLetter[len(s.deadLetter)-s.cfg.MaxFailedJobs:]
	}
	s.failed = append(s.failed, id)
	for len(s.failed) > s.cfg.MaxFailedJobs {
		oldest := s.failed[0]
		s.failed = s.failed[1:]
		delete(s.jobs, oldest)
	}

	s.totalProcessed++
	s.failedCount++
	s.totalDurationMs += duration
	s.lastProcessedAt = now

	s.logger.ErrorContext(ctx, "job moved to dead letter",
		"job_id", id, "action", decision.Action, "reason", decision.Reason,
		"error_type", decision.Classified.Type, "retry_count", item.RetryCount,
	)
}

func (s *QueueService) requeueRetry(id string, priority job.Priority) {
	s.mu.Lock()
	delete(s.retryTimers, id)
	if item, ok := s.jobs[id]; ok && item.Status == job.StatusPending && s.running {
		s.pending[priority] = append(s.pending[priority], id)
	}
	s.mu.Unlock()
	s.signal()
}

// backoffDelay implements exponential backoff with ±10% jitter:
// min(base·2^(n−1), max).
func (s *QueueService) backoffDelay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	delay := s.cfg.RetryDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMaxDelay {
			delay = s.cfg.BackoffMaxDelay
			break
		}
	}
	if delay > s.cfg.BackoffMaxDelay {
		delay = s.cfg.BackoffMaxDelay
	}

	factor := 0.9 + 0.2*s.jitter()
	return time.Duration(float64(delay) * factor)
}

func (s *QueueService) trimCompletedLocked() {
	for len(s.completed) > s.cfg.MaxCompletedJobs {
		oldest := s.completed[0]
		s.completed = s.completed[1:]
		delete(s.jobs, oldest)
	}
}

// Pause stops new dispatches; in-flight jobs run to completion.
func (s *QueueService) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("queue paused")
}

func (s *QueueService) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.logger.Info("queue resumed")
	s.signal()
}

// Clear waits for in-flight jobs to finish, then discards every pending job
// and releases its lock. Retry timers are cancelled.
func (s *QueueService) Clear() int {
	s.mu.Lock()
	s.clearing = true
	s.mu.Unlock()

	s.inflightWG.Wait()

	s.mu.Lock()
	discarded := 0
	for priority, ids := range s.pending {
		for _, id := range ids {
			discarded += s.discardPendingLocked(id)
		}
		s.pending[priority] = nil
	}
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
		discarded += s.discardPendingLocked(id)
	}
	s.clearing = false
	s.mu.Unlock()

	s.logger.Info("queue cleared", "discarded", discarded)
	s.signal()
	return discarded
}

func (s *QueueService) discardPendingLocked(id string) int {
	item, ok := s.jobs[id]
	if !ok || item.Status != job.StatusPending {
		return 0
	}
	delete(s.jobs, id)
	if lockedBy, held := s.activeLocks[pairKey{item.LeagueID, item.SeasonID}]; held && lockedBy == id {
		delete(s.activeLocks, pairKey{item.LeagueID, item.SeasonID})
	}
	return 1
}

// ClearLowPriority discards pending LOW jobs only, used by the overload
// fallback.
func (s *QueueService) ClearLowPriority() int {
	s.mu.Lock()
	discarded := 0
	for _, id := range s.pending[job.PriorityLow] {
		discarded += s.discardPendingLocked(id)
	}
	s.pending[job.PriorityLow] = nil
	s.mu.Unlock()
	return discarded
}

func (s *QueueService) GetJob(_ context.Context, id string) (job.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.jobs[id]; ok {
		return cloneJob(*item), true
	}
	for _, item := range s.deadLetter {
		if item.ID == id {
			return cloneJob(item), true
		}
	}
	return job.Job{}, false
}

// GetHistory returns terminal jobs of a league, newest first.
func (s *QueueService) GetHistory(_ context.Context, leagueID int64, limit int) []job.Job {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	out := make([]job.Job, 0, limit)
	for _, item := range s.jobs {
		if item.LeagueID == leagueID && item.IsTerminal() {
			out = append(out, cloneJob(*item))
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		left, right := out[i].CompletedAt, out[j].CompletedAt
		if left == nil || right == nil {
			return right == nil
		}
		return left.After(*right)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *QueueService) GetDeadLetter(_ context.Context) []job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]job.Job, 0, len(s.deadLetter))
	for _, item := range s.deadLetter {
		out = append(out, cloneJob(item))
	}
	return out
}

// ReprocessDeadLetter re-enqueues one dead-letter job as a fresh manual job
// and drops it from the dead-letter list.
func (s *QueueService) ReprocessDeadLetter(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	idx := -1
	var failed job.Job
	for i, item := range s.deadLetter {
		if item.ID == id {
			idx = i
			failed = item
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: dead letter job=%s", ErrNotFound, id)
	}
	s.deadLetter = append(s.deadLetter[:idx], s.deadLetter[idx+1:]...)
	s.mu.Unlock()

	return s.EnqueueCalculation(ctx, failed.LeagueID, failed.SeasonID, EnqueueOptions{
		Priority:    string(failed.Priority),
		Trigger:     string(job.TriggerManual),
		Description: fmt.Sprintf("reprocess of %s", id),
	})
}

// RetryFailedJob re-enqueues a failed job by id, whether or not it is still in
// the dead-letter list.
func (s *QueueService) RetryFailedJob(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	item, ok := s.jobs[id]
	if !ok || item.Status != job.StatusFailed {
		found := false
		for i, dead := range s.deadLetter {
			if dead.ID == id {
				item = &job.Job{}
				*item = dead
				s.deadLetter = append(s.deadLetter[:i], s.deadLetter[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: failed job=%s", ErrNotFound, id)
		}
	}
	leagueID, seasonID, priority := item.LeagueID, item.SeasonID, item.Priority
	s.mu.Unlock()

	return s.EnqueueCalculation(ctx, leagueID, seasonID, EnqueueOptions{
		Priority:    string(priority),
		Trigger:     string(job.TriggerManual),
		Description: fmt.Sprintf("retry of %s", id),
	})
}

func (s *QueueService) ClearDeadLetter(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.deadLetter)
	s.deadLetter = nil
	return removed
}

func (s *QueueService) GetStatus(_ context.Context) QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := QueueStatus{
		Running: s.running,
		Paused:  s.paused,
	}
	for _, item := range s.jobs {
		status.TotalJobs++
		switch item.Status {
		case job.StatusPending:
			status.PendingJobs++
		case job.StatusProcessing:
			status.ProcessingJobs++
		case job.StatusCompleted:
			status.CompletedJobs++
		case job.StatusFailed:
			status.FailedJobs++
		}
	}
	if terminal := s.succeededCount + s.failedCount; terminal > 0 {
		status.AverageProcessingTimeMs = s.totalDurationMs / terminal
	}
	if !s.lastProcessedAt.IsZero() {
		lastProcessedAt := s.lastProcessedAt
		status.LastProcessedAt = &lastProcessedAt
	}
	return status
}

func (s *QueueService) GetMetrics(_ context.Context) QueueMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics := QueueMetrics{
		TotalProcessed:  s.totalProcessed,
		DeadLetterCount: len(s.deadLetter),
	}
	if s.totalProcessed > 0 {
		metrics.SuccessRate = float64(s.succeededCount) / float64(s.totalProcessed) * 100
		metrics.ErrorRate = float64(s.failedCount) / float64(s.totalProcessed) * 100
		metrics.RetryRate = float64(s.retryEvents) / float64(s.totalProcessed) * 100
		metrics.TimeoutRate = float64(s.timeoutEvents) / float64(s.totalProcessed) * 100
	}
	if terminal := s.succeededCount + s.failedCount; terminal > 0 {
		metrics.AverageProcessingTimeMs = s.totalDurationMs / terminal
	}
	return metrics
}

func cloneJob(item job.Job) job.Job {
	if len(item.ErrorHistory) > 0 {
		history := make([]apperrors.ClassifiedError, len(item.ErrorHistory))
		copy(history, item.ErrorHistory)
		item.ErrorHistory = history
	}
	return item
}
