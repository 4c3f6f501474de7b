package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"otodom-stats/config"
	"otodom-stats/models"
	"otodom-stats/storage"
	"otodom-stats/utils"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrNotInProgress  = errors.New("task is not in progress")
	ErrInvalidTarget  = errors.New("invalid target descriptor")
	ErrNothingToQueue = errors.New("batch has no districts or room types")
)

// InterruptedError is recorded on tasks found orphaned at startup.
const InterruptedError = "interrupted"

// Options tune retry bookkeeping.
type Options struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	RetryOffset  int
	HistoryLimit int
}

// Queue is the durable scrape task queue. At most one task is IN_PROGRESS
// at any time. Every mutating call persists the collections it touched
// before returning.
type Queue struct {
	mu         sync.Mutex
	store      storage.TaskStore
	opts       Options
	logger     *utils.Logger
	now        func() time.Time
	pending    []models.ScrapeTask
	inProgress *models.ScrapeTask
	history    []models.ScrapeTask
	seq        int64
	// completed and failed count every terminal transition, including
	// tasks already trimmed from history.
	completed int
	failed    int
}

// New creates a queue over store. Call Recover before serving.
func New(store storage.TaskStore, opts Options, logger *utils.Logger) *Queue {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Queue{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Recover loads persisted state. An IN_PROGRESS task left behind by a
// crashed process is converted to RETRY and put back at the front of the
// queue, or FAILED when its retry budget is spent. It returns the number of
// orphaned tasks handled (0 or 1).
func (q *Queue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.store.LoadQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: load pending: %w", err)
	}
	inProgress, err := q.store.LoadInProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: load in-progress: %w", err)
	}
	history, err := q.store.LoadHistory(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: load history: %w", err)
	}

	sortTasks(pending)
	q.pending = pending
	q.history = history
	q.inProgress = nil
	q.completed, q.failed = 0, 0
	for _, t := range history {
		switch t.Status {
		case models.StatusCompleted:
			q.completed++
		case models.StatusFailed:
			q.failed++
		}
	}

	for _, t := range append(append([]models.ScrapeTask{}, pending...), history...) {
		if t.Seq > q.seq {
			q.seq = t.Seq
		}
	}

	q.logger.Info("[queue] Loaded %d pending, %d history tasks", len(pending), len(history))

	if inProgress == nil {
		return 0, nil
	}

	orphan := *inProgress
	if orphan.Seq > q.seq {
		q.seq = orphan.Seq
	}
	for i, t := range q.pending {
		if t.ID == orphan.ID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}

	// A crash between the history save and the slot clear leaves a finished
	// task in both places. History wins.
	for _, t := range q.history {
		if t.ID == orphan.ID && t.Status.IsTerminal() {
			q.logger.Warn("[queue] Task %s (%s) already %s, clearing stale in-progress slot",
				orphan.ID, orphan.Target.Key(), t.Status)
			if err := q.persistQueue(ctx); err != nil {
				return 0, err
			}
			if err := q.persistInProgress(ctx); err != nil {
				return 0, err
			}
			return 0, nil
		}
	}

	now := q.now()
	orphan.RetryCount++
	orphan.LastError = InterruptedError
	orphan.LastErrorKind = models.FailSessionClosed
	orphan.UpdatedAt = now

	if orphan.RetryCount >= q.opts.MaxRetries {
		q.finish(&orphan, models.StatusFailed, now)
		q.logger.Warn("[queue] Orphaned task %s (%s) exhausted retries, marked FAILED",
			orphan.ID, orphan.Target.Key())
		if err := q.persistHistory(ctx); err != nil {
			return 1, err
		}
	} else {
		orphan.Status = models.StatusRetry
		orphan.NotBefore = now
		q.insertAt(orphan, 0)
		q.logger.Warn("[queue] Orphaned task %s (%s) re-queued as RETRY (retry %d/%d)",
			orphan.ID, orphan.Target.Key(), orphan.RetryCount, q.opts.MaxRetries)
		if err := q.persistQueue(ctx); err != nil {
			return 1, err
		}
	}

	if err := q.persistInProgress(ctx); err != nil {
		return 1, err
	}
	return 1, nil
}

// Enqueue creates and persists a PENDING task. It does not deduplicate by
// target; callers needing replace semantics must query first.
func (q *Queue) Enqueue(ctx context.Context, target models.TargetDescriptor, priority int) (models.ScrapeTask, error) {
	if err := validateTarget(target); err != nil {
		return models.ScrapeTask{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	task := q.newTask(target, priority)
	q.insertSorted(task)
	if err := q.persistQueue(ctx); err != nil {
		return models.ScrapeTask{}, err
	}

	q.logger.Debug("[queue] Enqueued %s (%s) priority %d", task.ID, target.Key(), priority)
	return task, nil
}

// EnqueueBatch enqueues the cartesian product districts × roomTypes for a
// city. Priorities increase strictly in iteration order starting at 0, so
// earlier districts and room types are drained first.
func (q *Queue) EnqueueBatch(ctx context.Context, city string, districts []config.District, roomTypes []models.RoomType, fetchDate time.Time) ([]models.ScrapeTask, error) {
	if len(districts) == 0 || len(roomTypes) == 0 {
		return nil, ErrNothingToQueue
	}

	targets := make([]models.TargetDescriptor, 0, len(districts)*len(roomTypes))
	for _, d := range districts {
		for _, rt := range roomTypes {
			target := models.TargetDescriptor{
				City:         city,
				District:     d.Name,
				DistrictSlug: d.Slug,
				RoomType:     rt,
				FetchDate:    fetchDate,
			}
			if err := validateTarget(target); err != nil {
				return nil, err
			}
			targets = append(targets, target)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make([]models.ScrapeTask, 0, len(targets))
	for i, target := range targets {
		task := q.newTask(target, i)
		q.insertSorted(task)
		tasks = append(tasks, task)
	}
	if err := q.persistQueue(ctx); err != nil {
		return nil, err
	}

	q.logger.Info("[queue] Enqueued batch of %d tasks for %s", len(tasks), city)
	return tasks, nil
}

// DequeueNext marks the first eligible task IN_PROGRESS and returns it. It
// returns nil when a task is already in progress or nothing is eligible.
func (q *Queue) DequeueNext(ctx context.Context) (*models.ScrapeTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inProgress != nil {
		return nil, nil
	}

	now := q.now()
	idx := -1
	for i, t := range q.pending {
		if t.NotBefore.IsZero() || !t.NotBefore.After(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	task := q.pending[idx]
	if !models.CanTransition(task.Status, models.StatusInProgress) {
		return nil, fmt.Errorf("queue: task %s in state %s cannot start", task.ID, task.Status)
	}
	task.Status = models.StatusInProgress
	task.StartedAt = &now
	task.UpdatedAt = now

	// Slot before queue: Recover drops a queued copy of the orphan.
	q.inProgress = &task
	if err := q.persistInProgress(ctx); err != nil {
		q.inProgress = nil
		return nil, err
	}
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	if err := q.persistQueue(ctx); err != nil {
		return nil, err
	}

	out := task
	return &out, nil
}

// Complete records a successful task and moves it to history.
func (q *Queue) Complete(ctx context.Context, id string, result *models.AggregateResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.takeInProgress(id)
	if err != nil {
		return err
	}
	task.Result = result
	q.finish(task, models.StatusCompleted, q.now())

	if err := q.persistHistory(ctx); err != nil {
		return err
	}
	if err := q.persistInProgress(ctx); err != nil {
		return err
	}
	q.logger.Info("[queue] Task %s (%s) COMPLETED", task.ID, task.Target.Key())
	return nil
}

// Fail records a fatal failure. result may carry partial diagnostics.
func (q *Queue) Fail(ctx context.Context, id string, cause error, kind models.FailureKind, result *models.AggregateResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.takeInProgress(id)
	if err != nil {
		return err
	}
	setError(task, cause, kind)
	task.Result = result
	q.finish(task, models.StatusFailed, q.now())

	if err := q.persistHistory(ctx); err != nil {
		return err
	}
	if err := q.persistInProgress(ctx); err != nil {
		return err
	}
	q.logger.Warn("[queue] Task %s (%s) FAILED: %s", task.ID, task.Target.Key(), task.LastError)
	return nil
}

// Retry sends a failed task back to the queue with backoff, or fails it
// permanently once the retry budget is used up. result is attached only in
// the latter case. It reports the resulting status.
func (q *Queue) Retry(ctx context.Context, id string, cause error, kind models.FailureKind, result *models.AggregateResult) (models.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.takeInProgress(id)
	if err != nil {
		return "", err
	}

	now := q.now()
	setError(task, cause, kind)
	task.RetryCount++
	task.UpdatedAt = now

	if task.RetryCount >= q.opts.MaxRetries {
		task.Result = result
		q.finish(task, models.StatusFailed, now)
		if err := q.persistHistory(ctx); err != nil {
			return "", err
		}
		if err := q.persistInProgress(ctx); err != nil {
			return "", err
		}
		q.logger.Warn("[queue] Task %s (%s) FAILED after %d retries: %s",
			task.ID, task.Target.Key(), task.RetryCount, task.LastError)
		return models.StatusFailed, nil
	}

	delay := utils.Backoff(q.opts.BaseDelay, q.opts.MaxDelay, task.RetryCount)
	task.Status = models.StatusRetry
	task.StartedAt = nil
	task.NotBefore = now.Add(delay)
	q.insertAt(*task, q.opts.RetryOffset)

	if err := q.persistQueue(ctx); err != nil {
		return "", err
	}
	if err := q.persistInProgress(ctx); err != nil {
		return "", err
	}
	q.logger.Info("[queue] Task %s (%s) RETRY %d/%d in %v: %s",
		task.ID, task.Target.Key(), task.RetryCount, q.opts.MaxRetries, delay, task.LastError)
	return models.StatusRetry, nil
}

// Status returns counts for polling consumers. Completed and Failed cover
// every task finished since startup plus whatever history was persisted, so
// they can exceed the retained history.
func (q *Queue) Status(ctx context.Context) models.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := models.QueueStatus{Pending: len(q.pending), Timestamp: q.now()}
	if q.inProgress != nil {
		st.InProgress = 1
	}
	st.Completed = q.completed
	st.Failed = q.failed
	st.TotalCount = st.Pending + st.InProgress + st.Completed + st.Failed
	return st
}

// Pending returns a copy of the queued tasks in dequeue order.
func (q *Queue) Pending() []models.ScrapeTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.ScrapeTask(nil), q.pending...)
}

// History returns a copy of finished tasks, oldest first.
func (q *Queue) History() []models.ScrapeTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.ScrapeTask(nil), q.history...)
}

// InProgress returns a copy of the running task, if any.
func (q *Queue) InProgress() *models.ScrapeTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inProgress == nil {
		return nil
	}
	t := *q.inProgress
	return &t
}

// Get finds a task by id in any collection.
func (q *Queue) Get(id string) (models.ScrapeTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inProgress != nil && q.inProgress.ID == id {
		return *q.inProgress, nil
	}
	for _, t := range q.pending {
		if t.ID == id {
			return t, nil
		}
	}
	for _, t := range q.history {
		if t.ID == id {
			return t, nil
		}
	}
	return models.ScrapeTask{}, ErrTaskNotFound
}

func (q *Queue) newTask(target models.TargetDescriptor, priority int) models.ScrapeTask {
	now := q.now()
	q.seq++
	return models.ScrapeTask{
		ID:        uuid.NewString(),
		Target:    target,
		Priority:  priority,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Seq:       q.seq,
	}
}

func (q *Queue) takeInProgress(id string) (*models.ScrapeTask, error) {
	if q.inProgress == nil || q.inProgress.ID != id {
		if _, err := q.getLocked(id); err != nil {
			return nil, fmt.Errorf("queue: %s: %w", id, err)
		}
		return nil, fmt.Errorf("queue: %s: %w", id, ErrNotInProgress)
	}
	task := q.inProgress
	q.inProgress = nil
	return task, nil
}

func (q *Queue) getLocked(id string) (models.ScrapeTask, error) {
	for _, t := range q.pending {
		if t.ID == id {
			return t, nil
		}
	}
	for _, t := range q.history {
		if t.ID == id {
			return t, nil
		}
	}
	return models.ScrapeTask{}, ErrTaskNotFound
}

func (q *Queue) finish(task *models.ScrapeTask, status models.TaskStatus, now time.Time) {
	task.Status = status
	task.UpdatedAt = now
	task.CompletedAt = &now
	task.NotBefore = time.Time{}
	switch status {
	case models.StatusCompleted:
		q.completed++
	case models.StatusFailed:
		q.failed++
	}
	q.history = append(q.history, *task)
	if q.opts.HistoryLimit > 0 && len(q.history) > q.opts.HistoryLimit {
		q.history = append([]models.ScrapeTask(nil), q.history[len(q.history)-q.opts.HistoryLimit:]...)
	}
}

// insertSorted keeps pending ordered by (priority, seq).
func (q *Queue) insertSorted(task models.ScrapeTask) {
	i := sort.Search(len(q.pending), func(i int) bool {
		return less(task, q.pending[i])
	})
	q.pending = append(q.pending, models.ScrapeTask{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = task
}

// insertAt places task at position idx (clamped) and adopts the priority of
// its new neighbourhood so the (priority, seq) order still holds.
func (q *Queue) insertAt(task models.ScrapeTask, idx int) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(q.pending) {
		idx = len(q.pending)
	}

	switch {
	case idx < len(q.pending):
		task.Priority = q.pending[idx].Priority
		task.Seq = q.pending[idx].Seq
	case len(q.pending) > 0:
		task.Priority = q.pending[len(q.pending)-1].Priority
		q.seq++
		task.Seq = q.seq
	default:
		q.seq++
		task.Seq = q.seq
	}

	q.pending = append(q.pending, models.ScrapeTask{})
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = task

	// Shift the seqs of equal-priority followers so the slice stays sorted.
	for i := idx + 1; i < len(q.pending); i++ {
		prev := q.pending[i-1]
		if q.pending[i].Priority != prev.Priority || q.pending[i].Seq > prev.Seq {
			break
		}
		q.pending[i].Seq = prev.Seq + 1
		if q.pending[i].Seq > q.seq {
			q.seq = q.pending[i].Seq
		}
	}
}

func less(a, b models.ScrapeTask) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Seq < b.Seq
}

func sortTasks(tasks []models.ScrapeTask) {
	sort.SliceStable(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
}

func setError(task *models.ScrapeTask, cause error, kind models.FailureKind) {
	if cause != nil {
		task.LastError = cause.Error()
	}
	task.LastErrorKind = kind
}

func validateTarget(t models.TargetDescriptor) error {
	if t.City == "" || t.District == "" || t.DistrictSlug == "" {
		return fmt.Errorf("%w: city, district and slug are required", ErrInvalidTarget)
	}
	if _, err := models.ParseRoomType(string(t.RoomType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if t.FetchDate.IsZero() {
		return fmt.Errorf("%w: fetch date is required", ErrInvalidTarget)
	}
	return nil
}

func (q *Queue) persistQueue(ctx context.Context) error {
	if err := q.store.SaveQueue(ctx, q.pending); err != nil {
		return fmt.Errorf("queue: persist pending: %w", err)
	}
	return nil
}

func (q *Queue) persistInProgress(ctx context.Context) error {
	if err := q.store.SaveInProgress(ctx, q.inProgress); err != nil {
		return fmt.Errorf("queue: persist in-progress: %w", err)
	}
	return nil
}

func (q *Queue) persistHistory(ctx context.Context) error {
	if err := q.store.SaveHistory(ctx, q.history); err != nil {
		return fmt.Errorf("queue: persist history: %w", err)
	}
	return nil
}
