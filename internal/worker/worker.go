// Package worker runs background jobs from redis list queues.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"todo-tracker/internal/config"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobType string

const (
	JobTypeAttachmentCleanup JobType = "attachment_cleanup"
)

const (
	DefaultQueue = "default"
	RetryQueue   = "retry_queue"
	DeadQueue    = "dead_queue"
)

var ErrNoHandler = errors.New("no handler registered for job type")

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	MaxTries  int             `json:"max_tries"`
	CreatedAt time.Time       `json:"created_at"`
	ProcessAt time.Time       `json:"process_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

type JobHandler func(ctx context.Context, job *Job) error

type Worker struct {
	client       *redis.Client
	handlers     map[JobType]JobHandler
	queues       []string
	pollInterval time.Duration
	retryBackoff time.Duration
	jobTimeout   time.Duration
	logger       *log.Logger
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

type WorkerConfig struct {
	RedisClient  *redis.Client
	Concurrency  int
	PollInterval time.Duration
	Queues       []string
	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	RetryBackoff time.Duration
	JobTimeout   time.Duration
	Logger       *log.Logger
}

func WorkerConfigFromConfig(client *redis.Client, cfg config.WorkerConfig, logger *log.Logger) WorkerConfig {
	return WorkerConfig{
		RedisClient:  client,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Queues:       cfg.Queues,
		Logger:       logger,
	}
}

func NewWorker(config WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	queues := config.Queues
	if len(queues) == 0 {
		queues = []string{DefaultQueue, RetryQueue}
	}
	pollInterval := config.PollInterval
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	retryBackoff := config.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = time.Minute
	}
	jobTimeout := config.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Worker{
		client:       config.RedisClient,
		handlers:     make(map[JobType]JobHandler),
		queues:       queues,
		pollInterval: pollInterval,
		retryBackoff: retryBackoff,
		jobTimeout:   jobTimeout,
		logger:       logger.WithPrefix("worker"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) Start(concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.logger.Info("starting worker", "goroutines", concurrency, "queues", w.queues)

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop()
	}
}

func (w *Worker) Stop() {
	w.logger.Info("stopping worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) workerLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if err := w.processNextJob(); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Error("error processing job", "err", err)
			w.sleep(time.Second)
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) processNextJob() error {
	result, err := w.client.BLPop(w.ctx, w.pollInterval, w.queues...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	queue := result[0]
	jobData := result[1]

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if time.Now().Before(job.ProcessAt) {
		if err := w.enqueueJob(queue, &job); err != nil {
			return err
		}
		// Only delayed jobs left; avoid spinning on them.
		w.sleep(w.pollInterval / 4)
		return nil
	}

	return w.executeJob(&job)
}

func (w *Worker) executeJob(job *Job) error {
	w.mu.RLock()
	handler, exists := w.handlers[job.Type]
	w.mu.RUnlock()

	if !exists {
		return w.moveToDeadQueue(job, fmt.Errorf("%w: %s", ErrNoHandler, job.Type))
	}

	w.logger.Debug("processing job", "id", job.ID, "type", job.Type, "attempt", job.Attempts+1)

	ctx, cancel := context.WithTimeout(w.ctx, w.jobTimeout)
	defer cancel()

	err := handler(ctx, job)
	if err != nil {
		job.Attempts++
		if job.Attempts < job.MaxTries {
			w.logger.Warn("job failed, retrying",
				"id", job.ID, "attempt", job.Attempts, "max_tries", job.MaxTries, "err", err)
			return w.retryJob(job)
		}

		w.logger.Error("job failed permanently", "id", job.ID, "attempts", job.Attempts, "err", err)
		return w.moveToDeadQueue(job, err)
	}

	w.logger.Debug("job completed", "id", job.ID, "type", job.Type)
	return nil
}

func (w *Worker) retryJob(job *Job) error {
	delay := w.retryBackoff * time.Duration(1<<(job.Attempts-1))
	job.ProcessAt = time.Now().Add(delay)

	return w.enqueueJob(RetryQueue, job)
}

func (w *Worker) enqueueJob(queue string, job *Job) error {
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Requeueing must survive shutdown, or the job is lost.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 5*time.Second)
	defer cancel()
	return w.client.RPush(ctx, queue, jobData).Err()
}

type deadJob struct {
	OriginalJob *Job      `json:"original_job"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

func (w *Worker) moveToDeadQueue(job *Job, jobErr error) error {
	deadJobData, err := json.Marshal(deadJob{OriginalJob: job, Error: jobErr.Error(), FailedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal dead job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 5*time.Second)
	defer cancel()
	return w.client.RPush(ctx, DeadQueue, deadJobData).Err()
}

type JobQueue struct {
	client   *redis.Client
	maxTries int
}

func NewJobQueue(client *redis.Client, maxTries int) *JobQueue {
	if maxTries <= 0 {
		maxTries = 3
	}
	return &JobQueue{client: client, maxTries: maxTries}
}

func (q *JobQueue) Enqueue(ctx context.Context, queue string, jobType JobType, payload interface{}) (*Job, error) {
	return q.EnqueueAt(ctx, queue, jobType, payload, time.Now())
}

func (q *JobQueue) EnqueueAt(ctx context.Context, queue string, jobType JobType, payload interface{}, processAt time.Time) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:        id.String(),
		Type:      jobType,
		Payload:   raw,
		Attempts:  0,
		MaxTries:  q.maxTries,
		CreatedAt: time.Now(),
		ProcessAt: processAt,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.client.RPush(ctx, queue, jobData).Err(); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *JobQueue) GetQueueSize(ctx context.Context, queue string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return q.client.LLen(ctx, queue).Result()
}
