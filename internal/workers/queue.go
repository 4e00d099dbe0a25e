package workers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/metrics"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/services"
	"github.com/yoockh/intervue/internal/utils"
)

const (
	DefaultStream = "evaluation:stream"
	DefaultGroup  = "evaluation-workers"

	evaluationTimeout = 2 * time.Minute
)

// Queue accepts evaluation jobs. Enqueue does not wait for the evaluation.
type Queue interface {
	Enqueue(ctx context.Context, job models.EvaluationJob) error
}

// RedisQueue appends jobs to a Redis stream consumed by EvaluationWorkerPool.
type RedisQueue struct {
	Redis  *redis.Client
	Stream string
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.EvaluationJob) error {
	const op = "RedisQueue.Enqueue"

	if q.Redis == nil {
		return utils.E(utils.CodeUnavailable, op, "queue not configured", nil)
	}
	stream := q.Stream
	if stream == "" {
		stream = DefaultStream
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	err := q.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"job_id":      job.ID,
			"session_id":  job.SessionID,
			"question_id": job.QuestionID,
			"created_at":  job.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to enqueue evaluation", err)
	}
	return nil
}

// InlineQueue runs evaluations on background goroutines of this process. At
// most Limit run at once; the rest wait their turn.
type InlineQueue struct {
	evaluator services.EvaluationService
	log       *logrus.Logger
	metrics   *metrics.Metrics

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewInlineQueue(evaluator services.EvaluationService, limit int, log *logrus.Logger, m *metrics.Metrics) *InlineQueue {
	if limit <= 0 {
		limit = 3
	}
	return &InlineQueue{
		evaluator: evaluator,
		log:       logger.OrDefault(log),
		metrics:   m,
		sem:       make(chan struct{}, limit),
	}
}

func (q *InlineQueue) Enqueue(_ context.Context, job models.EvaluationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.sem <- struct{}{}
		defer func() { <-q.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
		defer cancel()
		process(ctx, q.evaluator, job, q.log, q.metrics)
	}()
	return nil
}

// Wait blocks until every enqueued job has finished.
func (q *InlineQueue) Wait() { q.wg.Wait() }
