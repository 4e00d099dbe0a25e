package workers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/metrics"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/services"
)

type EvaluationWorkerPool struct {
	Redis      *redis.Client
	Evaluator  services.EvaluationService
	NumWorkers int

	Logger  *logrus.Logger
	Metrics *metrics.Metrics

	Stream         string
	Group          string
	ConsumerPrefix string
}

// Run consumes the evaluation stream until ctx is cancelled.
func (p *EvaluationWorkerPool) Run(ctx context.Context) error {
	if p.Redis == nil || p.Evaluator == nil {
		return errors.New("EvaluationWorkerPool missing dependency: Redis/Evaluator must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultStream
	}
	if p.Group == "" {
		p.Group = DefaultGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 3
	}
	p.Logger = logger.OrDefault(p.Logger)

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	var wg sync.WaitGroup
	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}
	p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "group": p.Group, "workers": p.NumWorkers}).
		Info("evaluation workers started")
	wg.Wait()
	return nil
}

func (p *EvaluationWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("read evaluation stream failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

func (p *EvaluationWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	job, ok := jobFromValues(msg.Values)
	if !ok {
		p.Logger.WithField("redis_id", msg.ID).Warn("malformed evaluation job")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, evaluationTimeout)
	defer cancel()
	process(ctx, p.Evaluator, job, p.Logger, p.Metrics)
}

func jobFromValues(values map[string]any) (models.EvaluationJob, bool) {
	getStr := func(k string) string {
		v, ok := values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	job := models.EvaluationJob{
		ID:         getStr("job_id"),
		SessionID:  getStr("session_id"),
		QuestionID: getStr("question_id"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, getStr("created_at")); err == nil {
		job.CreatedAt = ts
	}
	return job, job.SessionID != "" && job.QuestionID != ""
}

func process(ctx context.Context, evaluator services.EvaluationService, job models.EvaluationJob, log *logrus.Logger, m *metrics.Metrics) {
	entry := log.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"session_id":  job.SessionID,
		"question_id": job.QuestionID,
	})
	start := time.Now()

	ev, err := evaluator.Evaluate(ctx, job)
	switch {
	case errors.Is(err, services.ErrNoUserResponse):
		m.EvaluationJob(ctx, "skipped")
		entry.Info("evaluation skipped: no candidate response")
	case err != nil:
		m.EvaluationJob(ctx, "failed")
		entry.WithError(err).Error("evaluation failed")
	default:
		m.EvaluationJob(ctx, "done")
		entry.WithFields(logrus.Fields{
			"score":    ev.Score,
			"fallback": ev.Fallback,
			"took_ms":  time.Since(start).Milliseconds(),
		}).Info("evaluation stored")
	}
}
