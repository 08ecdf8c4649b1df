/**
 * Queue Consumer for the recognition service
 *
 * Consumes recognition jobs from a Redis-backed queue and runs them through
 * the orchestration pipeline. Uses Asynq for queue management.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docsight/recognition-service/internal/errors"
	"github.com/docsight/recognition-service/internal/fusion"
	"github.com/docsight/recognition-service/internal/logging"
	"github.com/docsight/recognition-service/internal/orchestrator"
)

// TaskTypeRecognize is the task type routed to the recognition handler
const TaskTypeRecognize = "recognition:process"

// JobData is the payload of one queued recognition job
type JobData struct {
	JobID           string            `json:"jobId"`
	ClientID        string            `json:"clientId"`
	Filename        string            `json:"filename"`
	MimeType        string            `json:"mimeType,omitempty"`
	FileBuffer      []byte            `json:"fileBuffer"`
	Language        string            `json:"language,omitempty"`
	UseCase         string            `json:"useCase,omitempty"`
	PreferredEngine string            `json:"preferredEngine,omitempty"`
	Options         map[string]string `json:"options,omitempty"`
	Fusion          bool              `json:"fusion,omitempty"`
	FusionEngines   []string          `json:"fusionEngines,omitempty"`
	Strategy        string            `json:"strategy,omitempty"`
	DisableFallback bool              `json:"disableFallback,omitempty"`
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	ProcessingTimeout int64 // per-job timeout in milliseconds
}

// Consumer pulls recognition jobs off the queue
type Consumer struct {
	client       *asynq.Client
	server       *asynq.Server
	mux          *asynq.ServeMux
	orchestrator *orchestrator.Orchestrator
	config       *ConsumerConfig
	logger       *logging.Logger
}

// NewConsumer creates a queue consumer bound to the orchestrator
func NewConsumer(cfg *ConsumerConfig, orch *orchestrator.Orchestrator) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:       client,
		server:       server,
		mux:          mux,
		orchestrator: orch,
		config:       cfg,
		logger:       logger,
	}

	mux.HandleFunc(TaskTypeRecognize, consumer.handleRecognize)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.logger.Error("Queue consumer error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the consumer down gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	c.logger.Info("Queue consumer stopped")
	return nil
}

// Enqueue submits a recognition job
func (c *Consumer) Enqueue(ctx context.Context, job *JobData) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	task := asynq.NewTask(TaskTypeRecognize, payload)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.config.QueueName)); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// handleRecognize runs one queued job through the pipeline
func (c *Consumer) handleRecognize(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var job JobData
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", asynq.SkipRetry)
	}

	c.logger.Info("Processing job",
		"jobId", job.JobID,
		"client", job.ClientID,
		"filename", job.Filename,
		"bytes", len(job.FileBuffer))

	timeout := 300000 * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.orchestrator.Process(processCtx, &orchestrator.Request{
		RequestID:       job.JobID,
		ClientID:        job.ClientID,
		Filename:        job.Filename,
		FileType:        job.MimeType,
		Input:           job.FileBuffer,
		Language:        job.Language,
		UseCase:         job.UseCase,
		PreferredEngine: job.PreferredEngine,
		Options:         job.Options,
		Fusion:          job.Fusion,
		FusionEngines:   job.FusionEngines,
		Strategy:        fusion.Strategy(job.Strategy),
		DisableFallback: job.DisableFallback,
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			c.logger.Error("Job timed out", "jobId", job.JobID, "duration", duration, "timeout", timeout)
			return fmt.Errorf("job %s timed out after %v: %w", job.JobID, duration, err)
		}

		if !retryable(err) {
			c.logger.Error("Job failed permanently", "jobId", job.JobID, "details", failureDetails(err))
			return fmt.Errorf("job %s failed: %v: %w", job.JobID, err, asynq.SkipRetry)
		}

		c.logger.Error("Job failed", "jobId", job.JobID, "duration", duration, "details", failureDetails(err))
		return fmt.Errorf("job %s failed: %w", job.JobID, err)
	}

	c.logger.Info("Job completed",
		"jobId", job.JobID,
		"engine", resp.Engine,
		"confidence", resp.Confidence,
		"cached", resp.Cached,
		"duration", duration)

	return nil
}

// failureDetails expands structured service errors into their full report
// map for logging; other errors log their message.
func failureDetails(err error) interface{} {
	var re *errors.RecognitionError
	if stderrors.As(err, &re) {
		return re.ToMap()
	}
	return err.Error()
}

// retryable reports whether a failed job is worth requeueing. Transient
// pressure (admission, rate limits, engine outages) retries; requests the
// service can never satisfy do not.
func retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrorVisionRequired,
		errors.ErrorNoSuitableEngine,
		errors.ErrorEngineNotRegistered:
		return false
	default:
		return true
	}
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
