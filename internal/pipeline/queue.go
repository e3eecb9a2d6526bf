package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

const (
	// DefaultJobStream is the Redis stream jobs are appended to.
	DefaultJobStream = "jobs"

	// DefaultJobGroup is the consumer group workers share.
	DefaultJobGroup = "workers"
)

const (
	consumeBatch      = 16
	consumeErrBackoff = time.Second
)

// JobQueue is a durable job queue on a SignalBus stream.
type JobQueue struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
	now    func() time.Time
}

var _ domain.JobQueue = (*JobQueue)(nil)

// NewJobQueue creates a JobQueue on stream.
func NewJobQueue(bus domain.SignalBus, stream string, logger *slog.Logger) *JobQueue {
	if stream == "" {
		stream = DefaultJobStream
	}
	return &JobQueue{
		bus:    bus,
		stream: stream,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue appends job to the stream and returns its id. An id and
// timestamp are assigned when absent.
func (q *JobQueue) Enqueue(ctx context.Context, job domain.Job) (string, error) {
	if !job.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrPrecondition, job.Kind)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("pipeline: marshal job %s: %w", job.Kind, err)
	}
	if _, err := q.bus.StreamAppend(ctx, q.stream, payload); err != nil {
		return "", fmt.Errorf("pipeline: enqueue %s: %w", job.Kind, err)
	}

	q.logger.DebugContext(ctx, "job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Int("names", len(job.Names)),
	)
	return job.ID, nil
}

// JobHandler executes one job.
type JobHandler func(ctx context.Context, job domain.Job) error

// ConsumerConfig names this process within the worker group. StartID is
// only used when the group is first created ("$" or "0").
type ConsumerConfig struct {
	Group    string
	Consumer string
	StartID  string
}

// Consume joins the worker group and hands each job to handle until ctx is
// cancelled. Jobs left pending by an earlier run of the same consumer are
// replayed first. Every job is acknowledged once handled; handler failures
// are logged and not retried.
func (q *JobQueue) Consume(ctx context.Context, cfg ConsumerConfig, handle JobHandler) error {
	c := domain.StreamConsumer{
		Stream:   q.stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		StartID:  cfg.StartID,
	}
	if c.Group == "" {
		c.Group = DefaultJobGroup
	}
	if c.Consumer == "" {
		c.Consumer = "worker"
	}
	if err := q.bus.StreamGroup(ctx, c); err != nil {
		return fmt.Errorf("pipeline: join job group: %w", err)
	}
	q.logger.InfoContext(ctx, "job consumer started",
		slog.String("stream", c.Stream),
		slog.String("group", c.Group),
		slog.String("consumer", c.Consumer),
	)

	// Replay this consumer's unacknowledged jobs once, then take new ones.
	after := "0"
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := q.bus.StreamReadGroup(ctx, c, after, consumeBatch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.ErrorContext(ctx, "job stream read failed", slog.String("error", err.Error()))
			if err := sleepCtx(ctx, consumeErrBackoff); err != nil {
				return err
			}
			continue
		}
		if after != domain.StreamNew {
			if len(msgs) == 0 {
				after = domain.StreamNew
				continue
			}
			after = msgs[len(msgs)-1].ID
		}

		for _, msg := range msgs {
			q.run(ctx, msg, handle)
			if err := q.bus.StreamAck(ctx, c, msg.ID); err != nil && ctx.Err() == nil {
				q.logger.WarnContext(ctx, "job ack failed",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (q *JobQueue) run(ctx context.Context, msg domain.StreamMessage, handle JobHandler) {
	var job domain.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		q.logger.ErrorContext(ctx, "dropping malformed job",
			slog.String("stream_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	start := time.Now()
	if err := handle(ctx, job); err != nil {
		q.logger.ErrorContext(ctx, "job failed",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	q.logger.InfoContext(ctx, "job done",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Duration("took", time.Since(start)),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
