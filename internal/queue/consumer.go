package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/fauna/internal/models"
)

// ErrInvalidJob marks a job payload that can never be processed. Such messages
// are terminated instead of redelivered.
var ErrInvalidJob = errors.New("invalid reprocess job")

type JobHandler func(ctx context.Context, job models.ReprocessJob) error

type OutcomeHandler func(ctx context.Context, ev models.OutcomeEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeJobs starts consuming reprocess jobs from the REPROCESS stream.
// workerCount determines how many jobs run concurrently. A handler error naks
// the message for redelivery unless it wraps ErrInvalidJob.
func (c *Consumer) ConsumeJobs(ctx context.Context, consumerName string, handler JobHandler, workerCount int, ackWait time.Duration) error {
	if workerCount < 1 {
		workerCount = 1
	}
	stream, err := c.js.Stream(ctx, ReprocessStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ReprocessStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    3,
		FilterSubject: ReprocessSubject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount)

	// Start consumer fetch loop
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch jobs error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	// Start workers
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				err := handleJob(ctx, msg.Data(), handler)
				switch {
				case err == nil:
					_ = msg.Ack()
				case errors.Is(err, ErrInvalidJob):
					slog.Error("drop reprocess job", "worker", workerID, "error", err)
					_ = msg.Term()
				default:
					slog.Error("process reprocess job", "worker", workerID, "error", err)
					_ = msg.Nak()
				}
			}
		}(i)
	}

	slog.Info("job consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func handleJob(ctx context.Context, data []byte, handler JobHandler) error {
	job, err := DecodeJob(data)
	if err != nil {
		return err
	}
	return handler(ctx, job)
}

// ConsumeOutcomes starts consuming outcome events (for API to broadcast via WebSocket).
func (c *Consumer) ConsumeOutcomes(ctx context.Context, consumerName string, handler OutcomeHandler) error {
	stream, err := c.js.Stream(ctx, OutcomesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", OutcomesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: OutcomesSubject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var ev models.OutcomeEvent
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					slog.Error("unmarshal outcome event", "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process outcome event", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("outcome consumer started", "consumer", consumerName)
	return nil
}

// DecodeJob parses and sanity-checks a reprocess job payload.
func DecodeJob(data []byte) (models.ReprocessJob, error) {
	var job models.ReprocessJob
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if job.OwnerID == "" {
		return job, fmt.Errorf("%w: missing owner", ErrInvalidJob)
	}
	if len(job.PhotoIDs) == 0 {
		return job, fmt.Errorf("%w: no photo ids", ErrInvalidJob)
	}
	return job, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
