package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/fauna/internal/models"
)

const (
	ReprocessStreamName = "REPROCESS"
	ReprocessSubject    = "photos.reprocess"
	OutcomesStreamName  = "OUTCOMES"
	OutcomesSubject     = "photos.outcomes"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        ReprocessStreamName,
			Subjects:    []string{ReprocessSubject},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     10000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardNew,
			Duplicates:  2 * time.Minute,
			Description: "Photo reprocess jobs for pipeline workers",
		},
		{
			Name:        OutcomesStreamName,
			Subjects:    []string{OutcomesSubject},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Description: "Per-photo reprocess outcomes",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishJob enqueues a reprocess job. The job id doubles as the JetStream
// message id, so a retried publish is deduplicated.
func (p *Producer) PublishJob(ctx context.Context, job models.ReprocessJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal reprocess job: %w", err)
	}

	_, err = p.js.Publish(ctx, ReprocessSubject, payload, jetstream.WithMsgID(job.JobID.String()))
	if err != nil {
		return fmt.Errorf("publish reprocess job: %w", err)
	}
	return nil
}

// PhotoProcessed publishes one outcome event.
func (p *Producer) PhotoProcessed(ctx context.Context, ev models.OutcomeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}

	_, err = p.js.Publish(ctx, OutcomesSubject, payload)
	if err != nil {
		return fmt.Errorf("publish outcome event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the REPROCESS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ReprocessStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
