package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Worker drains the audit outbox into Kafka. Kafka is the downstream source of
// truth for compliance consumers; rows stay in the outbox until the produce is
// acknowledged, so a crash between poll and ack re-publishes rather than
// loses. Consumers deduplicate on the entry ID.
type Worker struct {
	store    OutboxStore
	client   *kgo.Client
	topic    string
	logger   *slog.Logger
	interval time.Duration
	batch    int
	lagGauge prometheus.Gauge
}

type WorkerOption func(*Worker)

func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) { w.batch = n }
}

func WithLagGauge(g prometheus.Gauge) WorkerOption {
	return func(w *Worker) { w.lagGauge = g }
}

// NewWorker connects to Kafka, ensures the topic exists, and returns a worker
// ready to Run.
func NewWorker(store OutboxStore, brokers []string, topic string, logger *slog.Logger, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(client, topic); err != nil {
		client.Close()
		return nil, err
	}

	w := &Worker{
		store:    store,
		client:   client,
		topic:    topic,
		logger:   logger,
		interval: time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func ensureTopic(client *kgo.Client, topic string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %q: %w", topic, resp.Err)
	}
	return nil
}

// Run polls until the context is cancelled. One final drain is attempted on
// shutdown so short-lived processes do not strand acked entries.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.client.Close()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = w.publishPending(drainCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := w.publishPending(ctx); err != nil {
				w.logger.WarnContext(ctx, "audit outbox publish failed", "error", err)
			}
		}
	}
}

func (w *Worker) publishPending(ctx context.Context) error {
	rows, err := w.store.PendingOutbox(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("poll outbox: %w", err)
	}
	if w.lagGauge != nil {
		if n, err := w.store.PendingCount(ctx); err == nil {
			w.lagGauge.Set(float64(n))
		}
	}
	if len(rows) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, &kgo.Record{
			Topic: w.topic,
			Key:   []byte(row.Key),
			Value: row.Payload,
		})
	}

	if err := w.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if err := w.store.MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("ack outbox batch: %w", err)
	}

	w.logger.DebugContext(ctx, "audit batch published", "count", len(rows))
	return nil
}
