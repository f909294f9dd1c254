// Package kafka publishes finalized job run ledger entries to a topic so
// downstream consumers (alerting, audit trails) can follow ingestion
// activity without polling the database.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// Publisher produces run events to a Kafka topic. It implements the
// ingestion runner's RunPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a producer for the run event topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishRun sends one finalized ledger entry. Publishing is best-effort:
// failures are logged and never fail the ingestion run, since the ledger
// row in Postgres is the source of truth.
func (p *Publisher) PublishRun(ctx context.Context, run domain.JobRun) {
	msg, err := serializeRun(run)
	if err != nil {
		p.logger.Error("serialize run event failed", "job_id", run.JobID, "error", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("publish run event failed", "job_id", run.JobID, "error", err)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeRun marshals a run into a Kafka message keyed by source, so one
// source's run history lands in order on a single partition.
func serializeRun(run domain.JobRun) (kafkago.Message, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize job run: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(run.SourceID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "job_id", Value: []byte(run.JobID)},
			{Key: "status", Value: []byte(run.Status)},
		},
	}, nil
}
