package jobs

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaWakeSource consumes a lightweight notification topic and emits a
// wake signal so Workers skip the remainder of their poll backoff as soon
// as a refresh is enqueued elsewhere, instead of waiting out the interval.
// It never participates in job content: jobs are claimed exclusively
// through store.JobStore. Adapted from the teacher's
// internal/orchestrator/kafka.go reader-loop shape, stripped to its
// fetch/commit skeleton since there is no message payload to dispatch to
// a worker pool here — only a wake-up edge.
type KafkaWakeSource struct {
	reader *kafka.Reader
	wake   chan struct{}
}

// NewKafkaWakeSource builds a wake source against the given topic. The
// returned channel should be assigned to Worker.Wake.
func NewKafkaWakeSource(brokers []string, groupID, topic string) (*KafkaWakeSource, <-chan struct{}) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 1 << 16,
	})
	wake := make(chan struct{}, 1)
	return &KafkaWakeSource{reader: reader, wake: wake}, wake
}

// Run blocks, forwarding a non-blocking wake signal for every message
// received, until ctx is cancelled.
func (k *KafkaWakeSource) Run(ctx context.Context) {
	defer func() {
		if err := k.reader.Close(); err != nil {
			log.Error().Err(err).Msg("refresh_worker_wake_reader_close_error")
		}
	}()
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("refresh_worker_wake_fetch_error")
			continue
		}
		select {
		case k.wake <- struct{}{}:
		default:
			// a wake is already pending; coalescing is fine, the worker
			// only needs to know "something changed", not how many times.
		}
		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("refresh_worker_wake_commit_error")
		}
	}
}
