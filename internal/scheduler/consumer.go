package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"vod-publisher/internal/domain"
)

// setupConsumer configures QoS and starts consuming the hand-off queue.
func (s *Scheduler) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := s.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// prefetch bounds unacked deliveries so a restart requeues at most
	// prefetchCount in-flight jobs
	if err := channel.Qos(s.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := s.rabbitClient.Consume(s.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("Job queue consumer started",
		slog.String("consumer_tag", s.workerID),
		slog.Int("prefetch_count", s.prefetchCount),
	)

	return deliveries, nil
}

// dispatchDeliveries turns queue deliveries into pipeline tasks for the
// worker pool.
func (s *Scheduler) dispatchDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				s.logger.Warn("Job queue delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				s.logger.Error("Failed to parse job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages never become parseable: drop
				s.nack(delivery.DeliveryTag, false)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				s.logger.Error("Job message carries invalid job_id",
					slog.String("job_id", msg.JobID),
				)
				s.nack(delivery.DeliveryTag, false)
				continue
			}

			select {
			case s.tasks <- task{
				kind:        taskPipeline,
				jobID:       msg.JobID,
				deliveryTag: delivery.DeliveryTag,
				hasDelivery: true,
			}:
			case <-ctx.Done():
				s.nack(delivery.DeliveryTag, true)
				return
			case <-s.stopChan:
				s.nack(delivery.DeliveryTag, true)
				return
			}
		}
	}
}

// settleDelivery acks or nacks the queue message once its pipeline task
// finished. Only transient pre-claim failures requeue; everything else is
// settled by the job's durable state, not by the queue.
func (s *Scheduler) settleDelivery(t task, taskErr error) {
	channel := s.rabbitClient.GetChannel()
	if channel == nil {
		s.logger.Error("No RabbitMQ channel to settle delivery",
			slog.String("job_id", t.jobID),
		)
		return
	}

	if taskErr == nil {
		if err := channel.Ack(t.deliveryTag, false); err != nil {
			s.logger.Error("Failed to ACK message",
				slog.String("job_id", t.jobID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	requeue := shouldRequeue(taskErr)
	s.logger.Error("Pipeline task failed",
		slog.String("job_id", t.jobID),
		slog.Bool("requeue", requeue),
		slog.String("error", taskErr.Error()),
	)
	s.nack(t.deliveryTag, requeue)
}

func (s *Scheduler) nack(tag uint64, requeue bool) {
	channel := s.rabbitClient.GetChannel()
	if channel == nil {
		return
	}
	if err := channel.Nack(tag, false, requeue); err != nil {
		s.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
		)
	}
}

// shouldRequeue limits requeues to failures that happened before the job
// was claimed, e.g. the store being briefly unreachable. Once a job owns a
// durable state, retrying is the pipeline's business, not the queue's.
func shouldRequeue(err error) bool {
	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
