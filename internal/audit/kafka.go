/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package audit

import (
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/acronis/go-appkit/log"
)

// KafkaEmitter publishes audit events to Kafka, one topic per event type.
type KafkaEmitter struct {
	producer *kafka.Producer
	topics   map[EventType]string
	logger   log.FieldLogger
	done     chan struct{}
}

// KafkaEmitterOpts configures topic names for KafkaEmitter.
type KafkaEmitterOpts struct {
	EnqueuedTopic   string
	TerminatedTopic string
}

// NewKafkaEmitter creates an emitter backed by a Kafka producer.
func NewKafkaEmitter(brokers string, messageTimeoutMs int, opts KafkaEmitterOpts, logger log.FieldLogger) (*KafkaEmitter, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"message.timeout.ms": messageTimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	e := &KafkaEmitter{
		producer: producer,
		topics: map[EventType]string{
			EventEnqueued:   opts.EnqueuedTopic,
			EventTerminated: opts.TerminatedTopic,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
	go e.drainDeliveryReports()
	return e, nil
}

// Emit implements Emitter. Marshaling or produce errors are logged and dropped.
func (e *KafkaEmitter) Emit(event Event) {
	topic, ok := e.topics[event.Type]
	if !ok || topic == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("marshal audit event", log.Error(err), log.String("event_type", string(event.Type)))
		return
	}
	err = e.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.VisitorID),
		Value:          payload,
	}, nil)
	if err != nil {
		e.logger.Error("produce audit event", log.Error(err), log.String("topic", topic))
	}
}

// Close flushes pending events and shuts the producer down.
func (e *KafkaEmitter) Close() {
	const flushTimeoutMs = 1000
	e.producer.Flush(flushTimeoutMs)
	e.producer.Close()
	<-e.done
}

// drainDeliveryReports consumes the producer's event channel so that failed
// deliveries are logged instead of piling up.
func (e *KafkaEmitter) drainDeliveryReports() {
	defer close(e.done)
	for ev := range e.producer.Events() {
		msg, ok := ev.(*kafka.Message)
		if !ok {
			continue
		}
		if msg.TopicPartition.Error != nil {
			e.logger.Warn("audit event delivery failed", log.Error(msg.TopicPartition.Error))
		}
	}
}
