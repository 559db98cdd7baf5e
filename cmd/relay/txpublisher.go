package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"spos/internal/syncjob"
)

// txPublisher publishes each job in its own Kafka transaction. The delivery
// report is awaited before commit and a failed delivery aborts the
// transaction. Consumers must read with isolation.level=read_committed.
type txPublisher struct {
	p     *ck.Producer
	topic string
}

func newTxPublisher(bootstrap, topic, txID string) (*txPublisher, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.InitTransactions(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("init tx: %w", err)
	}
	return &txPublisher{p: p, topic: topic}, nil
}

func (t *txPublisher) Publish(ctx context.Context, job syncjob.Job) error {
	val, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := t.p.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	msg := &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &t.topic, Partition: ck.PartitionAny},
		Key:            []byte(job.ID),
		Value:          val,
		Headers:        []ck.Header{{Key: "type", Value: []byte(job.Payload.Kind())}},
	}
	delivered := make(chan ck.Event, 1)
	if err := t.p.Produce(msg, delivered); err != nil {
		_ = t.p.AbortTransaction(ctx)
		return fmt.Errorf("produce: %w", err)
	}
	if err := awaitDelivery(ctx, delivered); err != nil {
		_ = t.p.AbortTransaction(context.Background())
		return err
	}
	if err := t.p.CommitTransaction(ctx); err != nil {
		_ = t.p.AbortTransaction(ctx)
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// awaitDelivery blocks until the producer reports on one message.
func awaitDelivery(ctx context.Context, ch <-chan ck.Event) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("await delivery: %w", ctx.Err())
	case ev := <-ch:
		switch e := ev.(type) {
		case *ck.Message:
			if e.TopicPartition.Error != nil {
				return fmt.Errorf("delivery: %w", e.TopicPartition.Error)
			}
			return nil
		case ck.Error:
			return fmt.Errorf("delivery: %w", e)
		default:
			return fmt.Errorf("delivery: unexpected event %v", ev)
		}
	}
}

func (t *txPublisher) Close() {
	_ = t.p.Flush(5000)
	t.p.Close()
}
