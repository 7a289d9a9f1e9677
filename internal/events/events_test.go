package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs      []kafka.Message
	deadlines []time.Time
	err       error
	closed    bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	deadline, _ := ctx.Deadline()
	w.deadlines = append(w.deadlines, deadline)
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisherDisabled(t *testing.T) {
	p := NewPublisher(" , ")
	if p.Enabled() {
		t.Fatal("publisher without brokers is enabled")
	}
	if err := p.Publish(context.Background(), "orders.paid", "1", map[string]int{"a": 1}); err != nil {
		t.Errorf("disabled publish: %v", err)
	}
	if len(p.writers) != 0 {
		t.Error("disabled publisher created writers")
	}
}

func TestPublisherWritesJSON(t *testing.T) {
	p := NewPublisher("localhost:9092, localhost:9093")
	if len(p.brokers) != 2 {
		t.Fatalf("brokers: %v", p.brokers)
	}
	writers := map[string]*fakeWriter{}
	p.newWriter = func(topic string) messageWriter {
		w := &fakeWriter{}
		writers[topic] = w
		return w
	}

	ctx := context.Background()
	_ = p.Publish(ctx, "orders.committed", "7", map[string]uint{"order_id": 7})
	_ = p.Publish(ctx, "orders.committed", "8", map[string]uint{"order_id": 8})
	_ = p.Publish(ctx, "orders.paid", "7", map[string]uint{"order_id": 7})

	if len(writers) != 2 {
		t.Fatalf("writers per topic: %d", len(writers))
	}
	committed := writers["orders.committed"].msgs
	if len(committed) != 2 || string(committed[0].Key) != "7" {
		t.Fatalf("committed messages: %+v", committed)
	}
	var body map[string]uint
	if err := json.Unmarshal(committed[1].Value, &body); err != nil || body["order_id"] != 8 {
		t.Errorf("payload: %s", committed[1].Value)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	for topic, w := range writers {
		if !w.closed {
			t.Errorf("%s writer not closed", topic)
		}
	}
}

func TestPublisherWriteError(t *testing.T) {
	p := NewPublisher("localhost:9092")
	boom := errors.New("leader not available")
	p.newWriter = func(string) messageWriter { return &fakeWriter{err: boom} }

	if err := p.Publish(context.Background(), "orders.paid", "1", 1); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
}

func TestKafkaWriterFlushesPromptly(t *testing.T) {
	w := newKafkaWriter([]string{"localhost:9092"}, "orders.paid")
	defer w.Close()
	if w.BatchTimeout != batchTimeout || w.BatchTimeout > 100*time.Millisecond {
		t.Errorf("batch timeout: %v", w.BatchTimeout)
	}
	if w.WriteTimeout != publishTimeout {
		t.Errorf("write timeout: %v", w.WriteTimeout)
	}
	if w.Topic != "orders.paid" {
		t.Errorf("topic: %q", w.Topic)
	}
}

func TestPublishBoundedByTimeout(t *testing.T) {
	p := NewPublisher("localhost:9092")
	fw := &fakeWriter{}
	p.newWriter = func(string) messageWriter { return fw }

	start := time.Now()
	if err := p.Publish(context.Background(), "orders.paid", "1", 1); err != nil {
		t.Fatal(err)
	}
	if len(fw.deadlines) != 1 || fw.deadlines[0].IsZero() {
		t.Fatalf("publish without deadline: %v", fw.deadlines)
	}
	if d := fw.deadlines[0].Sub(start); d > publishTimeout+time.Second {
		t.Errorf("deadline too far: %v", d)
	}

	// более короткий дедлайн вызывающего сохраняется
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	want, _ := ctx.Deadline()
	_ = p.Publish(ctx, "orders.paid", "2", 2)
	if !fw.deadlines[1].Equal(want) {
		t.Errorf("caller deadline replaced: %v != %v", fw.deadlines[1], want)
	}
}
