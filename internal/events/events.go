// Package events публикует события заказов в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// События идут по одному: ждать наполнения пачки незачем.
	batchTimeout   = 10 * time.Millisecond
	publishTimeout = 5 * time.Second
)

// messageWriter - часть kafka.Writer, которую использует Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher держит по одному writer на топик. Без брокеров публикация ничего не делает.
type Publisher struct {
	brokers   []string
	mu        sync.Mutex
	writers   map[string]messageWriter
	newWriter func(topic string) messageWriter
}

func NewPublisher(brokersCSV string) *Publisher {
	p := &Publisher{
		brokers: parseBrokers(brokersCSV),
		writers: make(map[string]messageWriter),
	}
	p.newWriter = func(topic string) messageWriter {
		return newKafkaWriter(p.brokers, topic)
	}
	return p
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           publishTimeout,
		AllowAutoTopicCreation: true,
	}
}

func parseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (p *Publisher) Enabled() bool {
	return len(p.brokers) > 0
}

func (p *Publisher) writer(topic string) messageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.newWriter(topic)
		p.writers[topic] = w
	}
	return w
}

// Publish сериализует payload в JSON и пишет его в топик с ключом key.
// Запись ограничена publishTimeout, чтобы недоступный брокер не держал обработчик.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}
