// Package events publishes a record of every rendered product to Kafka so
// downstream consumers can track which areas are being looked at.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/geoviz/s2-visualizer/internal/core/observability"
)

type RenderEvent struct {
	RequestID  string     `json:"request_id,omitempty"`
	Product    string     `json:"product"`
	BBox       [4]float64 `json:"bbox"`
	Cell       string     `json:"cell,omitempty"`
	CellRes    int        `json:"cell_res"`
	CoverCells int        `json:"cover_cells,omitempty"`
	T0Date     string     `json:"t0_date"`
	ImageURL   string     `json:"image_url"`
	DurationMS int64      `json:"duration_ms"`
	TS         time.Time  `json:"ts"`
}

type Publisher interface {
	Publish(ev RenderEvent)
	Close() error
}

// Nop discards events; used when publishing is disabled.
type Nop struct{}

func (Nop) Publish(RenderEvent) {}
func (Nop) Close() error        { return nil }

type KafkaPublisher struct {
	logger  *slog.Logger
	topic   string
	events  chan RenderEvent
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

func NewKafka(logger *slog.Logger, brokers []string, topic string, queueSize int) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newWithProducer(logger, prod, topic, queueSize), nil
}

func newWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &KafkaPublisher{
		logger:  logger,
		topic:   topic,
		events:  make(chan RenderEvent, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("render event marshal failed", "err", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: p.topic,
				Value: sarama.ByteEncoder(b),
			}
			// keyed by cell so events for one area land on one partition
			if ev.Cell != "" {
				msg.Key = sarama.StringEncoder(ev.Cell)
			}
			p.prod.Input() <- msg
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("render event publish failed", "err", err)
			}
		}
	}()

	return p
}

// Publish never blocks the request path: a full queue drops the event.
func (p *KafkaPublisher) Publish(ev RenderEvent) {
	select {
	case p.events <- ev:
	default:
		observability.IncEventDropped()
		p.logger.Debug("render event dropped, queue full", "product", ev.Product)
	}
}

func (p *KafkaPublisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

// CloseWithContext bounds Close by ctx.
func CloseWithContext(ctx context.Context, p Publisher) error {
	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("events: close: %w", ctx.Err())
	}
}
