// Package notify publishes booking outcomes to Kafka.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type EventStatus string

const (
	EventBooked         EventStatus = "booked"
	EventFailed         EventStatus = "failed"
	EventReconciliation EventStatus = "reconciliation_required"
)

// BookingEvent is the message body consumers of the booking topic receive.
type BookingEvent struct {
	TripRequestID string      `json:"trip_request_id"`
	AttemptID     string      `json:"attempt_id,omitempty"`
	Status        EventStatus `json:"status"`
	FlightOrderID string      `json:"flight_order_id,omitempty"`
	PNR           string      `json:"pnr,omitempty"`
	Error         string      `json:"error,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	w   MessageWriter
	log *zap.Logger
}

func NewWriter(brokers []string, topic string, log *zap.Logger) *kafka.Writer {
	errLog := log.Named("kafka").Sugar()
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // per-trip ordering
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger:  kafka.LoggerFunc(errLog.Errorf),
	}
}

func NewPublisher(w MessageWriter, log *zap.Logger) *Publisher {
	return &Publisher{w: w, log: log.Named("notify")}
}

// Publish writes ev keyed by trip id so a trip's events stay in order.
func (p *Publisher) Publish(ctx context.Context, ev BookingEvent) error {
	if ev.TripRequestID == "" {
		return errors.New("booking event without trip id")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal booking event")
	}
	msg := kafka.Message{
		Key:   []byte(ev.TripRequestID),
		Value: raw,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("booking." + string(ev.Status))},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish booking event for %s", ev.TripRequestID)
	}
	p.log.Debug("booking event published", zap.String("trip_request_id", ev.TripRequestID), zap.String("status", string(ev.Status)))
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }
