package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"tiketku/internal/logger"
	"tiketku/internal/models"
)

// Producer streams lifecycle events. One writer serves all topics; the
// topic is set per message.
type Producer struct {
	Writer *kafka.Writer
	log    *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{Writer: writer, log: log}
}

func (p *Producer) publish(topic, key string, payload any) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	if p.log != nil {
		p.log.LogKafka("publish", topic, key)
	}
	return nil
}

// PublishOrderCreated streams a new pending order.
func (p *Producer) PublishOrderCreated(order models.Order) error {
	return p.publish(TopicOrderCreated, order.ID, order)
}

// PublishOrderPaid streams a settled, paid order.
func (p *Producer) PublishOrderPaid(order models.Order) error {
	return p.publish(TopicOrderPaid, order.ID, order)
}

// PublishOrderCancelled streams a cancelled order.
func (p *Producer) PublishOrderCancelled(order models.Order) error {
	return p.publish(TopicOrderCancelled, order.ID, order)
}

// TicketScannedEvent is the payload for gate scan events.
type TicketScannedEvent struct {
	TicketID    string    `json:"ticket_id"`
	QRCode      string    `json:"qr_code"`
	GateEntryID string    `json:"gate_entry_id"`
	EventID     string    `json:"event_id"`
	ScanTime    time.Time `json:"scan_time"`
}

// PublishTicketScanned streams a successful gate admission.
func (p *Producer) PublishTicketScanned(event TicketScannedEvent) error {
	return p.publish(TopicTicketScanned, event.TicketID, event)
}

// Close flushes and shuts down the writer.
func (p *Producer) Close() error {
	return p.Writer.Close()
}
