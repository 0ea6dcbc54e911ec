package kafka

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Topics carrying order lifecycle and gate activity events.
const (
	TopicOrderCreated   = "tiketku.order.created"
	TopicOrderPaid      = "tiketku.order.paid"
	TopicOrderCancelled = "tiketku.order.cancelled"
	TopicTicketScanned  = "tiketku.ticket.scanned"
)

func AllTopics() []string {
	return []string{TopicOrderCreated, TopicOrderPaid, TopicOrderCancelled, TopicTicketScanned}
}

// EnsureTopicsExist creates the topics on the cluster controller if they
// don't already exist. Safe to call on every startup.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	}

	// Give the controller a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
	return nil
}
