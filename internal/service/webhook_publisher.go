// Package service provides outbound integrations. The webhook
// publisher hands notification payloads to RabbitMQ; a separate
// consumer delivers them to subscribers, so a slow or failing
// subscriber never stalls the task executor.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cinetick/reservation-engine/internal/model"
)

// WebhookQueueName is the durable queue webhook payloads travel on.
const WebhookQueueName = "webhook.deliver"

// WebhookPublisher publishes TriggerWebhook payloads to the broker.
// Each publish opens a short-lived connection; the engine sends a
// handful of notifications per booking, so connection reuse is not
// worth the reconnect bookkeeping here.
type WebhookPublisher struct {
	url string
}

// NewWebhookPublisher returns a publisher dialing the given AMQP URL.
func NewWebhookPublisher(url string) *WebhookPublisher {
	return &WebhookPublisher{url: url}
}

// Publish marshals the payload and publishes it persistently to the
// webhook queue. Any error is logged and returned so the task layer
// can retry the delivery.
func (p *WebhookPublisher) Publish(ctx context.Context, payload model.TriggerWebhookPayload) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so payloads survive broker restarts.
	if _, err := ch.QueueDeclare(WebhookQueueName, true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return fmt.Errorf("declare queue: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", WebhookQueueName, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
