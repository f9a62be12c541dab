// Package queue contains the background consumer that drains the
// webhook delivery queue and POSTs each payload to its subscriber.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cinetick/reservation-engine/internal/model"
	"github.com/cinetick/reservation-engine/internal/service"
)

// StartWebhookConsumer connects to RabbitMQ, declares the durable
// webhook queue, and delivers each payload to its recipient over
// HTTP. It runs a reconnect loop with exponential backoff and keeps
// running across broker restarts; processing errors Nack the message
// without requeueing so a permanently broken payload cannot spin the
// loop (redelivery happens at the task layer, which retries the whole
// publish).
func StartWebhookConsumer(url string) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("webhook-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn); err != nil {
			log.Printf("webhook-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("webhook-consumer: set QoS failed: %v", err)
	}

	if _, err := ch.QueueDeclare(service.WebhookQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(service.WebhookQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	for d := range msgs {
		if err := deliver(client, d.Body); err != nil {
			log.Printf("webhook-consumer: delivery failed: %v", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func deliver(client *http.Client, body []byte) error {
	var payload model.TriggerWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if payload.Recipient == "" {
		return errors.New("payload has no recipient")
	}

	req, err := http.NewRequest(http.MethodPost, payload.Recipient, bytes.NewReader(payload.Object))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Purpose", payload.Purpose)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", payload.Recipient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", payload.Recipient, resp.StatusCode)
	}
	return nil
}
