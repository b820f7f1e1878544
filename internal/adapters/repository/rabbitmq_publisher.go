package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultAlertsQueue receives urgency alerts when ALERTS_QUEUE_NAME is unset
const DefaultAlertsQueue = "progress_alerts"

// AlertEvent is published for every entry classified high or critical
type AlertEvent struct {
	AlertID       uuid.UUID            `json:"alert_id"`
	Entry         *domain.Entry        `json:"entry"`
	ConditionType domain.ConditionType `json:"condition_type"`
	PatientID     int64                `json:"patient_id"`
	UrgencyStatus domain.Urgency       `json:"urgency_status"`
	RuleID        string               `json:"rule_id"`
	Timestamp     time.Time            `json:"timestamp"`
}

// NewAlertEvent builds the alert payload for a persisted entry
func NewAlertEvent(entry *domain.Entry, classification domain.Classification) AlertEvent {
	return AlertEvent{
		AlertID:       uuid.New(),
		Entry:         entry,
		ConditionType: entry.ConditionType,
		PatientID:     entry.PatientID,
		UrgencyStatus: classification.Level,
		RuleID:        classification.RuleID,
		Timestamp:     time.Now().UTC(),
	}
}

// amqpPublisher is the channel method used to publish; *amqp091.Channel satisfies it
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// RabbitMQPublisher implements AlertPublisher for publishing alerts to RabbitMQ
// Includes retry logic, reconnection and a circuit breaker
type RabbitMQPublisher struct {
	conn          *amqp091.Connection
	channel       *amqp091.Channel
	queueName     string
	cb            *gobreaker.CircuitBreaker
	logger        *zap.Logger
	maxRetries    int
	retryDelay    time.Duration
	connMutex     sync.RWMutex
	reconnectCh   chan bool
	stopReconnect chan bool
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the alerts queue
func NewRabbitMQPublisher(rabbitMQURL, queueName string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if queueName == "" {
		queueName = DefaultAlertsQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	publisher := &RabbitMQPublisher{
		queueName:     queueName,
		logger:        logger.With(zap.String("queue", queueName)),
		maxRetries:    3,
		retryDelay:    1 * time.Second,
		reconnectCh:   make(chan bool, 1),
		stopReconnect: make(chan bool),
	}

	publisher.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	if err := publisher.connect(rabbitMQURL); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	go publisher.handleReconnection(rabbitMQURL)

	return publisher, nil
}

// connect dials RabbitMQ and declares the durable queue
func (p *RabbitMQPublisher) connect(rabbitMQURL string) error {
	conn, ch, err := dialQueue(rabbitMQURL, p.queueName, p.maxRetries, p.retryDelay, p.logger)
	if err != nil {
		return err
	}

	p.connMutex.Lock()
	p.conn, p.channel = conn, ch
	p.connMutex.Unlock()

	p.logger.Info("alert publisher connected to RabbitMQ")
	return nil
}

// handleReconnection reconnects whenever a publish finds the connection closed
func (p *RabbitMQPublisher) handleReconnection(rabbitMQURL string) {
	for {
		select {
		case <-p.reconnectCh:
			p.logger.Warn("reconnecting alert publisher to RabbitMQ")
			p.connMutex.Lock()
			if p.channel != nil {
				p.channel.Close()
			}
			if p.conn != nil {
				p.conn.Close()
			}
			p.connMutex.Unlock()

			if err := p.connect(rabbitMQURL); err != nil {
				p.logger.Error("alert publisher reconnection failed", zap.Error(err))
			}
		case <-p.stopReconnect:
			return
		}
	}
}

// PublishAlert publishes an alert event for a high or critical entry
func (p *RabbitMQPublisher) PublishAlert(ctx context.Context, entry *domain.Entry, classification domain.Classification) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.publishWithRetry(ctx, NewAlertEvent(entry, classification))
	})
	return err
}

func (p *RabbitMQPublisher) publishWithRetry(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	log := p.logger.With(
		zap.String("alert_id", event.AlertID.String()),
		zap.String("condition", string(event.ConditionType)),
		zap.Int64("entry_id", event.Entry.ID),
		zap.String("urgency", string(event.UrgencyStatus)))

	var lastErr error
	for i := 0; i < p.maxRetries; i++ {
		p.connMutex.RLock()
		ch := p.channel
		conn := p.conn
		p.connMutex.RUnlock()

		if ch == nil || conn == nil || conn.IsClosed() {
			p.requestReconnect()
			lastErr = fmt.Errorf("RabbitMQ connection is closed")
		} else {
			lastErr = publishJSON(ctx, ch, p.queueName, body)
			if lastErr == nil {
				return nil
			}
			log.Warn("failed to publish alert", zap.Int("attempt", i+1), zap.Error(lastErr))
			p.requestReconnect()
		}

		if i < p.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to publish alert after %d retries: %w", p.maxRetries, lastErr)
}

func (p *RabbitMQPublisher) requestReconnect() {
	select {
	case p.reconnectCh <- true:
	default:
	}
}

// publishJSON sends a persistent JSON message to a queue through the default exchange
func publishJSON(ctx context.Context, ch amqpPublisher, queue string, body []byte) error {
	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// dialQueue connects with retries and declares a durable queue (idempotent)
func dialQueue(url, queue string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp091.Connection, *amqp091.Channel, error) {
	var conn *amqp091.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp091.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Close closes the RabbitMQ connection
func (p *RabbitMQPublisher) Close() error {
	close(p.stopReconnect)
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Ensure RabbitMQPublisher implements the interface
var _ ports.AlertPublisher = (*RabbitMQPublisher)(nil)
