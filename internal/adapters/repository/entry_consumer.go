package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/IANDYI/progress-service/internal/core/services"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultSubmissionsQueue carries queued submissions when SUBMISSIONS_QUEUE_NAME is unset
const DefaultSubmissionsQueue = "progress_submissions"

// EntryConsumer consumes submissions from RabbitMQ and feeds them to the submission
// coordinator. Bodies use the same JSON shape as POST /progress/entries.
// Messages are processed one at a time (QoS=1) and acknowledged manually.
type EntryConsumer struct {
	conn            *amqp091.Connection
	channel         *amqp091.Channel
	queueName       string
	submissions     ports.SubmissionService
	logger          *zap.Logger
	connMutex       sync.RWMutex
	reconnectCh     chan bool
	stopReconnect   chan bool
	maxRetries      int
	retryDelay      time.Duration
	consumingCtx    context.Context
	consumingMutex  sync.Mutex
	isConsuming     bool
	observe         DeliveryObserver
	recordPersisted func(condition, urgency string)
	recordFailure   func(code string)
}

// Delivery outcomes reported to the observer
const (
	OutcomeAcked    = "acked"
	OutcomeRequeued = "requeued"
	OutcomeDropped  = "dropped"
)

// DeliveryObserver is told how each delivery ended and how long it took
type DeliveryObserver func(outcome string, elapsed time.Duration)

// NewEntryConsumer connects to RabbitMQ and declares the submissions queue
func NewEntryConsumer(rabbitMQURL, queueName string, submissions ports.SubmissionService, logger *zap.Logger) (*EntryConsumer, error) {
	consumer := newEntryConsumer(queueName, submissions, logger)

	if err := consumer.connect(rabbitMQURL); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	go consumer.handleReconnection(rabbitMQURL)

	return consumer, nil
}

// NewDeliveryHandler builds a consumer without a broker connection; only
// HandleDelivery may be used on it
func NewDeliveryHandler(submissions ports.SubmissionService, logger *zap.Logger) *EntryConsumer {
	return newEntryConsumer("", submissions, logger)
}

func newEntryConsumer(queueName string, submissions ports.SubmissionService, logger *zap.Logger) *EntryConsumer {
	if queueName == "" {
		queueName = DefaultSubmissionsQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntryConsumer{
		queueName:       queueName,
		submissions:     submissions,
		logger:          logger.With(zap.String("queue", queueName)),
		maxRetries:      3,
		retryDelay:      1 * time.Second,
		reconnectCh:     make(chan bool, 1),
		stopReconnect:   make(chan bool),
		observe:         func(string, time.Duration) {},
		recordPersisted: func(string, string) {},
		recordFailure:   func(string) {},
	}
}

// SetObserver installs a delivery observer, typically the metrics exporter
func (c *EntryConsumer) SetObserver(observe DeliveryObserver) {
	if observe != nil {
		c.observe = observe
	}
}

// SetSubmissionRecorder installs the counters for persisted and failed submissions
func (c *EntryConsumer) SetSubmissionRecorder(persisted func(condition, urgency string), failed func(code string)) {
	if persisted != nil {
		c.recordPersisted = persisted
	}
	if failed != nil {
		c.recordFailure = failed
	}
}

func (c *EntryConsumer) connect(rabbitMQURL string) error {
	conn, ch, err := dialQueue(rabbitMQURL, c.queueName, c.maxRetries, c.retryDelay, c.logger)
	if err != nil {
		return err
	}

	c.connMutex.Lock()
	c.conn, c.channel = conn, ch
	c.connMutex.Unlock()

	c.logger.Info("entry consumer connected to RabbitMQ")
	return nil
}

// handleReconnection reconnects after the delivery channel closes and resumes consuming
func (c *EntryConsumer) handleReconnection(rabbitMQURL string) {
	for {
		select {
		case <-c.reconnectCh:
			c.logger.Warn("reconnecting entry consumer to RabbitMQ")
			c.connMutex.Lock()
			if c.channel != nil && !c.channel.IsClosed() {
				c.channel.Close()
			}
			if c.conn != nil && !c.conn.IsClosed() {
				c.conn.Close()
			}
			c.connMutex.Unlock()

			if err := c.connect(rabbitMQURL); err != nil {
				c.logger.Error("entry consumer reconnection failed", zap.Error(err))
				time.Sleep(5 * time.Second)
				c.requestReconnect()
				continue
			}

			c.consumingMutex.Lock()
			ctx := c.consumingCtx
			running := c.isConsuming
			c.consumingMutex.Unlock()
			if ctx != nil && ctx.Err() == nil && !running {
				if err := c.StartConsuming(ctx); err != nil {
					c.logger.Error("failed to resume consuming", zap.Error(err))
				}
			}
		case <-c.stopReconnect:
			return
		}
	}
}

func (c *EntryConsumer) requestReconnect() {
	select {
	case c.reconnectCh <- true:
	default:
	}
}

// StartConsuming registers the consumer and processes deliveries in a background
// goroutine until ctx is cancelled. Only one consumer runs per process.
func (c *EntryConsumer) StartConsuming(ctx context.Context) error {
	c.consumingMutex.Lock()
	if c.isConsuming {
		c.consumingMutex.Unlock()
		c.logger.Info("entry consumer already running, skipping duplicate start")
		return nil
	}
	c.isConsuming = true
	c.consumingCtx = ctx
	c.consumingMutex.Unlock()

	stopped := func() {
		c.consumingMutex.Lock()
		c.isConsuming = false
		c.consumingMutex.Unlock()
	}

	c.connMutex.RLock()
	channel := c.channel
	conn := c.conn
	c.connMutex.RUnlock()

	if channel == nil || channel.IsClosed() || conn == nil || conn.IsClosed() {
		stopped()
		return fmt.Errorf("RabbitMQ connection is closed")
	}

	if err := channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	); err != nil {
		stopped()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	consumerTag := fmt.Sprintf("entry-consumer-%d", time.Now().UnixNano())
	msgs, err := channel.Consume(
		c.queueName, // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		stopped()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("entry consumer started", zap.String("consumer_tag", consumerTag))

	go c.run(ctx, msgs, stopped)

	return nil
}

// run drains deliveries until ctx ends or the channel closes. The consumer is marked
// stopped before a reconnect is requested so the reconnect loop can resume it.
func (c *EntryConsumer) run(ctx context.Context, msgs <-chan amqp091.Delivery, stopped func()) {
	closed := c.deliver(ctx, msgs)
	stopped()
	if closed {
		c.requestReconnect()
	}
}

// deliver reports whether it returned because the delivery channel closed
func (c *EntryConsumer) deliver(ctx context.Context, msgs <-chan amqp091.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("entry consumer context cancelled")
			return false
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("entry consumer channel closed")
				return true
			}
			c.HandleDelivery(ctx, msg)
		}
	}
}

// HandleDelivery submits one queued entry. The message is acked once the entry is
// persisted, dropped when it can never succeed and requeued on transient storage errors.
func (c *EntryConsumer) HandleDelivery(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	outcome := c.handle(ctx, msg)
	c.observe(outcome, time.Since(start))
}

func (c *EntryConsumer) handle(ctx context.Context, msg amqp091.Delivery) string {
	log := c.logger.With(zap.Uint64("delivery_tag", msg.DeliveryTag))

	payload, err := services.DecodePayloadBytes(msg.Body)
	if err != nil {
		log.Warn("dropping malformed submission", zap.Error(err))
		c.recordFailure(string(domain.CodeTypeViolation))
		return c.nack(log, msg, false)
	}

	entry, err := c.submissions.Submit(ctx, payload)
	if err != nil {
		c.recordFailure(failureLabel(err))
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			log.Warn("dropping invalid submission", zap.Strings("fields", verr.Fields()))
			return c.nack(log, msg, false)
		case domain.IsRetriable(err), errors.Is(err, domain.ErrDeadlineExceeded):
			log.Warn("requeueing submission after storage failure", zap.Error(err))
			return c.nack(log, msg, true)
		default:
			log.Error("dropping submission after terminal storage failure", zap.Error(err))
			return c.nack(log, msg, false)
		}
	}

	c.recordPersisted(string(entry.ConditionType), string(entry.UrgencyStatus))
	log.Info("queued submission persisted",
		zap.String("condition", string(entry.ConditionType)),
		zap.Int64("entry_id", entry.ID),
		zap.String("urgency", string(entry.UrgencyStatus)))

	// Ack only after the entry is persisted; a failed ack means redelivery
	if err := msg.Ack(false); err != nil {
		log.Error("failed to acknowledge submission", zap.Error(err))
	}
	return OutcomeAcked
}

// failureLabel names a failed submission with the codes the HTTP surface reports
func failureLabel(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr) && len(verr.Errors) > 0:
		return string(verr.Errors[0].Code)
	case errors.Is(err, domain.ErrUnknownCondition):
		return string(domain.CodeUnknownCondition)
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, domain.ErrIntegrityViolation):
		return "IntegrityViolation"
	case errors.Is(err, domain.ErrSchemaDrift):
		return "SchemaDrift"
	default:
		return "Internal"
	}
}

func (c *EntryConsumer) nack(log *zap.Logger, msg amqp091.Delivery, requeue bool) string {
	if err := msg.Nack(false, requeue); err != nil {
		log.Error("failed to nack submission", zap.Bool("requeue", requeue), zap.Error(err))
	}
	if requeue {
		return OutcomeRequeued
	}
	return OutcomeDropped
}

// Close stops reconnection and closes the RabbitMQ connection.
// The consuming context is cancelled by main during graceful shutdown.
func (c *EntryConsumer) Close() error {
	close(c.stopReconnect)

	c.consumingMutex.Lock()
	c.isConsuming = false
	c.consumingMutex.Unlock()

	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("error closing RabbitMQ channel", zap.Error(err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("error closing RabbitMQ connection", zap.Error(err))
		}
	}

	c.logger.Info("entry consumer closed")
	return nil
}
