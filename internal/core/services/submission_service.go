package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmissionState is a step of the submission state machine
type SubmissionState string

const (
	StateReceived   SubmissionState = "RECEIVED"
	StateValidated  SubmissionState = "VALIDATED"
	StateClassified SubmissionState = "CLASSIFIED"
	StatePersisted  SubmissionState = "PERSISTED"
	StateAcked      SubmissionState = "ACKED"
	StateRejected   SubmissionState = "REJECTED"
	StateFailed     SubmissionState = "FAILED"
)

// DefaultSubmissionTimeout bounds one submission end to end
const DefaultSubmissionTimeout = 10 * time.Second

const alertPublishTimeout = 5 * time.Second

// SubmissionConfig tunes the coordinator
type SubmissionConfig struct {
	Timeout time.Duration
	Backoff Backoff
}

// SubmissionService coordinates validate -> classify -> persist for every write.
// Alerts and cache invalidation run after the entry is persisted and never fail
// the submission.
type SubmissionService struct {
	validator *EntryValidator
	repo      ports.EntryRepository
	alerts    ports.AlertPublisher
	cache     ports.StatsCache
	logger    *zap.Logger
	timeout   time.Duration
	backoff   Backoff

	pending sync.WaitGroup
}

// NewSubmissionService creates a new submission coordinator.
// alerts and cache may be nil when RabbitMQ or Redis are not configured.
func NewSubmissionService(
	validator *EntryValidator,
	repo ports.EntryRepository,
	alerts ports.AlertPublisher,
	cache ports.StatsCache,
	logger *zap.Logger,
	cfg SubmissionConfig,
) *SubmissionService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSubmissionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		validator: validator,
		repo:      repo,
		alerts:    alerts,
		cache:     cache,
		logger:    logger,
		timeout:   cfg.Timeout,
		backoff:   cfg.Backoff,
	}
}

// Submit runs one submission through the state machine. The caller's cancellation is
// not propagated: once received, a submission runs to a terminal state or times out.
func (s *SubmissionService) Submit(ctx context.Context, payload map[string]any) (*domain.Entry, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	log := s.logger.With(zap.String("submission_id", uuid.NewString()))
	s.transition(log, StateReceived)

	flat, flattenErrs := Flatten(payload)
	if len(flattenErrs) > 0 {
		return nil, s.reject(log, &domain.ValidationError{Errors: flattenErrs})
	}
	descriptor, err := s.validator.Resolve(flat)
	if err != nil {
		return nil, s.reject(log, err)
	}
	log = log.With(zap.String("condition", string(descriptor.Type)))

	entry, err := s.validator.Validate(flat, descriptor)
	if err != nil {
		return nil, s.reject(log, err)
	}
	log = log.With(zap.Int64("patient_id", entry.PatientID))
	s.transition(log, StateValidated)

	classification := domain.Classify(entry, descriptor)
	entry.UrgencyStatus = classification.Level
	s.transition(log, StateClassified,
		zap.String("urgency", string(classification.Level)),
		zap.String("rule_id", classification.RuleID))

	if err := s.persist(ctx, log, entry); err != nil {
		log.Error("submission failed",
			zap.String("state", string(StateFailed)),
			zap.Error(err))
		return nil, err
	}
	s.transition(log, StatePersisted, zap.Int64("entry_id", entry.ID))

	s.afterPersist(ctx, log, entry, classification)

	log.Info("submission accepted",
		zap.String("state", string(StateAcked)),
		zap.Int64("entry_id", entry.ID),
		zap.String("urgency", string(entry.UrgencyStatus)))
	return entry, nil
}

// Wait blocks until in-flight alert publications finish
func (s *SubmissionService) Wait() {
	s.pending.Wait()
}

func (s *SubmissionService) transition(log *zap.Logger, state SubmissionState, fields ...zap.Field) {
	log.Debug("submission transition", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}

func (s *SubmissionService) reject(log *zap.Logger, err error) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		log.Warn("submission rejected",
			zap.String("state", string(StateRejected)),
			zap.Strings("fields", verr.Fields()))
	}
	return err
}

// persist inserts the entry, retrying only while storage is unavailable
func (s *SubmissionService) persist(ctx context.Context, log *zap.Logger, entry *domain.Entry) error {
	for attempt := 0; ; attempt++ {
		err := s.repo.Insert(ctx, entry)
		if err == nil {
			return nil
		}
		if !domain.IsRetriable(err) || attempt >= s.backoff.Retries {
			return err
		}

		delay := s.backoff.Delay(attempt)
		log.Warn("storage unavailable, retrying insert",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w: submission timed out after %d attempts: %v", domain.ErrDeadlineExceeded, attempt+1, err)
		}
	}
}

func (s *SubmissionService) afterPersist(ctx context.Context, log *zap.Logger, entry *domain.Entry, classification domain.Classification) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Warn("failed to invalidate dashboard stats cache", zap.Error(err))
		}
	}

	if s.alerts == nil || !classification.Level.RequiresAlert() {
		return
	}

	// Publish asynchronously so the response does not wait on the broker
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		alertCtx, cancel := context.WithTimeout(context.Background(), alertPublishTimeout)
		defer cancel()
		if err := s.alerts.PublishAlert(alertCtx, entry, classification); err != nil {
			log.Error("failed to publish urgency alert", zap.Error(err))
			return
		}
		log.Info("urgency alert published", zap.String("rule_id", classification.RuleID))
	}()
}
