package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IANDYI/progress-service/internal/adapters/repository"
	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Submit(ctx context.Context, payload map[string]any) (*domain.Entry, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Entry), args.Error(1)
}

// recordingAcknowledger captures how a delivery was settled
type recordingAcknowledger struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func TestHandleDelivery(t *testing.T) {
	persisted := domain.NewEntry(domain.ConditionGeneral)
	persisted.ID = 1

	tests := []struct {
		name      string
		body      string
		result    *domain.Entry
		err       error
		submitted bool
		outcome   string
		recorded  string
	}{
		{
			name:      "persisted entry is acked",
			body:      `{"condition_type":"general","patient_id":1}`,
			result:    persisted,
			submitted: true,
			outcome:   repository.OutcomeAcked,
			recorded:  "general/low",
		},
		{
			name:     "malformed body is dropped",
			body:     `not json`,
			outcome:  repository.OutcomeDropped,
			recorded: "TypeViolation",
		},
		{
			name:      "invalid submission is dropped",
			body:      `{"condition_type":"general"}`,
			err:       &domain.ValidationError{Errors: []domain.FieldError{{Field: "patient_id", Code: domain.CodeMissingRequiredField}}},
			submitted: true,
			outcome:   repository.OutcomeDropped,
			recorded:  "MissingRequiredField",
		},
		{
			name:      "storage outage is requeued",
			body:      `{"condition_type":"general","patient_id":1}`,
			err:       fmt.Errorf("insert: %w", domain.ErrStorageUnavailable),
			submitted: true,
			outcome:   repository.OutcomeRequeued,
			recorded:  "StorageUnavailable",
		},
		{
			name:      "deadline is requeued",
			body:      `{"condition_type":"general","patient_id":1}`,
			err:       domain.ErrDeadlineExceeded,
			submitted: true,
			outcome:   repository.OutcomeRequeued,
			recorded:  "DeadlineExceeded",
		},
		{
			name:      "integrity violation is dropped",
			body:      `{"condition_type":"general","patient_id":1}`,
			err:       fmt.Errorf("insert: %w", domain.ErrIntegrityViolation),
			submitted: true,
			outcome:   repository.OutcomeDropped,
			recorded:  "IntegrityViolation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submissions := new(MockSubmissionService)
			if tt.submitted {
				if tt.result != nil {
					submissions.On("Submit", mock.Anything, mock.Anything).Return(tt.result, nil)
				} else {
					submissions.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.err)
				}
			}

			var outcome string
			consumer := repository.NewDeliveryHandler(submissions, zap.NewNop())
			consumer.SetObserver(func(o string, elapsed time.Duration) {
				outcome = o
				assert.GreaterOrEqual(t, elapsed, time.Duration(0))
			})
			var recorded []string
			consumer.SetSubmissionRecorder(
				func(condition, urgency string) { recorded = append(recorded, condition+"/"+urgency) },
				func(code string) { recorded = append(recorded, code) },
			)

			ack := &recordingAcknowledger{}
			consumer.HandleDelivery(context.Background(), amqp091.Delivery{
				Acknowledger: ack,
				DeliveryTag:  7,
				Body:         []byte(tt.body),
			})

			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, []string{tt.recorded}, recorded)
			switch tt.outcome {
			case repository.OutcomeAcked:
				assert.True(t, ack.acked)
				assert.False(t, ack.nacked)
			case repository.OutcomeRequeued:
				assert.True(t, ack.nacked)
				assert.True(t, ack.requeued)
			case repository.OutcomeDropped:
				assert.True(t, ack.nacked)
				assert.False(t, ack.requeued)
			}
			if !tt.submitted {
				submissions.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestSetObserver_IgnoresNil(t *testing.T) {
	consumer := repository.NewDeliveryHandler(new(MockSubmissionService), zap.NewNop())
	consumer.SetObserver(nil)

	ack := &recordingAcknowledger{}
	assert.NotPanics(t, func() {
		consumer.HandleDelivery(context.Background(), amqp091.Delivery{Acknowledger: ack, Body: []byte(`[]`)})
	})
	assert.True(t, ack.nacked)
}
