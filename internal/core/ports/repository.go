package ports

import (
	"context"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
)

// EntryFilter narrows a per-condition listing. Zero values mean "no constraint".
type EntryFilter struct {
	PatientID *int64
	From      string // Inclusive submission_date lower bound, YYYY-MM-DD
	To        string // Inclusive submission_date upper bound, YYYY-MM-DD
	Urgency   domain.Urgency
	Limit     int
	Offset    int
}

// ConditionStats is a point-in-time summary of one condition table
type ConditionStats struct {
	Total     int64
	Since     int64 // Entries submitted at or after the requested instant
	ByUrgency map[domain.Urgency]int64
}

// EntryRepository defines the interface for per-condition entry persistence
type EntryRepository interface {
	// Insert appends a validated entry. On success the entry carries its
	// assigned ID and SubmittedAt.
	Insert(ctx context.Context, entry *domain.Entry) error

	// Get retrieves one entry, domain.ErrNotFound if absent
	Get(ctx context.Context, condition domain.ConditionType, id int64) (*domain.Entry, error)

	// List retrieves entries newest first (submitted_at DESC, id DESC)
	List(ctx context.Context, condition domain.ConditionType, filter EntryFilter) ([]*domain.Entry, error)

	// Count returns the number of entries matching the filter, ignoring limit and offset
	Count(ctx context.Context, condition domain.ConditionType, filter EntryFilter) (int64, error)

	// LatestPerPatient returns the newest entry of each patient
	LatestPerPatient(ctx context.Context, condition domain.ConditionType) (map[int64]*domain.Entry, error)

	// Stats summarizes a condition table
	Stats(ctx context.Context, condition domain.ConditionType, since time.Time) (*ConditionStats, error)

	// Exists checks whether a patient already submitted an entry for the given date
	Exists(ctx context.Context, condition domain.ConditionType, patientID int64, date string) (bool, error)

	// VerifySchema checks every registered condition table against its descriptor.
	// Missing columns or tables fail with domain.ErrSchemaDrift.
	VerifySchema(ctx context.Context) error
}

// AlertPublisher defines the interface for publishing urgency alerts to RabbitMQ
type AlertPublisher interface {
	// PublishAlert publishes an alert event for an entry classified high or critical
	PublishAlert(ctx context.Context, entry *domain.Entry, classification domain.Classification) error
}

// StatsCache caches the dashboard aggregate between submissions
type StatsCache interface {
	// Get returns the cached stats, or (nil, nil) on a miss
	Get(ctx context.Context) (*DashboardStats, error)
	Set(ctx context.Context, stats *DashboardStats) error
	Invalidate(ctx context.Context) error
}
