package ports

import (
	"context"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
)

// Listing limits
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// SubmissionService is the single entry point for writes
type SubmissionService interface {
	// Submit validates, classifies and persists one raw submission. Payloads may be flat
	// or nested under common_data/condition_data. Returns *domain.ValidationError on
	// rejection, storage sentinels on failure.
	Submit(ctx context.Context, payload map[string]any) (*domain.Entry, error)
}

// QueryService defines the read path across condition stores.
// An empty condition federates across every registered condition.
type QueryService interface {
	// ListEntries returns one page of entries, newest first
	ListEntries(ctx context.Context, condition string, filter EntryFilter) (*Page, error)

	// GetEntry retrieves a single entry
	GetEntry(ctx context.Context, condition string, id int64) (*domain.Entry, error)

	// LatestPerPatient returns the newest entry of each patient for one condition
	LatestPerPatient(ctx context.Context, condition string) (map[int64]*domain.Entry, error)

	// EntryExists checks whether a patient already submitted for a date
	EntryExists(ctx context.Context, condition string, patientID int64, date string) (bool, error)

	// PatientHistory returns a patient's entries across all conditions, newest first.
	// since and until bound submission_date and may be empty.
	PatientHistory(ctx context.Context, patientID int64, since, until string) ([]*domain.Entry, error)

	// DashboardStats returns the aggregate view for clinicians
	DashboardStats(ctx context.Context) (*DashboardStats, error)

	// Conditions lists the registered condition descriptors
	Conditions() []*domain.Descriptor
}

// Page is one slice of a listing
type Page struct {
	Data    []*domain.Entry `json:"data"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	HasMore bool            `json:"has_more"`
}

// NewPage wraps a listing result
func NewPage(data []*domain.Entry, total int64, limit, offset int) *Page {
	if data == nil {
		data = []*domain.Entry{}
	}
	return &Page{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+limit) < total,
	}
}

// DashboardStats is the clinician dashboard aggregate. Counts are point-in-time and
// not transactional across conditions.
type DashboardStats struct {
	TotalEntries   int64                          `json:"total_entries"`
	EntriesToday   int64                          `json:"entries_today"`
	ByCondition    map[domain.ConditionType]int64 `json:"by_condition"`
	ByUrgency      map[domain.Urgency]int64       `json:"by_urgency"`
	LatestCritical []*domain.Entry                `json:"latest_critical"`
	GeneratedAt    time.Time                      `json:"generated_at"`
}
