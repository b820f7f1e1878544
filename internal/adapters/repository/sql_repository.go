package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// System columns present on every condition table, ahead of the field columns
var systemColumns = []string{"id", "condition_type", "submitted_at", "urgency_status"}

// BreakerSettings tunes the circuit breakers guarding the database
type BreakerSettings struct {
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerSettings mirrors the CIRCUIT_BREAKER_* defaults
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxRequests: 5, Interval: 60 * time.Second, Timeout: 30 * time.Second}
}

// SQLRepository implements EntryRepository using one PostgreSQL table per condition.
// Columns, scanning and filters are derived from the condition registry.
// Includes retry logic for reads and a circuit breaker per condition table.
type SQLRepository struct {
	db         *sql.DB
	registry   *domain.Registry
	logger     *zap.Logger
	breakers   map[domain.ConditionType]*gobreaker.CircuitBreaker
	schemaCB   *gobreaker.CircuitBreaker
	maxRetries int
	retryDelay time.Duration
	clock      *submissionClock
}

// Option customizes a SQLRepository
type Option func(*SQLRepository)

// WithClock replaces the clock used for submitted_at
func WithClock(now func() time.Time) Option {
	return func(r *SQLRepository) {
		r.clock.now = now
	}
}

// WithRetry sets the read retry budget
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(r *SQLRepository) {
		r.maxRetries = maxRetries
		r.retryDelay = delay
	}
}

// NewSQLRepository creates a new PostgreSQL entry store with circuit breakers
func NewSQLRepository(db *sql.DB, registry *domain.Registry, logger *zap.Logger, breaker BreakerSettings, opts ...Option) *SQLRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SQLRepository{
		db:         db,
		registry:   registry,
		logger:     logger,
		breakers:   make(map[domain.ConditionType]*gobreaker.CircuitBreaker),
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
		clock:      newSubmissionClock(time.Now),
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: breaker.MaxRequests,
			Interval:    breaker.Interval,
			Timeout:     breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			// Only transport failures count against the breaker
			IsSuccessful: func(err error) bool {
				return err == nil || !isTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				if breaker.OnStateChange != nil {
					breaker.OnStateChange(name, from, to)
				}
			},
		}
	}
	for _, ct := range registry.Conditions() {
		r.breakers[ct] = gobreaker.NewCircuitBreaker(settings(string(ct) + "_entries"))
	}
	r.schemaCB = gobreaker.NewCircuitBreaker(settings("schema"))

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// executeWithRetry retries idempotent reads on transient failures
func (r *SQLRepository) executeWithRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	for i := 0; i < r.maxRetries; i++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || ctx.Err() != nil {
			return err
		}
		if i < r.maxRetries-1 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(r.retryDelay):
			}
		}
	}
	return fmt.Errorf("operation failed after %d retries: %w", r.maxRetries, lastErr)
}

// table resolves the descriptor and breaker of a condition
func (r *SQLRepository) table(condition domain.ConditionType) (*domain.Descriptor, *gobreaker.CircuitBreaker, error) {
	d, err := r.registry.Lookup(string(condition))
	if err != nil {
		return nil, nil, err
	}
	return d, r.breakers[d.Type], nil
}

func (r *SQLRepository) selectColumns(d *domain.Descriptor) string {
	return strings.Join(ExpectedColumns(r.registry, d), ", ")
}

// Insert appends one entry inside its own transaction. submitted_at comes from the
// store clock; inserts are not retried here.
func (r *SQLRepository) Insert(ctx context.Context, entry *domain.Entry) error {
	d, cb, err := r.table(entry.ConditionType)
	if err != nil {
		return err
	}

	fields := r.registry.Fields(d)
	submittedAt := r.clock.next(d.Type)

	cols := []string{"condition_type", "submitted_at", "urgency_status"}
	args := []interface{}{string(d.Type), submittedAt, string(entry.UrgencyStatus)}
	for _, f := range fields {
		v, err := columnValue(entry, f)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrIntegrityViolation, f.Name, err)
		}
		cols = append(cols, f.Name)
		args = append(args, v)
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
		d.Table(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	result, err := cb.Execute(func() (interface{}, error) {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		var id int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return classifyError(ctx, "insert "+d.Table(), err)
	}

	entry.ID = result.(int64)
	entry.ConditionType = d.Type
	entry.SubmittedAt = submittedAt
	return nil
}

// Get retrieves a single entry by id
func (r *SQLRepository) Get(ctx context.Context, condition domain.ConditionType, id int64) (*domain.Entry, error) {
	d, cb, err := r.table(condition)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, r.selectColumns(d), d.Table())
	result, err := cb.Execute(func() (interface{}, error) {
		var entry *domain.Entry
		err := r.executeWithRetry(ctx, func() error {
			var scanErr error
			entry, scanErr = r.scanEntry(d, r.db.QueryRowContext(ctx, query, id))
			return scanErr
		})
		return entry, err
	})
	if err != nil {
		return nil, classifyError(ctx, "get "+d.Table(), err)
	}
	return result.(*domain.Entry), nil
}

// List retrieves entries newest first. A zero limit returns every match.
func (r *SQLRepository) List(ctx context.Context, condition domain.ConditionType, filter ports.EntryFilter) ([]*domain.Entry, error) {
	d, cb, err := r.table(condition)
	if err != nil {
		return nil, err
	}

	where, args := whereClause(filter)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY submitted_at DESC, id DESC`, r.selectColumns(d), d.Table(), where)
	argIndex := len(args) + 1
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		var entries []*domain.Entry
		err := r.executeWithRetry(ctx, func() error {
			var queryErr error
			entries, queryErr = r.queryEntries(ctx, d, query, args...)
			return queryErr
		})
		return entries, err
	})
	if err != nil {
		return nil, classifyError(ctx, "list "+d.Table(), err)
	}
	return result.([]*domain.Entry), nil
}

// Count returns the number of entries matching the filter
func (r *SQLRepository) Count(ctx context.Context, condition domain.ConditionType, filter ports.EntryFilter) (int64, error) {
	d, cb, err := r.table(condition)
	if err != nil {
		return 0, err
	}

	where, args := whereClause(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, d.Table(), where)
	result, err := cb.Execute(func() (interface{}, error) {
		var n int64
		err := r.executeWithRetry(ctx, func() error {
			return r.db.QueryRowContext(ctx, query, args...).Scan(&n)
		})
		return n, err
	})
	if err != nil {
		return 0, classifyError(ctx, "count "+d.Table(), err)
	}
	return result.(int64), nil
}

// LatestPerPatient returns the newest entry of each patient
func (r *SQLRepository) LatestPerPatient(ctx context.Context, condition domain.ConditionType) (map[int64]*domain.Entry, error) {
	d, cb, err := r.table(condition)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT DISTINCT ON (patient_id) %s FROM %s ORDER BY patient_id, submitted_at DESC, id DESC`,
		r.selectColumns(d), d.Table())
	result, err := cb.Execute(func() (interface{}, error) {
		var entries []*domain.Entry
		err := r.executeWithRetry(ctx, func() error {
			var queryErr error
			entries, queryErr = r.queryEntries(ctx, d, query)
			return queryErr
		})
		return entries, err
	})
	if err != nil {
		return nil, classifyError(ctx, "latest "+d.Table(), err)
	}

	latest := make(map[int64]*domain.Entry)
	for _, e := range result.([]*domain.Entry) {
		latest[e.PatientID] = e
	}
	return latest, nil
}

// Stats summarizes a condition table in one grouped query
func (r *SQLRepository) Stats(ctx context.Context, condition domain.ConditionType, since time.Time) (*ports.ConditionStats, error) {
	d, cb, err := r.table(condition)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT urgency_status, COUNT(*), COUNT(*) FILTER (WHERE submitted_at >= $1)
		FROM %s GROUP BY urgency_status`, d.Table())
	result, err := cb.Execute(func() (interface{}, error) {
		var stats *ports.ConditionStats
		err := r.executeWithRetry(ctx, func() error {
			stats = &ports.ConditionStats{ByUrgency: make(map[domain.Urgency]int64)}
			rows, err := r.db.QueryContext(ctx, query, since.UTC())
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var urgency sql.NullString
				var total, recent int64
				if err := rows.Scan(&urgency, &total, &recent); err != nil {
					return err
				}
				level := domain.Urgency(urgency.String)
				if !urgency.Valid || !domain.IsValidUrgency(level) {
					level = domain.UrgencyLow
				}
				stats.ByUrgency[level] += total
				stats.Total += total
				stats.Since += recent
			}
			return rows.Err()
		})
		return stats, err
	})
	if err != nil {
		return nil, classifyError(ctx, "stats "+d.Table(), err)
	}
	return result.(*ports.ConditionStats), nil
}

// Exists checks whether a patient already submitted an entry for a date
func (r *SQLRepository) Exists(ctx context.Context, condition domain.ConditionType, patientID int64, date string) (bool, error) {
	d, cb, err := r.table(condition)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE patient_id = $1 AND submission_date = $2)`, d.Table())
	result, err := cb.Execute(func() (interface{}, error) {
		var exists bool
		err := r.executeWithRetry(ctx, func() error {
			return r.db.QueryRowContext(ctx, query, patientID, date).Scan(&exists)
		})
		return exists, err
	})
	if err != nil {
		return false, classifyError(ctx, "exists "+d.Table(), err)
	}
	return result.(bool), nil
}

func whereClause(filter ports.EntryFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.PatientID != nil {
		add("patient_id = $%d", *filter.PatientID)
	}
	if filter.From != "" {
		add("submission_date >= $%d", filter.From)
	}
	if filter.To != "" {
		add("submission_date <= $%d", filter.To)
	}
	if filter.Urgency != "" {
		add("urgency_status = $%d", string(filter.Urgency))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *SQLRepository) queryEntries(ctx context.Context, d *domain.Descriptor, query string, args ...interface{}) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*domain.Entry{}
	for rows.Next() {
		e, err := r.scanEntry(d, rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans the system columns followed by every field column of a descriptor
func (r *SQLRepository) scanEntry(d *domain.Descriptor, row rowScanner) (*domain.Entry, error) {
	var (
		id            int64
		conditionType sql.NullString
		submittedAt   time.Time
		urgency       sql.NullString
	)
	fields := r.registry.Fields(d)
	targets := make([]interface{}, 0, len(systemColumns)+len(fields))
	targets = append(targets, &id, &conditionType, &submittedAt, &urgency)
	for _, f := range fields {
		targets = append(targets, scanTarget(f.Kind))
	}

	if err := row.Scan(targets...); err != nil {
		return nil, err
	}

	entry := domain.NewEntry(d.Type)
	entry.ID = id
	entry.SubmittedAt = submittedAt.UTC()
	// Historical rows may carry no urgency
	if urgency.Valid && domain.IsValidUrgency(domain.Urgency(urgency.String)) {
		entry.UrgencyStatus = domain.Urgency(urgency.String)
	}

	for i, f := range fields {
		v, ok, err := targetValue(f.Kind, targets[len(systemColumns)+i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		if !ok {
			continue
		}
		switch f.Name {
		case domain.FieldPatientID:
			entry.PatientID = v.(int64)
		case domain.FieldPatientName:
			entry.PatientName = v.(string)
		case domain.FieldSubmissionDate:
			entry.SubmissionDate = v.(string)
		default:
			entry.Set(f.Name, v)
		}
	}
	return entry, nil
}

// columnValue converts an entry field to its column parameter
func columnValue(entry *domain.Entry, f domain.FieldSpec) (interface{}, error) {
	switch f.Name {
	case domain.FieldPatientID:
		return entry.PatientID, nil
	case domain.FieldPatientName:
		return entry.PatientName, nil
	case domain.FieldSubmissionDate:
		return entry.SubmissionDate, nil
	}

	v, ok := entry.Value(f.Name)
	if !ok {
		return nil, nil
	}
	switch f.Kind {
	case domain.KindMedications, domain.KindSymptoms:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

func scanTarget(kind domain.FieldKind) interface{} {
	switch kind {
	case domain.KindInteger:
		return new(sql.NullInt64)
	case domain.KindDecimal:
		return new(sql.NullFloat64)
	case domain.KindBool:
		return new(sql.NullBool)
	case domain.KindDate:
		return new(dateColumn)
	default:
		return new(sql.NullString)
	}
}

func targetValue(kind domain.FieldKind, target interface{}) (interface{}, bool, error) {
	switch t := target.(type) {
	case *sql.NullInt64:
		return t.Int64, t.Valid, nil
	case *sql.NullFloat64:
		return t.Float64, t.Valid, nil
	case *sql.NullBool:
		return t.Bool, t.Valid, nil
	case *dateColumn:
		return t.Date, t.Valid, nil
	case *sql.NullString:
		if !t.Valid {
			return nil, false, nil
		}
		switch kind {
		case domain.KindMedications:
			var meds map[string]domain.Medication
			if err := json.Unmarshal([]byte(t.String), &meds); err != nil {
				return nil, false, err
			}
			return meds, len(meds) > 0, nil
		case domain.KindSymptoms:
			symptoms, err := domain.DecodeSymptoms([]byte(t.String))
			if err != nil {
				return nil, false, err
			}
			return symptoms, len(symptoms) > 0, nil
		default:
			return t.String, true, nil
		}
	}
	return nil, false, fmt.Errorf("unsupported scan target %T", target)
}

// dateColumn scans DATE columns into their YYYY-MM-DD form
type dateColumn struct {
	Date  string
	Valid bool
}

func (c *dateColumn) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		c.Date, c.Valid = "", false
		return nil
	case time.Time:
		c.Date, c.Valid = v.Format(domain.DateLayout), true
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into a date", src)
	}
}

func (c *dateColumn) parse(s string) error {
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return err
	}
	c.Date, c.Valid = t.Format(domain.DateLayout), true
	return nil
}

// submissionClock hands out submitted_at values that are UTC, microsecond precise and
// strictly increasing per condition within this process
type submissionClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[domain.ConditionType]time.Time
}

func newSubmissionClock(now func() time.Time) *submissionClock {
	return &submissionClock{now: now, last: make(map[domain.ConditionType]time.Time)}
}

func (c *submissionClock) next(condition domain.ConditionType) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if last, ok := c.last[condition]; ok && !t.After(last) {
		t = last.Add(time.Microsecond)
	}
	c.last[condition] = t
	return t
}

// Ensure SQLRepository implements the interface
var _ ports.EntryRepository = (*SQLRepository)(nil)
