package services

import (
	"context"
	"sort"
	"time"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LatestCriticalLimit caps the critical entries shown on the dashboard
const LatestCriticalLimit = 10

// QueryService implements the read path. Queries without a condition fan out to
// every registered condition store and merge newest first.
type QueryService struct {
	registry *domain.Registry
	repo     ports.EntryRepository
	cache    ports.StatsCache
	logger   *zap.Logger
	now      func() time.Time
}

// NewQueryService creates a new query service; cache may be nil
func NewQueryService(registry *domain.Registry, repo ports.EntryRepository, cache ports.StatsCache, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		registry: registry,
		repo:     repo,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// ListEntries returns one page of entries, newest first
func (s *QueryService) ListEntries(ctx context.Context, condition string, filter ports.EntryFilter) (*ports.Page, error) {
	descriptors, err := s.resolve(condition)
	if err != nil {
		return nil, err
	}
	filter = clampPage(filter)
	limit, offset := filter.Limit, filter.Offset

	// Each store returns its first offset+limit rows so the merged page is exact
	perStore := filter
	if len(descriptors) > 1 {
		perStore.Limit = offset + limit
		perStore.Offset = 0
	}

	lists := make([][]*domain.Entry, len(descriptors))
	counts := make([]int64, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		g.Go(func() error {
			entries, err := s.repo.List(gctx, d.Type, perStore)
			if err != nil {
				return err
			}
			lists[i] = entries
			return nil
		})
		g.Go(func() error {
			n, err := s.repo.Count(gctx, d.Type, filter)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	data := lists[0]
	if len(descriptors) > 1 {
		data = page(s.merge(lists), offset, limit)
	}
	return ports.NewPage(data, total, limit, offset), nil
}

// GetEntry retrieves a single entry
func (s *QueryService) GetEntry(ctx context.Context, condition string, id int64) (*domain.Entry, error) {
	d, err := s.registry.Lookup(condition)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, d.Type, id)
}

// LatestPerPatient returns the newest entry of each patient for one condition
func (s *QueryService) LatestPerPatient(ctx context.Context, condition string) (map[int64]*domain.Entry, error) {
	d, err := s.registry.Lookup(condition)
	if err != nil {
		return nil, err
	}
	return s.repo.LatestPerPatient(ctx, d.Type)
}

// EntryExists checks whether a patient already submitted for a date
func (s *QueryService) EntryExists(ctx context.Context, condition string, patientID int64, date string) (bool, error) {
	d, err := s.registry.Lookup(condition)
	if err != nil {
		return false, err
	}
	return s.repo.Exists(ctx, d.Type, patientID, date)
}

// PatientHistory returns a patient's entries across every condition, newest first
func (s *QueryService) PatientHistory(ctx context.Context, patientID int64, since, until string) ([]*domain.Entry, error) {
	descriptors := s.registry.Descriptors()
	filter := ports.EntryFilter{PatientID: &patientID, From: since, To: until}

	lists := make([][]*domain.Entry, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		g.Go(func() error {
			entries, err := s.repo.List(gctx, d.Type, filter)
			if err != nil {
				return err
			}
			lists[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.merge(lists), nil
}

// DashboardStats aggregates every condition store. Results are served from the stats
// cache when one is configured; cache failures fall through to the stores.
func (s *QueryService) DashboardStats(ctx context.Context) (*ports.DashboardStats, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.Warn("dashboard stats cache read failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	descriptors := s.registry.Descriptors()

	stats := make([]*ports.ConditionStats, len(descriptors))
	critical := make([][]*domain.Entry, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		g.Go(func() error {
			st, err := s.repo.Stats(gctx, d.Type, midnight)
			if err != nil {
				return err
			}
			stats[i] = st
			return nil
		})
		g.Go(func() error {
			entries, err := s.repo.List(gctx, d.Type, ports.EntryFilter{Urgency: domain.UrgencyCritical, Limit: LatestCriticalLimit})
			if err != nil {
				return err
			}
			critical[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ports.DashboardStats{
		ByCondition: make(map[domain.ConditionType]int64, len(descriptors)),
		ByUrgency:   make(map[domain.Urgency]int64, 4),
		GeneratedAt: now,
	}
	for _, level := range domain.UrgencyLevels() {
		result.ByUrgency[level] = 0
	}
	for i, d := range descriptors {
		st := stats[i]
		if st == nil {
			st = &ports.ConditionStats{}
		}
		result.ByCondition[d.Type] = st.Total
		result.TotalEntries += st.Total
		result.EntriesToday += st.Since
		for level, n := range st.ByUrgency {
			result.ByUrgency[level] += n
		}
	}
	result.LatestCritical = page(s.merge(critical), 0, LatestCriticalLimit)

	if s.cache != nil {
		if err := s.cache.Set(ctx, result); err != nil {
			s.logger.Warn("dashboard stats cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// Conditions lists the registered condition descriptors
func (s *QueryService) Conditions() []*domain.Descriptor {
	return s.registry.Descriptors()
}

func (s *QueryService) resolve(condition string) ([]*domain.Descriptor, error) {
	if condition == "" {
		return s.registry.Descriptors(), nil
	}
	d, err := s.registry.Lookup(condition)
	if err != nil {
		return nil, err
	}
	return []*domain.Descriptor{d}, nil
}

// merge orders entries from several stores by submitted_at desc, then registry order,
// then id desc
func (s *QueryService) merge(lists [][]*domain.Entry) []*domain.Entry {
	rank := make(map[domain.ConditionType]int)
	for i, ct := range s.registry.Conditions() {
		rank[ct] = i
	}

	var merged []*domain.Entry
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.After(b.SubmittedAt)
		}
		if a.ConditionType != b.ConditionType {
			return rank[a.ConditionType] < rank[b.ConditionType]
		}
		return a.ID > b.ID
	})
	if merged == nil {
		merged = []*domain.Entry{}
	}
	return merged
}

func page(entries []*domain.Entry, offset, limit int) []*domain.Entry {
	if offset >= len(entries) {
		return []*domain.Entry{}
	}
	end := offset + limit
	if limit <= 0 || end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end]
}

func clampPage(f ports.EntryFilter) ports.EntryFilter {
	if f.Limit <= 0 {
		f.Limit = ports.DefaultLimit
	}
	if f.Limit > ports.MaxLimit {
		f.Limit = ports.MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
