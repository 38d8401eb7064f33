package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/aggregate"
	"github.com/rafamrn/solarsight/pkg/cache"
	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
)

// Kinds lists every reporting window, in serving order.
var Kinds = []string{cache.KindDaily, cache.KindSevenDay, cache.KindThirtyDay}

// Service computes performance reports and keeps the result cache warm.
type Service struct {
	agg   *aggregate.Aggregator
	store *store.Store
	cache *cache.Cache
	log   zerolog.Logger
	now   func() time.Time
}

// NewService wires the performance layer over its collaborators.
func NewService(agg *aggregate.Aggregator, st *store.Store, c *cache.Cache, log zerolog.Logger) *Service {
	return &Service{
		agg:   agg,
		store: st,
		cache: c,
		log:   log.With().Str("component", "performance").Logger(),
		now:   time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Get returns the account's performance report for one window. A fresh
// cached report is served as-is unless force is set; otherwise the report
// is recomputed and written through the cache. When recomputation fails
// and a stale report exists, the stale report is served with a warning.
func (s *Service) Get(ctx context.Context, accountID int64, kind string, force bool) (*Report, error) {
	entry, fresh := s.cache.Get(ctx, accountID, kind)
	if fresh && !force {
		report, err := decodeReport(entry.Payload)
		if err == nil {
			return report, nil
		}
		s.log.Warn().Err(err).Str("kind", kind).Int64("account_id", accountID).
			Msg("cached report undecodable, recomputing")
	}

	report, err := s.compute(ctx, accountID, kind)
	if err != nil {
		if entry != nil {
			s.log.Warn().Err(err).Str("kind", kind).Int64("account_id", accountID).
				Msg("recomputation failed, serving stale report")
			return decodeReport(entry.Payload)
		}
		return nil, err
	}

	s.put(ctx, accountID, kind, report)
	return report, nil
}

// Recalculate forces a recomputation of every window. When plantIDs is
// non-empty only those plants are replaced inside each cached report;
// every other plant's rows survive untouched.
func (s *Service) Recalculate(ctx context.Context, accountID int64, plantIDs []string) (map[string]*Report, error) {
	out := make(map[string]*Report, len(Kinds))
	for _, kind := range Kinds {
		report, err := s.compute(ctx, accountID, kind)
		if err != nil {
			return nil, fmt.Errorf("recalculate %s: %w", kind, err)
		}
		if len(plantIDs) > 0 {
			report = s.mergeSubset(ctx, accountID, kind, report, plantIDs)
		}
		s.put(ctx, accountID, kind, report)
		out[kind] = report
	}
	return out, nil
}

// mergeSubset grafts the requested plants' freshly computed rows onto the
// previously cached report. Without a cached report the fresh rows for the
// requested plants stand alone.
func (s *Service) mergeSubset(ctx context.Context, accountID int64, kind string, fresh *Report, plantIDs []string) *Report {
	wanted := make(map[string]bool, len(plantIDs))
	for _, id := range plantIDs {
		wanted[id] = true
	}

	freshRows := make(map[string]PlantPerformance, len(fresh.Plants))
	for _, row := range fresh.Plants {
		if wanted[row.PlantID] {
			freshRows[row.PlantID] = row
		}
	}

	base := &Report{Kind: kind, GeneratedAt: fresh.GeneratedAt}
	if entry, _ := s.cache.Get(ctx, accountID, kind); entry != nil {
		if cached, err := decodeReport(entry.Payload); err == nil {
			base.Plants = cached.Plants
		}
	}

	merged := make([]PlantPerformance, 0, len(base.Plants)+len(freshRows))
	for _, row := range base.Plants {
		if updated, ok := freshRows[row.PlantID]; ok {
			merged = append(merged, updated)
			delete(freshRows, row.PlantID)
			continue
		}
		merged = append(merged, row)
	}
	for _, row := range fresh.Plants {
		if _, pending := freshRows[row.PlantID]; pending {
			merged = append(merged, row)
		}
	}
	base.Plants = merged
	return base
}

// compute builds one window's report from live generation data and the
// stored projections. The projection month is the month of yesterday,
// matching the windows themselves.
func (s *Service) compute(ctx context.Context, accountID int64, kind string) (*Report, error) {
	series, err := s.agg.Generation(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var samples []provider.GenerationSample
	switch kind {
	case cache.KindDaily:
		samples = series.Daily
	case cache.KindSevenDay:
		samples = series.SevenDay
	case cache.KindThirtyDay:
		samples = series.ThirtyDay
	default:
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}

	names := s.plantNames(ctx, accountID)
	anchor := s.now().AddDate(0, 0, -1)

	report := &Report{Kind: kind, GeneratedAt: s.now()}
	for _, sample := range samples {
		row := PlantPerformance{
			PlantID:   sample.PlantID,
			Name:      names[sample.PlantID],
			Period:    sample.Period,
			EnergyKWh: sample.EnergyKWh,
		}

		proj, err := s.store.GetProjection(ctx, accountID, sample.PlantID, int(anchor.Month()), anchor.Year())
		if err != nil {
			return nil, err
		}
		if proj == nil || proj.ProjectionKWh <= 0 {
			row.NoProjection = true
		} else {
			row.ExpectedKWh = ExpectedKWh(kind, proj.ProjectionKWh, anchor)
			row.Percentage = Percentage(row.EnergyKWh, row.ExpectedKWh)
		}
		report.Plants = append(report.Plants, row)
	}
	return report, nil
}

// plantNames maps plant ids to display names, best effort.
func (s *Service) plantNames(ctx context.Context, accountID int64) map[string]string {
	names := make(map[string]string)
	plants, err := s.agg.ListUnifiedPlants(ctx, accountID)
	if err != nil {
		s.log.Warn().Err(err).Int64("account_id", accountID).Msg("plant name lookup failed")
		return names
	}
	for _, p := range plants {
		names[p.ID] = p.Name
	}
	return names
}

// put encodes and writes a report through the cache tiers. Failures are
// absorbed inside the cache; the caller always keeps the report.
func (s *Service) put(ctx context.Context, accountID int64, kind string, report *Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		s.log.Error().Err(err).Str("kind", kind).Msg("report encode failed")
		return
	}
	s.cache.Put(ctx, accountID, kind, payload)
}

func decodeReport(payload []byte) (*Report, error) {
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &report, nil
}
