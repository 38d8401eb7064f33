// Package aggregate fans requests out across every active provider
// integration of an account and folds the results into one unified,
// provider-agnostic view of the portfolio.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/provider/deye"
	"github.com/rafamrn/solarsight/pkg/provider/huawei"
	"github.com/rafamrn/solarsight/pkg/provider/sungrow"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

// ErrNoUsableIntegration means not a single provider of the account could
// be reached. Partial failures are logged, not returned.
var ErrNoUsableIntegration = errors.New("no usable provider integration")

// ClientFactory builds a provider client for one integration. Swappable
// in tests.
type ClientFactory func(integ *store.Integration) (provider.Client, error)

// Aggregator is the cross-provider fan-out layer for one deployment.
type Aggregator struct {
	store   *store.Store
	tokens  *tokens.Manager
	log     zerolog.Logger
	factory ClientFactory

	mu      sync.Mutex
	clients map[int64]provider.Client
	timeout time.Duration
}

// New creates an aggregator with the default vendor client factory.
func New(st *store.Store, tm *tokens.Manager, log zerolog.Logger) *Aggregator {
	a := &Aggregator{
		store:   st,
		tokens:  tm,
		log:     log.With().Str("component", "aggregate").Logger(),
		clients: make(map[int64]provider.Client),
	}
	a.factory = func(integ *store.Integration) (provider.Client, error) {
		switch provider.Kind(integ.Provider) {
		case provider.KindSungrow:
			var opts []sungrow.Option
			if a.timeout > 0 {
				opts = append(opts, sungrow.WithTimeout(a.timeout))
			}
			return sungrow.New(integ, tm, log, opts...), nil
		case provider.KindDeye:
			var opts []deye.Option
			if a.timeout > 0 {
				opts = append(opts, deye.WithTimeout(a.timeout))
			}
			return deye.New(integ, tm, st, log, opts...), nil
		case provider.KindHuawei:
			var opts []huawei.Option
			if a.timeout > 0 {
				opts = append(opts, huawei.WithTimeout(a.timeout))
			}
			return huawei.New(integ, tm, log, opts...), nil
		default:
			return nil, fmt.Errorf("unknown provider %q on integration %d", integ.Provider, integ.ID)
		}
	}
	return a
}

// SetFactory swaps the vendor client factory, for tests.
func (a *Aggregator) SetFactory(f ClientFactory) { a.factory = f }

// SetProviderTimeout sets the HTTP timeout applied to clients built by
// the default factory. Call before the first request for an account.
func (a *Aggregator) SetProviderTimeout(d time.Duration) { a.timeout = d }

// DropClient evicts the cached client of a deleted or re-credentialed
// integration so the next request builds a fresh one.
func (a *Aggregator) DropClient(integrationID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, integrationID)
}

// clientsFor returns one client per active integration of the account.
// Clients are cached per integration so memoized vendor state survives
// across calls.
func (a *Aggregator) clientsFor(ctx context.Context, accountID int64) ([]provider.Client, error) {
	integs, err := a.store.ListActiveIntegrations(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(integs) == 0 {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNoUsableIntegration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	clients := make([]provider.Client, 0, len(integs))
	for i := range integs {
		integ := integs[i]
		client, ok := a.clients[integ.ID]
		if !ok {
			client, err = a.factory(&integ)
			if err != nil {
				a.log.Warn().Err(err).Int64("integration_id", integ.ID).Msg("skipping integration")
				continue
			}
			a.clients[integ.ID] = client
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNoUsableIntegration)
	}
	return clients, nil
}

// ListUnifiedPlants fetches plants from every provider concurrently and
// returns the deduplicated portfolio. A provider failure drops only that
// provider's plants.
func (a *Aggregator) ListUnifiedPlants(ctx context.Context, accountID int64) ([]provider.Plant, error) {
	clients, err := a.clientsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	results := make([][]provider.Plant, len(clients))
	errs := make([]error, len(clients))

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client provider.Client) {
			defer wg.Done()
			results[i], errs[i] = client.ListPlants(ctx)
		}(i, client)
	}
	wg.Wait()

	var plants []provider.Plant
	reached := false
	for i, err := range errs {
		if err != nil {
			a.log.Warn().Err(err).Str("provider", string(clients[i].Kind())).
				Int64("account_id", accountID).Msg("plant listing failed")
			continue
		}
		reached = true
		plants = append(plants, results[i]...)
	}
	if !reached {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNoUsableIntegration)
	}
	return UnifyPlants(plants), nil
}

// Generation fetches the rolling-window generation series from every
// provider concurrently and merges them. Sample identity stays per plant
// id, so downstream consumers can still attribute energy to the reporting
// provider's plant.
func (a *Aggregator) Generation(ctx context.Context, accountID int64) (*provider.GenerationSeries, error) {
	clients, err := a.clientsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	results := make([]*provider.GenerationSeries, len(clients))
	errs := make([]error, len(clients))

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client provider.Client) {
			defer wg.Done()
			results[i], errs[i] = client.GetGeneration(ctx)
		}(i, client)
	}
	wg.Wait()

	merged := &provider.GenerationSeries{}
	reached := false
	for i, err := range errs {
		if err != nil {
			a.log.Warn().Err(err).Str("provider", string(clients[i].Kind())).
				Int64("account_id", accountID).Msg("generation fetch failed")
			continue
		}
		reached = true
		merged.Merge(results[i])
	}
	if !reached {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrNoUsableIntegration)
	}
	return merged, nil
}

// DeviceDetails returns the realtime device snapshot for one plant, asking
// each provider in turn until one reports it.
func (a *Aggregator) DeviceDetails(ctx context.Context, accountID int64, plantID string) (*provider.DeviceSnapshot, error) {
	clients, err := a.clientsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, client := range clients {
		snap, err := client.GetDeviceDetails(ctx, plantID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, provider.ErrPlantNotFound) {
			a.log.Warn().Err(err).Str("provider", string(client.Kind())).
				Str("plant_id", plantID).Msg("device details fetch failed")
		}
	}
	return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
}

// historians returns the account's clients that can serve calendar history.
func (a *Aggregator) historians(ctx context.Context, accountID int64) ([]provider.Historian, error) {
	clients, err := a.clientsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var out []provider.Historian
	for _, client := range clients {
		if h, ok := client.(provider.Historian); ok {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		return nil, provider.ErrSeriesUnavailable
	}
	return out, nil
}

// GenerationForDay returns the intraday curve for one plant from the first
// historian that reports it.
func (a *Aggregator) GenerationForDay(ctx context.Context, accountID int64, plantID string, day time.Time) (*provider.DaySeries, error) {
	historians, err := a.historians(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, h := range historians {
		series, err := h.GenerationForDay(ctx, plantID, day)
		if err == nil {
			return series, nil
		}
		if !errors.Is(err, provider.ErrPlantNotFound) {
			a.log.Warn().Err(err).Str("plant_id", plantID).Msg("day series fetch failed")
		}
	}
	return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrSeriesUnavailable)
}

// GenerationForMonth returns per-day production for one plant and month.
func (a *Aggregator) GenerationForMonth(ctx context.Context, accountID int64, plantID string, year int, month time.Month) (*provider.CalendarSeries, error) {
	historians, err := a.historians(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, h := range historians {
		series, err := h.GenerationForMonth(ctx, plantID, year, month)
		if err == nil {
			return series, nil
		}
		if !errors.Is(err, provider.ErrPlantNotFound) {
			a.log.Warn().Err(err).Str("plant_id", plantID).Msg("month series fetch failed")
		}
	}
	return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrSeriesUnavailable)
}

// GenerationForYear returns per-month production for one plant and year.
func (a *Aggregator) GenerationForYear(ctx context.Context, accountID int64, plantID string, year int) (*provider.CalendarSeries, error) {
	historians, err := a.historians(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, h := range historians {
		series, err := h.GenerationForYear(ctx, plantID, year)
		if err == nil {
			return series, nil
		}
		if !errors.Is(err, provider.ErrPlantNotFound) {
			a.log.Warn().Err(err).Str("plant_id", plantID).Msg("year series fetch failed")
		}
	}
	return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrSeriesUnavailable)
}
