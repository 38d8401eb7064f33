package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafamrn/solarsight/pkg/aggregate"
	"github.com/rafamrn/solarsight/pkg/cache"
	"github.com/rafamrn/solarsight/pkg/performance"
	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

// stubClient serves fixed data for route-level tests.
type stubClient struct{}

func (stubClient) Kind() provider.Kind                    { return provider.KindSungrow }
func (stubClient) Authenticate(ctx context.Context) error { return nil }

func (stubClient) ListPlants(ctx context.Context) ([]provider.Plant, error) {
	return []provider.Plant{
		{ID: "100", Name: "Alpha", TodayKWh: 12.5, Health: provider.HealthNormal, Provider: provider.KindSungrow},
	}, nil
}

func (stubClient) GetGeneration(ctx context.Context) (*provider.GenerationSeries, error) {
	return &provider.GenerationSeries{
		Daily: []provider.GenerationSample{{PlantID: "100", Period: "20250614", EnergyKWh: 30}},
	}, nil
}

func (stubClient) GetDeviceDetails(ctx context.Context, plantID string) (*provider.DeviceSnapshot, error) {
	if plantID != "100" {
		return nil, provider.ErrPlantNotFound
	}
	return &provider.DeviceSnapshot{PlantID: plantID}, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.CreateIntegration(context.Background(), &store.Integration{
		AccountID: 1, Provider: "sungrow", Active: true,
	}))

	agg := aggregate.New(st, tokens.NewManager(st), zerolog.Nop())
	agg.SetFactory(func(integ *store.Integration) (provider.Client, error) {
		return stubClient{}, nil
	})

	c := cache.New(cache.DefaultWindow, zerolog.Nop(), cache.NewMemoryTier(), cache.NewDurableTier(st))
	perf := performance.NewService(agg, st, c, zerolog.Nop())
	return New(agg, perf, st, zerolog.Nop()), st
}

func doRequest(t *testing.T, s *Server, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("X-Account-ID", "1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccountHeaderRequired(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/plants", nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/plants", nil)
	req.Header.Set("X-Account-ID", "not-a-number")
	resp, err = s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegrationsLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/integrations",
		strings.NewReader(`{"provider": "deye", "username": "ops@acme", "secret": "hunter2", "app_id": "345"}`))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created store.Integration
	decodeBody(t, resp, &created)
	assert.NotZero(t, created.ID)
	assert.True(t, created.Active)

	resp = doRequest(t, s, http.MethodGet, "/integrations", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var integs []store.Integration
	decodeBody(t, resp, &integs)
	require.Len(t, integs, 2, "seeded row plus the new one")

	resp = doRequest(t, s, http.MethodDelete, fmt.Sprintf("/integrations/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, s, http.MethodDelete, fmt.Sprintf("/integrations/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateIntegrationValidation(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/integrations",
		strings.NewReader(`{"provider": "acme", "username": "u", "secret": "s"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/integrations",
		strings.NewReader(`{"provider": "deye", "username": "", "secret": "s"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlantsRoute(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/plants", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var plants []provider.Plant
	decodeBody(t, resp, &plants)
	require.Len(t, plants, 1)
	assert.Equal(t, "Alpha", plants[0].Name)
}

func TestDevicesRoute_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/plants/999/devices", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPerformanceRoute(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/performance/daily", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report performance.Report
	decodeBody(t, resp, &report)
	require.Len(t, report.Plants, 1)
	assert.Equal(t, "100", report.Plants[0].PlantID)
	assert.Equal(t, 30.0, report.Plants[0].EnergyKWh)
	assert.True(t, report.Plants[0].NoProjection, "no projection seeded")
}

func TestRecalculateRoute(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodPost, "/performance/recalculate",
		strings.NewReader(`{"plant_ids": ["100"]}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var reports map[string]performance.Report
	decodeBody(t, resp, &reports)
	assert.Len(t, reports, 3)
}

func TestProjectionsRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/projections",
		strings.NewReader(`{"plant_id": "100", "year": 2025, "months": [{"month": 6, "kwh": 900}]}`))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, s, http.MethodGet, "/projections/100?year=2025", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []store.MonthlyProjection
	decodeBody(t, resp, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, 900.0, rows[0].ProjectionKWh)
}

func TestSaveProjectionsRecomputesPlant(t *testing.T) {
	s, st := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/projections",
		strings.NewReader(`{"plant_id": "100", "year": 2025, "months": [{"month": 6, "kwh": 900}]}`))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	for _, kind := range performance.Kinds {
		entry, err := st.GetCacheEntry(context.Background(), 1, kind)
		require.NoError(t, err)
		assert.NotNil(t, entry, "save should warm the %s report", kind)
	}
}

func TestProjectionsValidation(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/projections",
		strings.NewReader(`{"plant_id": "100", "year": 2025, "months": [{"month": 13, "kwh": 900}]}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, s, http.MethodPost, "/projections",
		strings.NewReader(`{"plant_id": "", "year": 2025, "months": []}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerationRoute(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/generation", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var series provider.GenerationSeries
	decodeBody(t, resp, &series)
	require.Len(t, series.Daily, 1)
}

func TestGenerationDayRoute_RequiresPlantID(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/generation/day", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerationDayRoute_NoHistorian(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/generation/day?plant_id=100", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "stub client serves no calendar history")
}
