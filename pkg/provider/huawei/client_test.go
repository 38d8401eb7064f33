package huawei

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

type tokenStore struct {
	mu    sync.Mutex
	integ store.Integration
}

func (f *tokenStore) GetIntegration(ctx context.Context, id int64) (*store.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.integ
	return &cp, nil
}

func (f *tokenStore) SaveToken(ctx context.Context, id int64, token string, issuedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integ.Token = token
	f.integ.TokenIssuedAt = sql.NullTime{Time: issuedAt, Valid: true}
	return nil
}

func (f *tokenStore) ClearToken(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integ.Token = ""
	f.integ.TokenIssuedAt = sql.NullTime{}
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	integ := &store.Integration{
		ID: 1, AccountID: 1, Provider: "huawei",
		Username: "apiuser", Secret: "system-code", Active: true,
	}
	tm := tokens.NewManager(&tokenStore{integ: *integ})
	return New(integ, tm, zerolog.Nop(), WithBaseURL(srv.URL))
}

func loginHandler(logins *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*logins++
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["userName"] != "apiuser" || body["systemCode"] != "system-code" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "failCode": 20001})
			return
		}
		w.Header().Set("xsrf-token", "session-token")
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}
}

func TestLogin_TokenComesFromHeader(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler(&logins))
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-token", r.Header.Get("xsrf-token"))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"list": []map[string]any{}},
		})
	})

	c := newTestClient(t, mux)
	_, err := c.ListPlants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, logins)
}

func TestLogin_BadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "failCode": 20001})
	})

	c := newTestClient(t, mux)
	err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, provider.ErrAuthenticationFailed)
}

func TestFailCode305_ForcesRelogin(t *testing.T) {
	var logins, stationCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler(&logins))
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		stationCalls++
		if stationCalls == 1 {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "failCode": 305, "message": "relogin"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"list": []map[string]any{}},
		})
	})

	c := newTestClient(t, mux)
	_, err := c.ListPlants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, logins, "the in-band session-expired code forces one re-login")
	assert.Equal(t, 2, stationCalls)
}

func TestListPlants_EnrichesWithKpiAndLivePower(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler(&logins))
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{"list": []map[string]any{{
				"plantCode":    "NE=1001",
				"plantName":    "Usina Gama",
				"plantAddress": "Goiás",
				"capacity":     0.075,
			}}},
		})
	})
	mux.HandleFunc("/getStationRealKpi", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "NE=1001", body["stationCodes"])
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{{
				"stationCode": "NE=1001",
				"dataItemMap": map[string]any{
					"day_power":         320.5,
					"total_power":       48000.0,
					"total_income":      1234.5,
					"real_health_state": 3,
				},
			}},
		})
	})
	mux.HandleFunc("/getDevList", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"id": 11, "devTypeId": 1, "devName": "INV-1"},
				{"id": 12, "devTypeId": 1, "devName": "INV-2"},
				{"id": 13, "devTypeId": 62, "devName": "Logger"},
			},
		})
	})
	mux.HandleFunc("/getDevRealKpi", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "11,12", body["devIds"], "only inverters are queried")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"devId": 11, "dataItemMap": map[string]any{"active_power": 20.5}},
				{"devId": 12, "dataItemMap": map[string]any{"active_power": 10.0}},
			},
		})
	})

	c := newTestClient(t, mux)
	plants, err := c.ListPlants(context.Background())
	require.NoError(t, err)
	require.Len(t, plants, 1)

	p := plants[0]
	assert.Equal(t, "NE=1001", p.ID)
	assert.Equal(t, "Usina Gama", p.Name)
	assert.Equal(t, 75.0, p.CapacityKW, "megawatts convert to kilowatts")
	assert.Equal(t, 320.5, p.TodayKWh)
	assert.Equal(t, 48000.0, p.TotalKWh)
	assert.Equal(t, 1234.5, p.Revenue)
	assert.Equal(t, 30.5, p.PowerKW, "summed inverter active power")
	assert.Equal(t, provider.HealthNormal, p.Health)
	assert.Equal(t, provider.KindHuawei, p.Provider)
}

func TestHealthStateMapping(t *testing.T) {
	assert.Equal(t, provider.HealthNormal, healthState(3))
	assert.Equal(t, provider.HealthFault, healthState(2))
	assert.Equal(t, provider.HealthFault, healthState(1), "disconnected counts as faulty")
	assert.Equal(t, provider.HealthUnknown, healthState(0))
}

func TestGetGeneration_TakesLastReadingPerDeviceDay(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler(&logins))
	mux.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"list": []map[string]any{{"plantCode": "NE=1", "plantName": "X"}}},
		})
	})
	mux.HandleFunc("/getDevList", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []map[string]any{{"id": 11, "devTypeId": 1}},
		})
	})
	day := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	mux.HandleFunc("/getDevHistoryKpi", func(w http.ResponseWriter, r *http.Request) {
		// Two cumulative samples for the same day: only the later one counts.
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": []map[string]any{
				{"devId": 11, "collectTime": day.Add(10 * time.Hour).UnixMilli(), "dataItemMap": map[string]any{"day_cap": 9000}},
				{"devId": 11, "collectTime": day.Add(18 * time.Hour).UnixMilli(), "dataItemMap": map[string]any{"day_cap": 21000}},
			},
		})
	})

	c := newTestClient(t, mux)
	c.now = func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) }

	series, err := c.GetGeneration(context.Background())
	require.NoError(t, err)
	require.Len(t, series.Daily, 1)
	assert.Equal(t, "NE=1", series.Daily[0].PlantID)
	assert.Equal(t, 21.0, series.Daily[0].EnergyKWh, "cumulative Wh converts to kWh")
}
