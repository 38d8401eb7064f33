package deye

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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

// tokenStore keeps token and company state in memory.
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

func (f *tokenStore) SaveCompanyID(ctx context.Context, id int64, companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integ.CompanyID = companyID
	return nil
}

func (f *tokenStore) companyID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.integ.CompanyID
}

func newTestClient(t *testing.T, handler http.Handler, companyID string) (*Client, *tokenStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	fs := &tokenStore{integ: store.Integration{
		ID: 1, AccountID: 1, Provider: "deye",
		Username: "user@example.com", Secret: "pw",
		AppID: "app-1", AppSecret: "shh", CompanyID: companyID, Active: true,
	}}
	integ := fs.integ
	tm := tokens.NewManager(fs)
	c := New(&integ, tm, fs, zerolog.Nop(), WithBaseURL(srv.URL))
	return c, fs
}

func TestLogin_TwoPhaseDiscoversCompanyID(t *testing.T) {
	var tokenCalls []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/account/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app-1", r.URL.Query().Get("appId"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tokenCalls = append(tokenCalls, body)

		tok := "user-token"
		if _, ok := body["companyId"]; ok {
			tok = "business-token"
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessToken": tok})
	})
	mux.HandleFunc("/account/info", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"orgInfoList": []map[string]any{{"companyId": 777, "name": "Acme Solar"}},
		})
	})

	c, fs := newTestClient(t, mux, "")
	require.NoError(t, c.Authenticate(context.Background()))

	require.Len(t, tokenCalls, 2, "user login then business login")
	assert.NotContains(t, tokenCalls[0], "companyId")
	assert.Equal(t, "777", tokenCalls[1]["companyId"])
	assert.Equal(t, "777", fs.companyID(), "company id must be persisted")
}

func TestLogin_KnownCompanySkipsLookup(t *testing.T) {
	var infoCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/account/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["companyId"])
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessToken": "business-token"})
	})
	mux.HandleFunc("/account/info", func(w http.ResponseWriter, r *http.Request) {
		infoCalls++
	})

	c, _ := newTestClient(t, mux, "42")
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Zero(t, infoCalls, "organization lookup must be skipped")
}

func TestLogin_NoOrganization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/account/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessToken": "user-token"})
	})
	mux.HandleFunc("/account/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "orgInfoList": []map[string]any{}})
	})

	c, _ := newTestClient(t, mux, "")
	err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, provider.ErrAuthenticationFailed)
}

func TestListPlants_FillsTodayEnergyFromHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/account/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessToken": "tok"})
	})
	mux.HandleFunc("/station/list", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"stationList": []map[string]any{{
				"id":                1001,
				"name":              "Sitio Beta",
				"locationAddress":   "Ceará",
				"installedCapacity": 80.0,
				"generationPower":   6300.0,
				"totalGeneration":   2400.0,
				"connectionStatus":  "ALL_OFFLINE",
			}},
		})
	})
	mux.HandleFunc("/station/history", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"itemList": []map[string]any{{"year": 2025, "month": 6, "day": 15, "generationValue": 18.7}},
		})
	})

	c, _ := newTestClient(t, mux, "42")
	plants, err := c.ListPlants(context.Background())
	require.NoError(t, err)
	require.Len(t, plants, 1)

	p := plants[0]
	assert.Equal(t, "1001", p.ID)
	assert.Equal(t, "Sitio Beta", p.Name)
	assert.Equal(t, 80.0, p.CapacityKW)
	assert.Equal(t, 6.3, p.PowerKW, "watts convert to kilowatts")
	assert.Equal(t, 18.7, p.TodayKWh)
	assert.Equal(t, provider.HealthFault, p.Health, "a fully offline plant counts as faulty")
	assert.Equal(t, provider.KindDeye, p.Provider)
}

func TestConnectionStatusMapping(t *testing.T) {
	assert.Equal(t, provider.HealthNormal, connectionHealth("NORMAL"))
	assert.Equal(t, provider.HealthAlarm, connectionHealth("ALARM"))
	assert.Equal(t, provider.HealthAlarm, connectionHealth("PARTIAL_OFFLINE"))
	assert.Equal(t, provider.HealthFault, connectionHealth("ERROR"))
	assert.Equal(t, provider.HealthFault, connectionHealth("ALL_OFFLINE"))
	assert.Equal(t, provider.HealthUnknown, connectionHealth("SOMETHING_NEW"))
}

func TestGenerationForMonth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/account/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessToken": "tok"})
	})
	mux.HandleFunc("/station/history", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(granularityDaily), body["granularity"])
		assert.Equal(t, "2025-05-01", body["startAt"])
		assert.Equal(t, "2025-05-31", body["endAt"])

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"itemList": []map[string]any{
				{"year": 2025, "month": 5, "day": 1, "generationValue": 20.0},
				{"year": 2025, "month": 5, "day": 2, "generationValue": 25.5},
			},
		})
	})

	c, _ := newTestClient(t, mux, "42")
	c.now = func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) }

	series, err := c.GenerationForMonth(context.Background(), "1001", 2025, time.May)
	require.NoError(t, err)
	assert.Equal(t, "2025-05", series.Period)
	require.Len(t, series.Points, 2)
	assert.Equal(t, "2025-05-01", series.Points[0].Label)
	assert.Equal(t, 45.5, series.TotalKWh)
}

func TestErrorEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/account/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "accessToken": "tok"})
	})
	mux.HandleFunc("/station/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "code": "2101", "msg": "quota exceeded"})
	})

	c, _ := newTestClient(t, mux, "42")
	_, err := c.ListPlants(context.Background())
	require.Error(t, err)
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "quota exceeded")
}
