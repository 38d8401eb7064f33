// Package huawei implements the provider client for Huawei FusionSolar's
// northbound API. The session token comes back in the xsrf-token response
// header of the login call and must be echoed on every request.
package huawei

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

const (
	// DefaultBaseURL is the FusionSolar northbound gateway.
	DefaultBaseURL = "https://la5.fusionsolar.huawei.com/thirdData"

	// TokenTTL is how long FusionSolar session tokens are trusted locally.
	// The platform expires them after half an hour of issue.
	TokenTTL = 30 * time.Minute

	inverterDevType = 1
)

// Client talks to FusionSolar on behalf of one integration.
type Client struct {
	integ      *store.Integration
	tokens     *tokens.Manager
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time

	plantsMemo *provider.Memo[[]provider.Plant]
	genMemo    *provider.Memo[*provider.GenerationSeries]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API gateway URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a FusionSolar client for one integration.
func New(integ *store.Integration, tm *tokens.Manager, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		integ:      integ,
		tokens:     tm,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("provider", "huawei").Int64("integration_id", integ.ID).Logger(),
		now:        time.Now,
		plantsMemo: provider.NewMemo[[]provider.Plant](provider.DefaultMemoTTL),
		genMemo:    provider.NewMemo[*provider.GenerationSeries](provider.DefaultMemoTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind implements provider.Client.
func (c *Client) Kind() provider.Kind { return provider.KindHuawei }

// Authenticate obtains and persists a fresh session token if none is valid.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
	return err
}

// login performs the FusionSolar login and extracts the session token from
// the xsrf-token response header.
func (c *Client) login(ctx context.Context) (string, error) {
	body := map[string]any{
		"userName":   c.integ.Username,
		"systemCode": c.integ.Secret,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: login returned status %d", provider.ErrAuthenticationFailed, resp.StatusCode)
	}

	var envelope struct {
		Success  bool `json:"success"`
		FailCode int  `json:"failCode"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("%w: decode login response: %v", provider.ErrAuthenticationFailed, err)
	}
	if !envelope.Success {
		return "", fmt.Errorf("%w: login failCode %d", provider.ErrAuthenticationFailed, envelope.FailCode)
	}

	token := resp.Header.Get("xsrf-token")
	if token == "" {
		return "", fmt.Errorf("%w: login response carried no xsrf-token header", provider.ErrAuthenticationFailed)
	}
	return token, nil
}

// call issues an authenticated API call. On an auth rejection, incl. the
// platform's failCode 305 relogin signal, the token is invalidated exactly
// once and the call retried a single time.
func (c *Client) call(ctx context.Context, endpoint string, body map[string]any, out any) error {
	token, err := c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
	if err != nil {
		return err
	}

	err = c.post(ctx, endpoint, token, body, out)
	if err != nil && (provider.IsAuthError(err) || isReloginSignal(err)) {
		c.log.Warn().Str("endpoint", endpoint).Msg("session rejected, re-authenticating once")
		if ierr := c.tokens.Invalidate(ctx, c.integ); ierr != nil {
			c.log.Warn().Err(ierr).Msg("token invalidation failed")
		}
		token, err = c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
		if err != nil {
			return err
		}
		err = c.post(ctx, endpoint, token, body, out)
	}
	return err
}

// isReloginSignal reports the FusionSolar in-band session-expired code.
func isReloginSignal(err error) bool {
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Provider == provider.KindHuawei && apiErr.FailCode == 305
}

// post sends one JSON request with the session token header and decodes
// the success/failCode envelope, then the data field into out.
func (c *Client) post(ctx context.Context, endpoint, token string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xsrf-token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &provider.APIError{
			Provider:   provider.KindHuawei,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    string(raw),
		}
	}

	var envelope struct {
		Success  bool            `json:"success"`
		FailCode int             `json:"failCode"`
		Message  string          `json:"message"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return &provider.APIError{
			Provider:   provider.KindHuawei,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			FailCode:   envelope.FailCode,
			Message:    fmt.Sprintf("failCode %d: %s", envelope.FailCode, envelope.Message),
		}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// ListPlants implements provider.Client. The station list carries no live
// numbers, so each plant is enriched with its realtime KPI and the summed
// active power of its inverters.
func (c *Client) ListPlants(ctx context.Context) ([]provider.Plant, error) {
	if plants, ok := c.plantsMemo.Get(); ok {
		return plants, nil
	}

	var listed stationPage
	if err := c.call(ctx, "/stations", map[string]any{"pageNo": 1}, &listed); err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}

	plants := make([]provider.Plant, 0, len(listed.List))
	for _, raw := range listed.List {
		plant := raw.toPlant()

		var kpis []stationKpi
		if err := c.call(ctx, "/getStationRealKpi", map[string]any{"stationCodes": raw.PlantCode}, &kpis); err != nil {
			c.log.Warn().Err(err).Str("plant_id", plant.ID).Msg("station kpi fetch failed")
		} else if len(kpis) > 0 {
			kpis[0].fillPlant(&plant)
		}

		if power, err := c.livePowerKW(ctx, raw.PlantCode); err != nil {
			c.log.Warn().Err(err).Str("plant_id", plant.ID).Msg("live power fetch failed")
		} else {
			plant.PowerKW = power
		}

		plants = append(plants, plant)
	}
	c.plantsMemo.Put(plants)
	return plants, nil
}

// inverterIDs lists the inverter device ids of one station.
func (c *Client) inverterIDs(ctx context.Context, plantCode string) ([]int64, error) {
	var devices []deviceRaw
	if err := c.call(ctx, "/getDevList", map[string]any{"stationCodes": plantCode}, &devices); err != nil {
		return nil, fmt.Errorf("list devices of plant %s: %w", plantCode, err)
	}
	var ids []int64
	for _, d := range devices {
		if d.DevTypeID == inverterDevType {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// livePowerKW sums the active power of the station's inverters.
func (c *Client) livePowerKW(ctx context.Context, plantCode string) (float64, error) {
	ids, err := c.inverterIDs(ctx, plantCode)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var kpis []deviceKpi
	body := map[string]any{"devIds": joinIDs(ids), "devTypeId": inverterDevType}
	if err := c.call(ctx, "/getDevRealKpi", body, &kpis); err != nil {
		return 0, err
	}
	var kw float64
	for _, kpi := range kpis {
		kw += kpi.DataItemMap.ActivePower.Float64()
	}
	return provider.Round2(kw), nil
}

// GetGeneration implements provider.Client. All windows end on yesterday.
// Energy comes from summed inverter history, reported in Wh.
func (c *Client) GetGeneration(ctx context.Context) (*provider.GenerationSeries, error) {
	if series, ok := c.genMemo.Get(); ok {
		return series, nil
	}

	var listed stationPage
	if err := c.call(ctx, "/stations", map[string]any{"pageNo": 1}, &listed); err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}

	now := c.now()
	yesterday := now.AddDate(0, 0, -1)
	sevenStart := now.AddDate(0, 0, -8)
	thirtyStart := now.AddDate(0, 0, -31)

	series := &provider.GenerationSeries{}
	for _, raw := range listed.List {
		ids, err := c.inverterIDs(ctx, raw.PlantCode)
		if err != nil {
			c.log.Warn().Err(err).Str("plant_id", raw.PlantCode).Msg("skipping plant: device listing failed")
			continue
		}

		appendSample := func(dst *[]provider.GenerationSample, start time.Time, period string) {
			v, err := c.historyTotalKWh(ctx, ids, start, yesterday)
			if err != nil {
				c.log.Warn().Err(err).Str("plant_id", raw.PlantCode).Str("period", period).Msg("generation fetch failed")
				return
			}
			*dst = append(*dst, provider.GenerationSample{
				PlantID: raw.PlantCode, Period: period, EnergyKWh: v,
			})
		}

		appendSample(&series.Daily, yesterday, yesterday.Format("20060102"))
		appendSample(&series.SevenDay, sevenStart,
			sevenStart.Format("20060102")+" a "+yesterday.Format("20060102"))
		appendSample(&series.ThirtyDay, thirtyStart,
			thirtyStart.Format("20060102")+" a "+yesterday.Format("20060102"))
	}

	c.genMemo.Put(series)
	return series, nil
}

// historyTotalKWh sums the per-day inverter yield over [start, end].
func (c *Client) historyTotalKWh(ctx context.Context, devIDs []int64, start, end time.Time) (float64, error) {
	if len(devIDs) == 0 {
		return 0, nil
	}

	body := map[string]any{
		"devIds":      joinIDs(devIDs),
		"devTypeId":   inverterDevType,
		"startTime":   start.UnixMilli(),
		"endTime":     end.Add(24*time.Hour - time.Millisecond).UnixMilli(),
		"collectTime": start.UnixMilli(),
	}
	var points []deviceHistoryPoint
	if err := c.call(ctx, "/getDevHistoryKpi", body, &points); err != nil {
		return 0, err
	}

	// One cumulative day_cap per device per day. Take the last reading of
	// each (device, day) pair.
	type devDay struct {
		dev int64
		day string
	}
	latest := make(map[devDay]float64)
	for _, p := range points {
		key := devDay{p.DevID, time.UnixMilli(p.CollectTime).Format("20060102")}
		latest[key] = p.DataItemMap.DayCap.Float64()
	}
	var wh float64
	for _, v := range latest {
		wh += v
	}
	return provider.Round2(wh / 1000), nil
}

// GetDeviceDetails implements provider.Client with realtime inverter KPIs.
func (c *Client) GetDeviceDetails(ctx context.Context, plantID string) (*provider.DeviceSnapshot, error) {
	ids, err := c.inverterIDs(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	var kpis []deviceKpi
	body := map[string]any{"devIds": joinIDs(ids), "devTypeId": inverterDevType}
	if err := c.call(ctx, "/getDevRealKpi", body, &kpis); err != nil {
		return nil, fmt.Errorf("device details of plant %s: %w", plantID, err)
	}

	snapshot := &provider.DeviceSnapshot{PlantID: plantID, Taken: c.now()}
	for _, kpi := range kpis {
		snapshot.Points = append(snapshot.Points,
			provider.DevicePoint{Name: "active_power_kw", Value: fmt.Sprintf("%v", kpi.DataItemMap.ActivePower.Float64())},
			provider.DevicePoint{Name: "daily_energy_kwh", Value: fmt.Sprintf("%v", provider.Round2(kpi.DataItemMap.DayCap.Float64()/1000))},
			provider.DevicePoint{Name: "internal_temperature_c", Value: fmt.Sprintf("%v", kpi.DataItemMap.Temperature.Float64())},
			provider.DevicePoint{Name: "efficiency_pct", Value: fmt.Sprintf("%v", kpi.DataItemMap.Efficiency.Float64())},
		)
	}
	return snapshot, nil
}
