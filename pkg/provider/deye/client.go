// Package deye implements the provider client for the Deye Cloud open API.
// Deye logins are two-phase: a user-scoped token is only good for looking
// up the organization, and the business token requires logging in again
// with that organization's company id.
package deye

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

const (
	// DefaultBaseURL is the Deye Cloud developer gateway.
	DefaultBaseURL = "https://us1-developer.deyecloud.com/v1.0"

	// TokenTTL is how long Deye business tokens are trusted locally.
	TokenTTL = 2 * time.Hour

	pageSize = 50
)

// CompanyStore persists the organization id discovered during login.
// *store.Store satisfies it.
type CompanyStore interface {
	SaveCompanyID(ctx context.Context, integrationID int64, companyID string) error
}

// Client talks to Deye Cloud on behalf of one integration.
type Client struct {
	integ      *store.Integration
	tokens     *tokens.Manager
	companies  CompanyStore
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

// New creates a Deye client for one integration.
func New(integ *store.Integration, tm *tokens.Manager, companies CompanyStore, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		integ:      integ,
		tokens:     tm,
		companies:  companies,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("provider", "deye").Int64("integration_id", integ.ID).Logger(),
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
func (c *Client) Kind() provider.Kind { return provider.KindDeye }

// Authenticate obtains and persists a fresh business token if none is valid.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
	return err
}

// login performs the full Deye handshake. The company id is discovered on
// first login and persisted, so later logins skip the organization lookup.
func (c *Client) login(ctx context.Context) (string, error) {
	if c.integ.CompanyID == "" {
		userToken, err := c.obtainToken(ctx, "")
		if err != nil {
			return "", err
		}
		companyID, err := c.lookupCompanyID(ctx, userToken)
		if err != nil {
			return "", err
		}
		if err := c.companies.SaveCompanyID(ctx, c.integ.ID, companyID); err != nil {
			return "", fmt.Errorf("persist company id for integration %d: %w", c.integ.ID, err)
		}
		c.integ.CompanyID = companyID
		c.log.Info().Str("company_id", companyID).Msg("discovered organization")
	}
	return c.obtainToken(ctx, c.integ.CompanyID)
}

// obtainToken requests a token, business-scoped when companyID is set.
func (c *Client) obtainToken(ctx context.Context, companyID string) (string, error) {
	body := map[string]any{
		"appSecret": c.integ.AppSecret,
		"email":     c.integ.Username,
		"password":  c.integ.Secret,
	}
	if companyID != "" {
		body["companyId"] = companyID
	}

	var result tokenData
	endpoint := "/account/token?appId=" + c.integ.AppID
	if err := c.post(ctx, endpoint, "", body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrAuthenticationFailed, err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: token response carried no accessToken", provider.ErrAuthenticationFailed)
	}
	return result.AccessToken, nil
}

// lookupCompanyID fetches the account's first organization.
func (c *Client) lookupCompanyID(ctx context.Context, userToken string) (string, error) {
	var result accountInfo
	if err := c.post(ctx, "/account/info", userToken, map[string]any{}, &result); err != nil {
		return "", fmt.Errorf("%w: organization lookup: %v", provider.ErrAuthenticationFailed, err)
	}
	if len(result.OrgInfoList) == 0 {
		return "", fmt.Errorf("%w: account belongs to no organization", provider.ErrAuthenticationFailed)
	}
	return strconv.FormatInt(result.OrgInfoList[0].CompanyID, 10), nil
}

// call issues an authenticated API call. On an auth-rejection status the
// token is invalidated exactly once and the call retried a single time.
func (c *Client) call(ctx context.Context, endpoint string, body map[string]any, out any) error {
	token, err := c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
	if err != nil {
		return err
	}

	err = c.post(ctx, endpoint, token, body, out)
	if err != nil && provider.IsAuthError(err) {
		c.log.Warn().Str("endpoint", endpoint).Msg("token rejected, re-authenticating once")
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

// post sends one JSON request, bearer-authenticated when token is set,
// and decodes the success/msg envelope.
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

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
			Provider:   provider.KindDeye,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    string(raw),
		}
	}

	var envelope struct {
		Success *bool  `json:"success"`
		Code    string `json:"code"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		return &provider.APIError{
			Provider:   provider.KindDeye,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    fmt.Sprintf("code %s: %s", envelope.Code, envelope.Msg),
		}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// ListPlants implements provider.Client.
func (c *Client) ListPlants(ctx context.Context) ([]provider.Plant, error) {
	if plants, ok := c.plantsMemo.Get(); ok {
		return plants, nil
	}

	var result stationListData
	if err := c.call(ctx, "/station/list", map[string]any{"page": 1, "size": pageSize}, &result); err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}

	today := c.now()
	plants := make([]provider.Plant, 0, len(result.StationList))
	for _, raw := range result.StationList {
		plant := raw.toPlant()
		// The station list omits the day's energy. One history call with
		// daily granularity over today fills it in.
		if points, err := c.history(ctx, raw.ID, granularityDaily, today, today); err == nil {
			var kwh float64
			for _, p := range points {
				kwh += p.GenerationValue.Float64()
			}
			plant.TodayKWh = provider.Round2(kwh)
		} else {
			c.log.Warn().Err(err).Str("plant_id", plant.ID).Msg("today energy fetch failed")
		}
		plants = append(plants, plant)
	}
	c.plantsMemo.Put(plants)
	return plants, nil
}

// history fetches generation buckets for one station over [start, end].
func (c *Client) history(ctx context.Context, stationID int64, granularity int, start, end time.Time) ([]historyPoint, error) {
	body := map[string]any{
		"stationId":   stationID,
		"granularity": granularity,
		"startAt":     start.Format("2006-01-02"),
		"endAt":       end.Format("2006-01-02"),
	}
	var result historyData
	if err := c.call(ctx, "/station/history", body, &result); err != nil {
		return nil, err
	}
	return result.ItemList, nil
}

// rangeTotal sums daily generation over [start, end] for one station.
func (c *Client) rangeTotal(ctx context.Context, stationID int64, start, end time.Time) (float64, error) {
	points, err := c.history(ctx, stationID, granularityDaily, start, end)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, p := range points {
		sum += p.GenerationValue.Float64()
	}
	return sum, nil
}

// GetGeneration implements provider.Client. All windows end on yesterday.
func (c *Client) GetGeneration(ctx context.Context) (*provider.GenerationSeries, error) {
	if series, ok := c.genMemo.Get(); ok {
		return series, nil
	}

	var result stationListData
	if err := c.call(ctx, "/station/list", map[string]any{"page": 1, "size": pageSize}, &result); err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}

	now := c.now()
	yesterday := now.AddDate(0, 0, -1)
	sevenStart := now.AddDate(0, 0, -8)
	thirtyStart := now.AddDate(0, 0, -31)

	series := &provider.GenerationSeries{}
	for _, raw := range result.StationList {
		plantID := strconv.FormatInt(raw.ID, 10)

		appendSample := func(dst *[]provider.GenerationSample, start time.Time, period string) {
			v, err := c.rangeTotal(ctx, raw.ID, start, yesterday)
			if err != nil {
				c.log.Warn().Err(err).Str("plant_id", plantID).Str("period", period).Msg("generation fetch failed")
				return
			}
			*dst = append(*dst, provider.GenerationSample{
				PlantID: plantID, Period: period, EnergyKWh: provider.Round2(v),
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

// GenerationForDay implements provider.Historian with intraday buckets.
func (c *Client) GenerationForDay(ctx context.Context, plantID string, day time.Time) (*provider.DaySeries, error) {
	stationID, err := strconv.ParseInt(plantID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}
	points, err := c.history(ctx, stationID, granularityIntraday, day, day)
	if err != nil {
		return nil, err
	}

	out := &provider.DaySeries{PlantID: plantID, Day: day.Format("2006-01-02")}
	var total float64
	for _, p := range points {
		v := provider.Round2(p.GenerationValue.Float64())
		out.Points = append(out.Points, provider.SeriesPoint{Label: p.clockLabel(), EnergyKWh: v})
		total += v
	}
	sort.Slice(out.Points, func(i, j int) bool { return out.Points[i].Label < out.Points[j].Label })
	out.TotalKWh = provider.Round2(total)
	return out, nil
}

// GenerationForMonth implements provider.Historian with per-day totals.
func (c *Client) GenerationForMonth(ctx context.Context, plantID string, year int, month time.Month) (*provider.CalendarSeries, error) {
	stationID, err := strconv.ParseInt(plantID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	if today := c.now(); year == today.Year() && month == today.Month() {
		last = time.Date(year, month, today.Day(), 0, 0, 0, 0, time.UTC)
	}
	points, err := c.history(ctx, stationID, granularityDaily, first, last)
	if err != nil {
		return nil, err
	}

	out := &provider.CalendarSeries{PlantID: plantID, Period: fmt.Sprintf("%04d-%02d", year, month)}
	for _, p := range points {
		v := provider.Round2(p.GenerationValue.Float64())
		out.Points = append(out.Points, provider.SeriesPoint{Label: p.dayLabel(), EnergyKWh: v})
		out.TotalKWh += v
	}
	out.TotalKWh = provider.Round2(out.TotalKWh)
	return out, nil
}

// GenerationForYear implements provider.Historian with per-month totals.
func (c *Client) GenerationForYear(ctx context.Context, plantID string, year int) (*provider.CalendarSeries, error) {
	stationID, err := strconv.ParseInt(plantID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	points, err := c.history(ctx, stationID, granularityMonthly, start, end)
	if err != nil {
		return nil, err
	}

	out := &provider.CalendarSeries{PlantID: plantID, Period: fmt.Sprintf("%04d", year)}
	for _, p := range points {
		v := provider.Round2(p.GenerationValue.Float64())
		out.Points = append(out.Points, provider.SeriesPoint{Label: p.monthLabel(), EnergyKWh: v})
		out.TotalKWh += v
	}
	out.TotalKWh = provider.Round2(out.TotalKWh)
	return out, nil
}

// GetDeviceDetails implements provider.Client with the latest realtime
// measurements of the station's devices.
func (c *Client) GetDeviceDetails(ctx context.Context, plantID string) (*provider.DeviceSnapshot, error) {
	stationID, err := strconv.ParseInt(plantID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	var result stationLatest
	if err := c.call(ctx, "/station/latest", map[string]any{"stationList": []int64{stationID}}, &result); err != nil {
		return nil, fmt.Errorf("device details of plant %s: %w", plantID, err)
	}

	snapshot := &provider.DeviceSnapshot{PlantID: plantID, Taken: c.now()}
	for _, st := range result.StationDataItems {
		snapshot.Points = append(snapshot.Points,
			provider.DevicePoint{Name: "generation_power_w", Value: fmt.Sprintf("%v", st.GenerationPower.Float64())},
			provider.DevicePoint{Name: "daily_energy_kwh", Value: fmt.Sprintf("%v", st.GenerationValue.Float64())},
			provider.DevicePoint{Name: "last_update", Value: st.lastUpdateLabel()},
		)
	}
	return snapshot, nil
}
