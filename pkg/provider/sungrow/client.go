// Package sungrow implements the provider client for Sungrow's iSolarCloud
// open API. Tokens ride in the body of every call; the gateway also wants
// the application key and access key on each request.
package sungrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/provider"
	"github.com/rafamrn/solarsight/pkg/store"
	"github.com/rafamrn/solarsight/pkg/tokens"
)

const (
	// DefaultBaseURL is the iSolarCloud open API gateway.
	DefaultBaseURL = "https://gateway.isolarcloud.com.hk/openapi"

	// TokenTTL is how long Sungrow tokens are trusted locally. The gateway
	// issues roughly one-hour tokens; staying under that avoids using one
	// at the edge of expiry.
	TokenTTL = 50 * time.Minute

	sysCode  = "901"
	pageSize = 100
	lang     = "_pt_BR"
)

// Client talks to iSolarCloud on behalf of one integration.
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

// New creates a Sungrow client for one integration.
func New(integ *store.Integration, tm *tokens.Manager, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		integ:      integ,
		tokens:     tm,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("provider", "sungrow").Int64("integration_id", integ.ID).Logger(),
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
func (c *Client) Kind() provider.Kind { return provider.KindSungrow }

// Authenticate obtains and persists a fresh token if none is valid.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
	return err
}

// login performs the Sungrow login call and returns the new token.
func (c *Client) login(ctx context.Context) (string, error) {
	body := map[string]any{
		"appkey":        c.integ.AppKey,
		"user_account":  c.integ.Username,
		"user_password": c.integ.Secret,
	}
	var result loginData
	if err := c.post(ctx, "/login", body, &result); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrAuthenticationFailed, err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("%w: login response carried no token", provider.ErrAuthenticationFailed)
	}
	return result.Token, nil
}

// call issues an authenticated API call. On an auth-rejection status the
// token is invalidated exactly once and the call retried a single time.
func (c *Client) call(ctx context.Context, endpoint string, body map[string]any, out any) error {
	token, err := c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
	if err != nil {
		return err
	}

	err = c.authedPost(ctx, endpoint, token, body, out)
	if err != nil && provider.IsAuthError(err) {
		c.log.Warn().Str("endpoint", endpoint).Msg("token rejected, re-authenticating once")
		if ierr := c.tokens.Invalidate(ctx, c.integ); ierr != nil {
			c.log.Warn().Err(ierr).Msg("token invalidation failed")
		}
		token, err = c.tokens.Ensure(ctx, c.integ, TokenTTL, c.login)
		if err != nil {
			return err
		}
		err = c.authedPost(ctx, endpoint, token, body, out)
	}
	return err
}

func (c *Client) authedPost(ctx context.Context, endpoint, token string, body map[string]any, out any) error {
	withAuth := make(map[string]any, len(body)+2)
	for k, v := range body {
		withAuth[k] = v
	}
	withAuth["token"] = token
	withAuth["appkey"] = c.integ.AppKey
	return c.post(ctx, endpoint, withAuth, out)
}

// post sends one JSON request and decodes the result_data envelope.
func (c *Client) post(ctx context.Context, endpoint string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-access-key", c.integ.AccessKey)
	req.Header.Set("sys_code", sysCode)

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
			Provider:   provider.KindSungrow,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    string(raw),
		}
	}

	var envelope struct {
		ResultCode string          `json:"result_code"`
		ResultMsg  string          `json:"result_msg"`
		ResultData json.RawMessage `json:"result_data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.ResultCode != "1" {
		return &provider.APIError{
			Provider:   provider.KindSungrow,
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    fmt.Sprintf("result_code %s: %s", envelope.ResultCode, envelope.ResultMsg),
		}
	}
	if out != nil && len(envelope.ResultData) > 0 {
		if err := json.Unmarshal(envelope.ResultData, out); err != nil {
			return fmt.Errorf("decode result_data: %w", err)
		}
	}
	return nil
}

// ListPlants implements provider.Client.
func (c *Client) ListPlants(ctx context.Context) ([]provider.Plant, error) {
	if plants, ok := c.plantsMemo.Get(); ok {
		return plants, nil
	}

	body := map[string]any{"curPage": 1, "size": pageSize, "lang": lang}
	var result stationList
	if err := c.call(ctx, "/getPowerStationList", body, &result); err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}

	plants := make([]provider.Plant, 0, len(result.PageList))
	for _, raw := range result.PageList {
		plants = append(plants, raw.toPlant())
	}
	c.plantsMemo.Put(plants)
	return plants, nil
}

// deviceKeys returns every inverter key behind one plant.
func (c *Client) deviceKeys(ctx context.Context, plantID string) ([]string, error) {
	body := map[string]any{
		"curPage":          1,
		"size":             pageSize,
		"ps_id":            plantID,
		"device_type_list": []int{1},
		"lang":             lang,
	}
	var result deviceList
	if err := c.call(ctx, "/getDeviceList", body, &result); err != nil {
		return nil, fmt.Errorf("list devices of plant %s: %w", plantID, err)
	}
	keys := make([]string, 0, len(result.PageList))
	for _, d := range result.PageList {
		if d.PSKey != "" {
			keys = append(keys, d.PSKey)
		}
	}
	return keys, nil
}

// pointTotal sums the daily p1 point over [start, end] for one inverter.
// Values arrive in Wh.
func (c *Client) pointTotal(ctx context.Context, psKey, start, end string) (float64, error) {
	body := map[string]any{
		"data_point":  "p1",
		"start_time":  start,
		"end_time":    end,
		"query_type":  "1",
		"data_type":   "2",
		"order":       "0",
		"ps_key_list": []string{psKey},
	}
	var result pointSeries
	if err := c.call(ctx, "/getDevicePointsDayMonthYearDataList", body, &result); err != nil {
		return 0, err
	}
	var sum float64
	for _, points := range result {
		for _, p := range points.P1 {
			sum += p.Daily.Float64()
		}
	}
	return sum, nil
}

// GetGeneration implements provider.Client. All windows end on yesterday.
func (c *Client) GetGeneration(ctx context.Context) (*provider.GenerationSeries, error) {
	if series, ok := c.genMemo.Get(); ok {
		return series, nil
	}

	plants, err := c.ListPlants(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	yesterday := now.AddDate(0, 0, -1).Format("20060102")
	sevenStart := now.AddDate(0, 0, -8).Format("20060102")
	thirtyStart := now.AddDate(0, 0, -31).Format("20060102")

	series := &provider.GenerationSeries{}
	for _, plant := range plants {
		keys, err := c.deviceKeys(ctx, plant.ID)
		if err != nil {
			c.log.Warn().Err(err).Str("plant_id", plant.ID).Msg("skipping plant: device listing failed")
			continue
		}

		var day, week, month float64
		for _, key := range keys {
			if v, err := c.pointTotal(ctx, key, yesterday, yesterday); err == nil {
				day += v
			} else {
				c.log.Warn().Err(err).Str("ps_key", key).Msg("daily point fetch failed")
			}
			if v, err := c.pointTotal(ctx, key, sevenStart, yesterday); err == nil {
				week += v
			} else {
				c.log.Warn().Err(err).Str("ps_key", key).Msg("7-day point fetch failed")
			}
			if v, err := c.pointTotal(ctx, key, thirtyStart, yesterday); err == nil {
				month += v
			} else {
				c.log.Warn().Err(err).Str("ps_key", key).Msg("30-day point fetch failed")
			}
		}

		series.Daily = append(series.Daily, provider.GenerationSample{
			PlantID: plant.ID, Period: yesterday, EnergyKWh: round2(day / 1000),
		})
		series.SevenDay = append(series.SevenDay, provider.GenerationSample{
			PlantID: plant.ID, Period: sevenStart + " a " + yesterday, EnergyKWh: round2(week / 1000),
		})
		series.ThirtyDay = append(series.ThirtyDay, provider.GenerationSample{
			PlantID: plant.ID, Period: thirtyStart + " a " + yesterday, EnergyKWh: round2(month / 1000),
		})
	}

	c.genMemo.Put(series)
	return series, nil
}

// GenerationForDay implements provider.Historian: the intraday power curve
// in 3h request blocks of 5-minute p24 buckets, plus the day's p1 total.
func (c *Client) GenerationForDay(ctx context.Context, plantID string, day time.Time) (*provider.DaySeries, error) {
	keys, err := c.deviceKeys(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	byClock := make(map[string]float64)
	maxP1 := make(map[string]float64)

	for _, key := range keys {
		for block := 0; block < 24; block += 3 {
			start := time.Date(day.Year(), day.Month(), day.Day(), block, 0, 0, 0, day.Location())
			end := start.Add(3*time.Hour - time.Second)

			body := map[string]any{
				"start_time_stamp":             start.Format("20060102150405"),
				"end_time_stamp":               end.Format("20060102150405"),
				"minute_interval":              5,
				"points":                       "p24,p1",
				"ps_key_list":                  []string{key},
				"is_get_data_acquisition_time": "1",
			}
			var result minuteSeries
			if err := c.call(ctx, "/getDevicePointMinuteDataList", body, &result); err != nil {
				c.log.Warn().Err(err).Str("ps_key", key).Int("block", block).Msg("minute block fetch failed")
				continue
			}
			for _, item := range result[key] {
				if len(item.TimeStamp) >= 12 {
					clock := item.TimeStamp[8:10] + ":" + item.TimeStamp[10:12]
					byClock[clock] += item.PowerW.Float64()
				}
				if v := item.EnergyWh.Float64(); v > maxP1[key] {
					maxP1[key] = v
				}
			}
		}
	}

	clocks := make([]string, 0, len(byClock))
	for clock := range byClock {
		clocks = append(clocks, clock)
	}
	sort.Strings(clocks)

	out := &provider.DaySeries{PlantID: plantID, Day: day.Format("2006-01-02")}
	for _, clock := range clocks {
		out.Points = append(out.Points, provider.SeriesPoint{Label: clock, EnergyKWh: round2(byClock[clock] / 1000)})
	}
	var totalWh float64
	for _, v := range maxP1 {
		totalWh += v
	}
	out.TotalKWh = round2(totalWh / 1000)
	return out, nil
}

// GenerationForMonth implements provider.Historian with per-day totals.
func (c *Client) GenerationForMonth(ctx context.Context, plantID string, year int, month time.Month) (*provider.CalendarSeries, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	if today := c.now(); year == today.Year() && month == today.Month() {
		last = time.Date(year, month, today.Day(), 0, 0, 0, 0, time.UTC)
	}
	points, err := c.calendarPoints(ctx, plantID, first.Format("20060102"), last.Format("20060102"), "1", "2")
	if err != nil {
		return nil, err
	}
	return buildCalendar(plantID, fmt.Sprintf("%04d-%02d", year, month), points, "2006-01-02"), nil
}

// GenerationForYear implements provider.Historian with per-month totals.
func (c *Client) GenerationForYear(ctx context.Context, plantID string, year int) (*provider.CalendarSeries, error) {
	points, err := c.calendarPoints(ctx, plantID,
		fmt.Sprintf("%04d01", year), fmt.Sprintf("%04d12", year), "2", "4")
	if err != nil {
		return nil, err
	}
	return buildCalendar(plantID, fmt.Sprintf("%04d", year), points, "2006-01"), nil
}

// calendarPoints accumulates p1 energy per timestamp bucket across every
// inverter of the plant.
func (c *Client) calendarPoints(ctx context.Context, plantID, start, end, queryType, dataType string) (map[string]float64, error) {
	keys, err := c.deviceKeys(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	accumulated := make(map[string]float64)
	for _, key := range keys {
		body := map[string]any{
			"data_point":  "p1",
			"start_time":  start,
			"end_time":    end,
			"query_type":  queryType,
			"data_type":   dataType,
			"order":       "0",
			"ps_key_list": []string{key},
		}
		var result pointSeries
		if err := c.call(ctx, "/getDevicePointsDayMonthYearDataList", body, &result); err != nil {
			c.log.Warn().Err(err).Str("ps_key", key).Msg("calendar point fetch failed")
			continue
		}
		for _, points := range result {
			for _, p := range points.P1 {
				v := p.Daily.Float64()
				if dataType == "4" {
					v = p.Monthly.Float64()
				}
				accumulated[p.TimeStamp] += round2(v / 1000)
			}
		}
	}
	return accumulated, nil
}

func buildCalendar(plantID, period string, byStamp map[string]float64, labelLayout string) *provider.CalendarSeries {
	stamps := make([]string, 0, len(byStamp))
	for stamp := range byStamp {
		stamps = append(stamps, stamp)
	}
	sort.Strings(stamps)

	out := &provider.CalendarSeries{PlantID: plantID, Period: period}
	for _, stamp := range stamps {
		label := stamp
		if len(stamp) == 6 || len(stamp) == 8 {
			if t, err := time.Parse("20060102"[:len(stamp)], stamp); err == nil {
				label = t.Format(labelLayout)
			}
		}
		v := round2(byStamp[stamp])
		out.Points = append(out.Points, provider.SeriesPoint{Label: label, EnergyKWh: v})
		out.TotalKWh += v
	}
	out.TotalKWh = round2(out.TotalKWh)
	return out
}

// GetDeviceDetails implements provider.Client with realtime device points.
func (c *Client) GetDeviceDetails(ctx context.Context, plantID string) (*provider.DeviceSnapshot, error) {
	keys, err := c.deviceKeys(ctx, plantID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("plant %s: %w", plantID, provider.ErrPlantNotFound)
	}

	body := map[string]any{
		"device_type":   1,
		"point_id_list": realtimePointIDs(),
		"ps_key_list":   keys,
	}
	var result realtimeData
	if err := c.call(ctx, "/getDeviceRealTimeData", body, &result); err != nil {
		return nil, fmt.Errorf("device details of plant %s: %w", plantID, err)
	}

	snapshot := &provider.DeviceSnapshot{PlantID: plantID, Taken: c.now()}
	for _, dp := range result.DevicePointList {
		for id, value := range dp.DevicePoint {
			if value == nil {
				continue
			}
			snapshot.Points = append(snapshot.Points, provider.DevicePoint{
				Name:  readablePoint(id),
				Value: fmt.Sprintf("%v", value),
			})
		}
	}
	return snapshot, nil
}

func round2(v float64) float64 { return provider.Round2(v) }
