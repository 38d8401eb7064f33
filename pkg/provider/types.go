package provider

import "time"

// HealthStatus is the normalized plant health state. Each vendor's raw codes
// map onto exactly one of these values.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthNormal  HealthStatus = "normal"
	HealthAlarm   HealthStatus = "alarm"
	HealthFault   HealthStatus = "fault"
)

// Severity orders health states for merging: Fault > Alarm > Normal > Unknown.
func (h HealthStatus) Severity() int {
	switch h {
	case HealthFault:
		return 3
	case HealthAlarm:
		return 2
	case HealthNormal:
		return 1
	default:
		return 0
	}
}

// WorseOf returns the more severe of two health states.
func WorseOf(a, b HealthStatus) HealthStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Plant is one generation site as reported by a single provider.
// Recomputed on every fetch, never persisted.
type Plant struct {
	ID         string       `json:"ps_id"`
	Name       string       `json:"ps_name"`
	Location   string       `json:"location"`
	CapacityKW float64      `json:"capacity_kw"`
	PowerKW    float64      `json:"curr_power"`
	TodayKWh   float64      `json:"today_energy"`
	TotalKWh   float64      `json:"total_energy"`
	CO2Kg      float64      `json:"co2_total"`
	Revenue    float64      `json:"income_total"`
	Health     HealthStatus `json:"health_status"`
	Provider   Kind         `json:"provider"`
}

// GenerationSample is one plant's generated energy over one reporting window.
type GenerationSample struct {
	PlantID   string  `json:"ps_id"`
	Period    string  `json:"period"`
	EnergyKWh float64 `json:"energy_kwh"`
}

// GenerationSeries groups samples for the three rolling windows.
type GenerationSeries struct {
	Daily     []GenerationSample `json:"daily"`
	SevenDay  []GenerationSample `json:"seven_day"`
	ThirtyDay []GenerationSample `json:"thirty_day"`
}

// Merge appends another series into this one.
func (s *GenerationSeries) Merge(other *GenerationSeries) {
	if other == nil {
		return
	}
	s.Daily = append(s.Daily, other.Daily...)
	s.SevenDay = append(s.SevenDay, other.SevenDay...)
	s.ThirtyDay = append(s.ThirtyDay, other.ThirtyDay...)
}

// DevicePoint is one named realtime measurement from a device.
type DevicePoint struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DeviceSnapshot is the realtime state of the devices behind one plant.
type DeviceSnapshot struct {
	PlantID string        `json:"plant_id"`
	Taken   time.Time     `json:"taken_at"`
	Points  []DevicePoint `json:"points"`
}

// SeriesPoint is one bucket of a historical series. Label is a clock time
// for intraday curves ("13:45"), a date for monthly series ("2024-03-07"),
// or a month for yearly series ("2024-03").
type SeriesPoint struct {
	Label     string  `json:"label"`
	EnergyKWh float64 `json:"production"`
}

// DaySeries is the intraday power curve plus the day's accumulated total.
type DaySeries struct {
	PlantID  string        `json:"plant_id"`
	Day      string        `json:"day"`
	TotalKWh float64       `json:"total_kwh"`
	Points   []SeriesPoint `json:"points"`
}

// CalendarSeries is per-day (month scope) or per-month (year scope)
// production with the period total.
type CalendarSeries struct {
	PlantID  string        `json:"plant_id"`
	Period   string        `json:"period"`
	TotalKWh float64       `json:"total_kwh"`
	Points   []SeriesPoint `json:"points"`
}

// Rolling-window boundaries. All windows end on yesterday: providers only
// finalize a day's production overnight, so today is always partial.
const (
	DailyWindowDays = 1
	SevenDayWindow  = 7
	ThirtyDayWindow = 30
)

// WindowRange returns [start, end] dates for a rolling window of n days
// ending on yesterday, relative to now.
func WindowRange(now time.Time, days int) (start, end time.Time) {
	end = now.AddDate(0, 0, -1)
	start = now.AddDate(0, 0, -days)
	return start, end
}
