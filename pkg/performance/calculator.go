// Package performance computes generated-vs-projected performance ratios
// for each plant over the rolling reporting windows, and orchestrates the
// result cache around those computations.
package performance

import (
	"math"
	"time"

	"github.com/rafamrn/solarsight/pkg/cache"
	"github.com/rafamrn/solarsight/pkg/provider"
)

// PlantPerformance is one plant's result for one reporting window.
// Percentage is nil when no usable projection exists for the month.
type PlantPerformance struct {
	PlantID      string  `json:"ps_id"`
	Name         string  `json:"ps_name,omitempty"`
	Period       string  `json:"period"`
	EnergyKWh    float64 `json:"energy_kwh"`
	ExpectedKWh  float64 `json:"expected_kwh"`
	Percentage   *int    `json:"percentage"`
	NoProjection bool    `json:"no_projection,omitempty"`
}

// Report is the full per-window payload that gets cached and served.
type Report struct {
	Kind        string             `json:"kind"`
	GeneratedAt time.Time          `json:"generated_at"`
	Plants      []PlantPerformance `json:"plants"`
}

// daysInMonth returns the calendar length of t's month.
func daysInMonth(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, -1).Day()
}

// ExpectedKWh derives the window's expected output from the monthly
// projection. The projection belongs to anchor's month: the daily window
// expects one average day, the 7-day window seven, and the 30-day window
// the whole month's projection.
func ExpectedKWh(kind string, projectionKWh float64, anchor time.Time) float64 {
	perDay := projectionKWh / float64(daysInMonth(anchor))
	switch kind {
	case cache.KindDaily:
		return provider.Round2(perDay)
	case cache.KindSevenDay:
		return provider.Round2(perDay * 7)
	case cache.KindThirtyDay:
		return provider.Round2(projectionKWh)
	default:
		return 0
	}
}

// Percentage returns the generated/expected ratio as a whole percent,
// rounded half to even, or nil when there is nothing to compare against.
func Percentage(energyKWh, expectedKWh float64) *int {
	if expectedKWh <= 0 {
		return nil
	}
	v := int(math.RoundToEven(energyKWh / expectedKWh * 100))
	return &v
}
