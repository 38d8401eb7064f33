package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthSeverityOrder(t *testing.T) {
	assert.Greater(t, HealthFault.Severity(), HealthAlarm.Severity())
	assert.Greater(t, HealthAlarm.Severity(), HealthNormal.Severity())
	assert.Greater(t, HealthNormal.Severity(), HealthUnknown.Severity())
}

func TestWorseOf(t *testing.T) {
	assert.Equal(t, HealthFault, WorseOf(HealthNormal, HealthFault))
	assert.Equal(t, HealthFault, WorseOf(HealthFault, HealthNormal))
	assert.Equal(t, HealthAlarm, WorseOf(HealthAlarm, HealthUnknown))
	assert.Equal(t, HealthNormal, WorseOf(HealthNormal, HealthNormal))
	// A healthy report never hides an unhealthy one.
	assert.Equal(t, HealthAlarm, WorseOf(HealthNormal, HealthAlarm))
}

func TestWindowRangeEndsOnYesterday(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	start, end := WindowRange(now, 1)
	assert.Equal(t, 14, end.Day())
	assert.Equal(t, 14, start.Day())

	start, end = WindowRange(now, 7)
	assert.Equal(t, 14, end.Day())
	assert.Equal(t, 8, start.Day())

	start, end = WindowRange(now, 30)
	assert.Equal(t, 14, end.Day())
	assert.Equal(t, time.Date(2025, 5, 16, 10, 30, 0, 0, time.UTC), start)
}

func TestGenerationSeriesMerge(t *testing.T) {
	a := &GenerationSeries{
		Daily: []GenerationSample{{PlantID: "1", EnergyKWh: 10}},
	}
	a.Merge(&GenerationSeries{
		Daily:    []GenerationSample{{PlantID: "2", EnergyKWh: 20}},
		SevenDay: []GenerationSample{{PlantID: "2", EnergyKWh: 140}},
	})
	a.Merge(nil)

	assert.Len(t, a.Daily, 2)
	assert.Len(t, a.SevenDay, 1)
	assert.Empty(t, a.ThirtyDay)
}
