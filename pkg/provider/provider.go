// Package provider defines the capability surface shared by all solar cloud
// vendor clients, plus the normalized telemetry types they produce.
package provider

import (
	"context"
	"time"
)

// Kind identifies a supported provider platform.
type Kind string

const (
	KindSungrow Kind = "sungrow"
	KindDeye    Kind = "deye"
	KindHuawei  Kind = "huawei"
)

// IsValid returns true for a known provider kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindSungrow, KindDeye, KindHuawei:
		return true
	}
	return false
}

// Client is the uniform capability set implemented once per vendor.
// Callers never see vendor login payloads or endpoint shapes.
type Client interface {
	// Kind returns the provider platform this client speaks to.
	Kind() Kind

	// Authenticate obtains a fresh token and persists it through the token
	// manager. Data methods call this transparently; it exists on the
	// interface for health probing.
	Authenticate(ctx context.Context) error

	// ListPlants returns every plant reported by the provider for this
	// integration, normalized.
	ListPlants(ctx context.Context) ([]Plant, error)

	// GetGeneration returns per-plant generated energy for the rolling
	// day / 7-day / 30-day reporting windows, all ending on yesterday.
	GetGeneration(ctx context.Context) (*GenerationSeries, error)

	// GetDeviceDetails returns a realtime snapshot of the devices behind
	// one plant.
	GetDeviceDetails(ctx context.Context, plantID string) (*DeviceSnapshot, error)
}

// Historian is implemented by clients that can serve calendar-scoped
// generation history for a single plant. Not every platform exposes this.
type Historian interface {
	// GenerationForDay returns the intraday power curve and the day's total
	// for one plant.
	GenerationForDay(ctx context.Context, plantID string, day time.Time) (*DaySeries, error)

	// GenerationForMonth returns per-day production for one calendar month.
	GenerationForMonth(ctx context.Context, plantID string, year int, month time.Month) (*CalendarSeries, error)

	// GenerationForYear returns per-month production for one calendar year.
	GenerationForYear(ctx context.Context, plantID string, year int) (*CalendarSeries, error)
}
