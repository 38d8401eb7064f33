package deye

import (
	"strconv"
	"time"

	"github.com/rafamrn/solarsight/pkg/provider"
)

// Granularity levels of /station/history buckets.
const (
	granularityIntraday = 1
	granularityDaily    = 2
	granularityMonthly  = 3
)

type tokenData struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   string `json:"expiresIn"`
}

type accountInfo struct {
	OrgInfoList []struct {
		CompanyID int64  `json:"companyId"`
		Name      string `json:"name"`
	} `json:"orgInfoList"`
}

type stationListData struct {
	Total       int          `json:"total"`
	StationList []stationRaw `json:"stationList"`
}

type stationRaw struct {
	ID               int64              `json:"id"`
	Name             string             `json:"name"`
	LocationAddress  string             `json:"locationAddress"`
	InstalledCap     provider.FlexFloat `json:"installedCapacity"`
	GenerationPower  provider.FlexFloat `json:"generationPower"`
	TotalGeneration  provider.FlexFloat `json:"totalGeneration"`
	ConnectionStatus string             `json:"connectionStatus"`
}

// connectionHealth maps connectionStatus to a health state.
func connectionHealth(status string) provider.HealthStatus {
	switch status {
	case "NORMAL":
		return provider.HealthNormal
	case "ALARM", "PARTIAL_OFFLINE":
		return provider.HealthAlarm
	case "ERROR", "ALL_OFFLINE":
		return provider.HealthFault
	default:
		return provider.HealthUnknown
	}
}

func (s stationRaw) toPlant() provider.Plant {
	return provider.Plant{
		ID:         strconv.FormatInt(s.ID, 10),
		Name:       s.Name,
		Location:   s.LocationAddress,
		CapacityKW: provider.Round2(s.InstalledCap.Float64()),
		PowerKW:    provider.Round2(s.GenerationPower.Float64() / 1000),
		TotalKWh:   provider.Round2(s.TotalGeneration.Float64()),
		Health:     connectionHealth(s.ConnectionStatus),
		Provider:   provider.KindDeye,
	}
}

type historyData struct {
	ItemList []historyPoint `json:"itemList"`
}

type historyPoint struct {
	Year            int                `json:"year"`
	Month           int                `json:"month"`
	Day             int                `json:"day"`
	Hour            int                `json:"hour"`
	Minute          int                `json:"minute"`
	GenerationValue provider.FlexFloat `json:"generationValue"`
}

func (p historyPoint) clockLabel() string {
	return time.Date(0, 1, 1, p.Hour, p.Minute, 0, 0, time.UTC).Format("15:04")
}

func (p historyPoint) dayLabel() string {
	return time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

func (p historyPoint) monthLabel() string {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

type stationLatest struct {
	StationDataItems []stationLatestItem `json:"stationDataItems"`
}

type stationLatestItem struct {
	StationID       int64              `json:"stationId"`
	GenerationPower provider.FlexFloat `json:"generationPower"`
	GenerationValue provider.FlexFloat `json:"generationValue"`
	LastUpdateTime  provider.FlexFloat `json:"lastUpdateTime"`
}

func (s stationLatestItem) lastUpdateLabel() string {
	sec := int64(s.LastUpdateTime.Float64())
	if sec == 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
