package huawei

import (
	"strconv"
	"strings"

	"github.com/rafamrn/solarsight/pkg/provider"
)

type stationPage struct {
	Total    int          `json:"total"`
	PageNo   int          `json:"pageNo"`
	PageSize int          `json:"pageSize"`
	List     []stationRaw `json:"list"`
}

type stationRaw struct {
	PlantCode    string             `json:"plantCode"`
	PlantName    string             `json:"plantName"`
	PlantAddress string             `json:"plantAddress"`
	Capacity     provider.FlexFloat `json:"capacity"`
}

func (s stationRaw) toPlant() provider.Plant {
	return provider.Plant{
		ID:       s.PlantCode,
		Name:     s.PlantName,
		Location: s.PlantAddress,
		// capacity arrives in MW
		CapacityKW: provider.Round2(s.Capacity.Float64() * 1000),
		Health:     provider.HealthUnknown,
		Provider:   provider.KindHuawei,
	}
}

type stationKpi struct {
	StationCode string `json:"stationCode"`
	DataItemMap struct {
		DayPower    provider.FlexFloat `json:"day_power"`
		TotalPower  provider.FlexFloat `json:"total_power"`
		DayIncome   provider.FlexFloat `json:"day_income"`
		TotalIncome provider.FlexFloat `json:"total_income"`
		HealthState provider.FlexFloat `json:"real_health_state"`
	} `json:"dataItemMap"`
}

// healthState maps real_health_state to a health state. FusionSolar counts
// 1 as disconnected, 2 as faulty and 3 as healthy; a disconnected plant is
// treated as faulty since it produces nothing.
func healthState(state int) provider.HealthStatus {
	switch state {
	case 3:
		return provider.HealthNormal
	case 1, 2:
		return provider.HealthFault
	default:
		return provider.HealthUnknown
	}
}

// fillPlant copies the realtime KPI numbers onto the listed plant.
func (k stationKpi) fillPlant(p *provider.Plant) {
	p.TodayKWh = provider.Round2(k.DataItemMap.DayPower.Float64())
	p.TotalKWh = provider.Round2(k.DataItemMap.TotalPower.Float64())
	p.Revenue = provider.Round2(k.DataItemMap.TotalIncome.Float64())
	p.Health = healthState(int(k.DataItemMap.HealthState.Float64()))
}

type deviceRaw struct {
	ID        int64  `json:"id"`
	DevName   string `json:"devName"`
	DevTypeID int    `json:"devTypeId"`
	EsnCode   string `json:"esnCode"`
}

type deviceKpi struct {
	DevID       int64 `json:"devId"`
	DataItemMap struct {
		ActivePower provider.FlexFloat `json:"active_power"`
		DayCap      provider.FlexFloat `json:"day_cap"`
		Temperature provider.FlexFloat `json:"temperature"`
		Efficiency  provider.FlexFloat `json:"efficiency"`
	} `json:"dataItemMap"`
}

type deviceHistoryPoint struct {
	DevID       int64 `json:"devId"`
	CollectTime int64 `json:"collectTime"`
	DataItemMap struct {
		DayCap provider.FlexFloat `json:"day_cap"`
	} `json:"dataItemMap"`
}

// joinIDs renders device ids the comma-separated way the API wants them.
func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
