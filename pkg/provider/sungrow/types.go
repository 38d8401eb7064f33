package sungrow

import (
	"strconv"

	"github.com/rafamrn/solarsight/pkg/provider"
)

type loginData struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

// valued is the {"value": ..., "unit": ...} wrapper iSolarCloud puts
// around most station metrics.
type valued struct {
	Value provider.FlexFloat `json:"value"`
	Unit  string             `json:"unit"`
}

// kw converts the wrapped value to kilowatts using its unit.
func (v valued) kw() float64 {
	switch v.Unit {
	case "W", "Wp", "Wh":
		return v.Value.Float64() / 1000
	case "MW", "MWp", "MWh":
		return v.Value.Float64() * 1000
	default:
		return v.Value.Float64()
	}
}

type stationList struct {
	PageList  []stationRaw `json:"pageList"`
	RowCount  int          `json:"rowCount"`
	PageCount int          `json:"pageCount"`
}

type stationRaw struct {
	PSID          int64  `json:"ps_id"`
	PSName        string `json:"ps_name"`
	PSLocation    string `json:"ps_location"`
	TotalCapacity valued `json:"total_capcity"`
	CurrPower     valued `json:"curr_power"`
	TodayEnergy   valued `json:"today_energy"`
	TotalEnergy   valued `json:"total_energy"`
	CO2Reduce     valued `json:"co2_reduce_total"`
	TotalIncome   valued `json:"total_income"`
	FaultStatus   int    `json:"ps_fault_status"`
}

// faultHealth maps ps_fault_status to a health state. Sungrow counts
// 1 as faulty, 2 as alarming and 3 as normal.
func faultHealth(status int) provider.HealthStatus {
	switch status {
	case 1:
		return provider.HealthFault
	case 2:
		return provider.HealthAlarm
	case 3:
		return provider.HealthNormal
	default:
		return provider.HealthUnknown
	}
}

func (s stationRaw) toPlant() provider.Plant {
	return provider.Plant{
		ID:         strconv.FormatInt(s.PSID, 10),
		Name:       s.PSName,
		Location:   s.PSLocation,
		CapacityKW: provider.Round2(s.TotalCapacity.kw()),
		PowerKW:    provider.Round2(s.CurrPower.kw()),
		TodayKWh:   provider.Round2(s.TodayEnergy.kw()),
		TotalKWh:   provider.Round2(s.TotalEnergy.kw()),
		CO2Kg:      provider.Round2(s.CO2Reduce.Value.Float64()),
		Revenue:    provider.Round2(s.TotalIncome.Value.Float64()),
		Health:     faultHealth(s.FaultStatus),
		Provider:   provider.KindSungrow,
	}
}

type deviceList struct {
	PageList []deviceRaw `json:"pageList"`
}

type deviceRaw struct {
	PSKey      string `json:"ps_key"`
	DeviceName string `json:"device_name"`
	DeviceType int    `json:"device_type"`
	DeviceSN   string `json:"device_sn"`
}

// pointSeries maps ps_key to its day/month/year point rows.
type pointSeries map[string]pointRows

type pointRows struct {
	P1 []pointRow `json:"p1"`
}

type pointRow struct {
	TimeStamp string             `json:"time_stamp"`
	Daily     provider.FlexFloat `json:"2"`
	Monthly   provider.FlexFloat `json:"4"`
}

// minuteSeries maps ps_key to its 5-minute samples.
type minuteSeries map[string][]minuteRow

type minuteRow struct {
	TimeStamp string             `json:"time_stamp"`
	PowerW    provider.FlexFloat `json:"p24"`
	EnergyWh  provider.FlexFloat `json:"p1"`
}

type realtimeData struct {
	DevicePointList []struct {
		DevicePoint map[string]any `json:"device_point"`
	} `json:"device_point_list"`
}
