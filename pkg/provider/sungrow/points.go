package sungrow

// readablePoints translates iSolarCloud inverter point ids into labels.
// Ids absent from the table pass through unchanged.
var readablePoints = map[string]string{
	"p1":    "daily_energy_wh",
	"p2":    "total_energy_wh",
	"p4":    "grid_frequency_hz",
	"p5":    "phase_a_voltage_v",
	"p6":    "phase_b_voltage_v",
	"p7":    "phase_c_voltage_v",
	"p8":    "phase_a_current_a",
	"p9":    "phase_b_current_a",
	"p10":   "phase_c_current_a",
	"p14":   "reactive_power_var",
	"p18":   "power_factor",
	"p24":   "active_power_w",
	"p25":   "internal_temperature_c",
	"p43":   "monthly_energy_wh",
	"p5001": "mppt1_voltage_v",
	"p5002": "mppt1_current_a",
	"p5003": "mppt2_voltage_v",
	"p5004": "mppt2_current_a",
	"p5005": "mppt3_voltage_v",
	"p5006": "mppt3_current_a",
	"p5007": "mppt4_voltage_v",
	"p5008": "mppt4_current_a",
}

func readablePoint(id string) string {
	if name, ok := readablePoints[id]; ok {
		return name
	}
	return id
}

func realtimePointIDs() []string {
	return []string{"1", "2", "4", "5", "6", "7", "8", "9", "10", "14", "18", "24", "25", "43"}
}
