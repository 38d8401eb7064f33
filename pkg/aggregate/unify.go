package aggregate

import "github.com/rafamrn/solarsight/pkg/provider"

// UnifyPlants collapses plants that share a normalized name into one
// logical plant. Numeric fields are summed, health merges to the worst
// state, and identity fields (id, name, location, provider) come from the
// first occurrence in input order. The result preserves first-seen order,
// so unification is idempotent and order-stable.
func UnifyPlants(plants []provider.Plant) []provider.Plant {
	index := make(map[string]int, len(plants))
	out := make([]provider.Plant, 0, len(plants))

	for _, p := range plants {
		key := NormalizeName(p.Name)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, p)
			continue
		}

		merged := &out[i]
		merged.CapacityKW = provider.Round2(merged.CapacityKW + p.CapacityKW)
		merged.PowerKW = provider.Round2(merged.PowerKW + p.PowerKW)
		merged.TodayKWh = provider.Round2(merged.TodayKWh + p.TodayKWh)
		merged.TotalKWh = provider.Round2(merged.TotalKWh + p.TotalKWh)
		merged.CO2Kg = provider.Round2(merged.CO2Kg + p.CO2Kg)
		merged.Revenue = provider.Round2(merged.Revenue + p.Revenue)
		merged.Health = provider.WorseOf(merged.Health, p.Health)
	}
	return out
}
