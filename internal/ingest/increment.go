package ingest

import "github.com/shopspring/decimal"

const (
	incrementPlaces  = 4
	dailyTotalPlaces = 3
)

// ComputeIncrement converts a flow rate in L/min held for intervalMs into
// liters. intervalMs must be positive; callers validate it first.
func ComputeIncrement(flowRate, intervalMs float64) float64 {
	return flowRate * (intervalMs / 60000)
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
