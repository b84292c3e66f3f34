package ingest

// Anomaly is a fixed-vocabulary classification of a reading.
type Anomaly string

const (
	AnomalyHighFlowRate         Anomaly = "high_flow_rate"
	AnomalyHighDailyConsumption Anomaly = "high_daily_consumption"
	AnomalyPossibleLeak         Anomaly = "possible_leak"
)

// Thresholds, all exclusive.
const (
	HighFlowRateLPerMin = 15.0
	HighDailyLiters     = 500.0
	LeakFlowRateLPerMin = 0.5
)

// Anomalies lists every tag in detection order.
var Anomalies = []Anomaly{
	AnomalyHighFlowRate,
	AnomalyHighDailyConsumption,
	AnomalyPossibleLeak,
}

// DetectAnomalies classifies a reading by its instantaneous flow rate and
// the post-increment daily total. It returns nil when nothing fires.
func DetectAnomalies(flowRate, dailyTotal float64) []Anomaly {
	var anomalies []Anomaly

	if flowRate > HighFlowRateLPerMin {
		anomalies = append(anomalies, AnomalyHighFlowRate)
	}

	if dailyTotal > HighDailyLiters {
		anomalies = append(anomalies, AnomalyHighDailyConsumption)
	}

	if flowRate > 0 && flowRate < LeakFlowRateLPerMin {
		anomalies = append(anomalies, AnomalyPossibleLeak)
	}

	return anomalies
}
