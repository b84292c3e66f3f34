package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// HourlyAggregator rolls archived readings up into hourly consumption
type HourlyAggregator struct {
	db  Execer
	log *logrus.Entry
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(db Execer) *HourlyAggregator {
	return &HourlyAggregator{
		db:  db,
		log: logrus.WithField("component", "hourly-aggregator"),
	}
}

const hourlyQuery = `
	INSERT INTO hourly_consumption (
		device_id, hour_start, liters, avg_flow_rate, max_flow_rate, sample_count
	)
	SELECT
		device_id,
		$1 AS hour_start,
		SUM(liters_increment) AS liters,
		AVG(flow_rate) AS avg_flow_rate,
		MAX(flow_rate) AS max_flow_rate,
		COUNT(*) AS sample_count
	FROM
		water_readings
	WHERE
		reading_time >= $1 AND reading_time < $2
	GROUP BY
		device_id
	ON CONFLICT (device_id, hour_start) DO UPDATE
	SET
		liters = EXCLUDED.liters,
		avg_flow_rate = EXCLUDED.avg_flow_rate,
		max_flow_rate = EXCLUDED.max_flow_rate,
		sample_count = EXCLUDED.sample_count
`

// Aggregate rolls up the hour containing target
func (h *HourlyAggregator) Aggregate(ctx context.Context, target time.Time) error {
	start, end := HourWindow(target)

	result, err := h.db.ExecContext(ctx, hourlyQuery, start, end)
	if err != nil {
		return fmt.Errorf("failed to aggregate hourly consumption: %w", err)
	}

	rows, _ := result.RowsAffected()
	h.log.WithFields(logrus.Fields{
		"hour":    start.Format("2006-01-02 15:04"),
		"devices": rows,
	}).Info("Hourly aggregation completed")

	return nil
}

// AggregatePreviousHour rolls up the last full hour before now
func (h *HourlyAggregator) AggregatePreviousHour(ctx context.Context, now time.Time) error {
	return h.Aggregate(ctx, now.Add(-time.Hour))
}
