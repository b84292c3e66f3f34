package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DailyAggregator rolls archived readings up into daily consumption per
// local calendar day
type DailyAggregator struct {
	db  Execer
	loc *time.Location
	log *logrus.Entry
}

// NewDailyAggregator creates a new daily aggregator for days in loc
func NewDailyAggregator(db Execer, loc *time.Location) *DailyAggregator {
	return &DailyAggregator{
		db:  db,
		loc: loc,
		log: logrus.WithField("component", "daily-aggregator"),
	}
}

const dailyQuery = `
	INSERT INTO daily_consumption (
		device_id, day, liters, max_flow_rate, peak_daily_total,
		anomaly_readings, sample_count
	)
	SELECT
		device_id,
		$3::date AS day,
		SUM(liters_increment) AS liters,
		MAX(flow_rate) AS max_flow_rate,
		MAX(daily_total) AS peak_daily_total,
		COUNT(*) FILTER (WHERE cardinality(anomalies) > 0) AS anomaly_readings,
		COUNT(*) AS sample_count
	FROM
		water_readings
	WHERE
		reading_time >= $1 AND reading_time < $2
	GROUP BY
		device_id
	ON CONFLICT (device_id, day) DO UPDATE
	SET
		liters = EXCLUDED.liters,
		max_flow_rate = EXCLUDED.max_flow_rate,
		peak_daily_total = EXCLUDED.peak_daily_total,
		anomaly_readings = EXCLUDED.anomaly_readings,
		sample_count = EXCLUDED.sample_count
`

// Aggregate rolls up the local day containing target
func (d *DailyAggregator) Aggregate(ctx context.Context, target time.Time) error {
	start, end := DayWindow(target, d.loc)
	day := start.Format("2006-01-02")

	result, err := d.db.ExecContext(ctx, dailyQuery, start, end, day)
	if err != nil {
		return fmt.Errorf("failed to aggregate daily consumption: %w", err)
	}

	rows, _ := result.RowsAffected()
	d.log.WithFields(logrus.Fields{
		"day":     day,
		"devices": rows,
	}).Info("Daily aggregation completed")

	return nil
}

// AggregatePreviousDay rolls up the local day before the one containing now
func (d *DailyAggregator) AggregatePreviousDay(ctx context.Context, now time.Time) error {
	start, _ := DayWindow(now, d.loc)
	return d.Aggregate(ctx, start.Add(-time.Minute))
}
