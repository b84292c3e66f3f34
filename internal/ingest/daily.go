package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalDayStart returns midnight, in loc, of the day containing ts.
func LocalDayStart(ts int64, loc *time.Location) time.Time {
	t := time.Unix(ts, 0).In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayBounds returns the [start, end) range in epoch seconds of the local
// day containing ts. The end is the next local midnight, so days spanning a
// DST change are 23 or 25 hours long.
func DayBounds(ts int64, loc *time.Location) (int64, int64) {
	start := LocalDayStart(ts, loc)
	return start.Unix(), start.AddDate(0, 0, 1).Unix()
}

// DailyAggregator sums a device's increments for the local day.
type DailyAggregator struct {
	store ReadingStore
	loc   *time.Location
	retry RetryPolicy
	log   *logrus.Entry
}

// NewDailyAggregator creates a daily aggregator reading from store.
func NewDailyAggregator(store ReadingStore, loc *time.Location, policy RetryPolicy, log *logrus.Entry) *DailyAggregator {
	return &DailyAggregator{
		store: store,
		loc:   loc,
		retry: policy,
		log:   log,
	}
}

// PriorTotal returns the liters already recorded for deviceID on the local
// day of ts. The record stored at exactly ts is left out, since the caller
// is about to overwrite it.
//
// A store failure yields 0 and an *AggregationReadError; callers treat the
// day as starting fresh.
func (d *DailyAggregator) PriorTotal(ctx context.Context, deviceID string, ts int64) (float64, error) {
	from, to := DayBounds(ts, d.loc)

	var readings []Reading
	err := d.retry.do(ctx, d.log, "daily range read", func() error {
		var err error
		readings, err = d.store.ReadingsBetween(ctx, deviceID, from, to)
		return err
	})
	if err != nil {
		return 0, &AggregationReadError{DeviceID: deviceID, Err: err}
	}

	total := 0.0
	for _, r := range readings {
		if r.Timestamp == ts {
			continue
		}
		total += r.LitersIncrement
	}

	return total, nil
}
