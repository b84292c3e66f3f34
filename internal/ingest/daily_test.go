package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestAggregator(store ReadingStore, loc *time.Location) *DailyAggregator {
	return NewDailyAggregator(store, loc, fastRetry(2), logrus.NewEntry(logrus.New()))
}

func TestLocalDayStart(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)

	// 2024-03-10 01:30 local is 2024-03-09 22:30 UTC
	ts := time.Date(2024, 3, 10, 1, 30, 0, 0, loc).Unix()

	start := LocalDayStart(ts, loc)
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	if !start.Equal(want) {
		t.Errorf("Expected day start %v, got %v", want, start)
	}
}

func TestDayBounds_MidnightSplit(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)

	lateTs := time.Date(2024, 6, 1, 23, 59, 59, 0, loc).Unix()
	earlyTs := time.Date(2024, 6, 2, 0, 0, 1, 0, loc).Unix()

	lateFrom, lateTo := DayBounds(lateTs, loc)
	earlyFrom, earlyTo := DayBounds(earlyTs, loc)

	if lateTo != earlyFrom {
		t.Errorf("Expected adjacent days, got end %d and start %d", lateTo, earlyFrom)
	}
	if lateTs < lateFrom || lateTs >= lateTo {
		t.Errorf("Late reading %d outside its day [%d, %d)", lateTs, lateFrom, lateTo)
	}
	if earlyTs < earlyFrom || earlyTs >= earlyTo {
		t.Errorf("Early reading %d outside its day [%d, %d)", earlyTs, earlyFrom, earlyTo)
	}
	if lateTo-lateFrom != 24*3600 {
		t.Errorf("Expected a 24h day, got %ds", lateTo-lateFrom)
	}
}

func TestDayBounds_DST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	// Clocks spring forward on 2024-03-10
	ts := time.Date(2024, 3, 10, 12, 0, 0, 0, loc).Unix()
	from, to := DayBounds(ts, loc)
	if to-from != 23*3600 {
		t.Errorf("Expected a 23h day, got %ds", to-from)
	}
}

func TestDailyAggregator_PriorTotal(t *testing.T) {
	loc := time.UTC
	store := newMemoryStore()
	agg := newTestAggregator(store, loc)

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, loc)
	store.seed("D1", day.Add(-time.Second).Unix(), 100) // previous day
	store.seed("D1", day.Unix(), 1.5)
	store.seed("D1", day.Add(6*time.Hour).Unix(), 2.25)
	store.seed("D1", day.Add(24*time.Hour).Unix(), 50) // next day
	store.seed("D2", day.Add(time.Hour).Unix(), 9)

	total, err := agg.PriorTotal(context.Background(), "D1", day.Add(12*time.Hour).Unix())
	if err != nil {
		t.Fatalf("PriorTotal failed: %v", err)
	}
	if total != 3.75 {
		t.Errorf("Expected prior total 3.75, got %v", total)
	}
}

func TestDailyAggregator_PriorTotalNoReadings(t *testing.T) {
	agg := newTestAggregator(newMemoryStore(), time.UTC)

	total, err := agg.PriorTotal(context.Background(), "D1", 1717243200)
	if err != nil {
		t.Fatalf("PriorTotal failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected 0, got %v", total)
	}
}

func TestDailyAggregator_PriorTotalExcludesOverwrittenKey(t *testing.T) {
	store := newMemoryStore()
	agg := newTestAggregator(store, time.UTC)

	ts := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Unix()
	store.seed("D1", ts-60, 4)
	store.seed("D1", ts, 10)

	total, err := agg.PriorTotal(context.Background(), "D1", ts)
	if err != nil {
		t.Fatalf("PriorTotal failed: %v", err)
	}
	if total != 4 {
		t.Errorf("Expected 4 (record at ts excluded), got %v", total)
	}
}

func TestDailyAggregator_PriorTotalMissingIncrement(t *testing.T) {
	store := newMemoryStore()
	agg := newTestAggregator(store, time.UTC)

	ts := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Unix()
	store.seed("D1", ts-120, 0)
	store.seed("D1", ts-60, 2)

	total, _ := agg.PriorTotal(context.Background(), "D1", ts)
	if total != 2 {
		t.Errorf("Expected 2, got %v", total)
	}
}

func TestDailyAggregator_PriorTotalReadFailure(t *testing.T) {
	store := newMemoryStore()
	store.readErr = errors.New("connection refused")
	agg := newTestAggregator(store, time.UTC)

	total, err := agg.PriorTotal(context.Background(), "D1", 1717243200)
	if total != 0 {
		t.Errorf("Expected fallback total 0, got %v", total)
	}

	var aerr *AggregationReadError
	if !errors.As(err, &aerr) {
		t.Fatalf("Expected AggregationReadError, got %v", err)
	}
	if aerr.DeviceID != "D1" {
		t.Errorf("Expected device D1, got %s", aerr.DeviceID)
	}
	if store.reads != 2 {
		t.Errorf("Expected 2 read attempts, got %d", store.reads)
	}
}
