package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/smukkama/water-ingest/internal/database"
	"github.com/smukkama/water-ingest/internal/protocol"
)

var errUndecodable = errors.New("failed to decode message")

// Archive stores readings durably. *database.DB implements it.
type Archive interface {
	EnsureDevice(ctx context.Context, dev *database.Device) error
	UpsertReading(ctx context.Context, row *database.ReadingRow) error
}

// MessageSource is the consumer side of a topic. *Consumer implements it.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// BatchWriter consumes reading events and batch-writes them to the archive
type BatchWriter struct {
	consumer      MessageSource
	archive       Archive
	batchSize     int
	flushInterval time.Duration
	log           *logrus.Entry
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer MessageSource, archive Archive, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		consumer:      consumer,
		archive:       archive,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           logrus.WithField("component", "batch-writer"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the archive
func (bw *BatchWriter) Start(ctx context.Context) error {
	bw.wg.Add(1)
	go bw.run(ctx)
	return nil
}

// Stop stops the batch writer gracefully
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		for {
			msg, err := bw.consumer.Consume(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				bw.log.WithError(err).Error("Consumer error")
				time.Sleep(time.Second)
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		// A full batch that could not be archived is retried on the next
		// tick; stop reading until then so the batch does not grow.
		in := msgChan
		if len(batch) >= bw.batchSize {
			in = nil
		}

		select {
		case <-bw.stopCh:
			// Flush remaining batch before stopping. Anything left is
			// uncommitted and will be redelivered after restart.
			bw.flush(ctx, batch)
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.log.WithField("size", len(batch)).Debug("Flush interval reached, flushing")
				batch = bw.flush(ctx, batch)
			}

		case msg := <-in:
			batch = append(batch, msg)

			if len(batch) >= bw.batchSize {
				bw.log.WithField("size", len(batch)).Debug("Batch full, flushing")
				batch = bw.flush(ctx, batch)
			}
		}
	}
}

// flush archives the batch in offset order and returns the messages that
// still need archiving. For each partition, the offset committed is that of
// its last message in the contiguous archived prefix, since a commit covers
// every earlier offset in the partition.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}

	done := 0
	for _, msg := range batch {
		err := bw.processMessage(ctx, msg)
		if err != nil && !errors.Is(err, errUndecodable) {
			bw.log.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("Failed to archive reading, will retry")
			break
		}
		if err != nil {
			// Retrying cannot fix a malformed payload.
			bw.log.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("Skipping undecodable message")
		}
		done++
	}

	// Latest archived message per partition.
	latest := make(map[int]kafka.Message)
	for _, msg := range batch[:done] {
		latest[msg.Partition] = msg
	}
	for _, msg := range latest {
		if err := bw.consumer.Commit(ctx, msg); err != nil {
			bw.log.WithError(err).WithField("partition", msg.Partition).Warn("Failed to commit offset")
		}
	}

	bw.log.WithFields(logrus.Fields{
		"archived": done,
		"batch":    len(batch),
	}).Info("Flushed batch to archive")

	if done == len(batch) {
		return nil
	}
	return batch[done:]
}

func (bw *BatchWriter) processMessage(ctx context.Context, msg kafka.Message) error {
	event, err := protocol.DecodeReadingEvent(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}

	row := readingRow(event)

	device := &database.Device{
		DeviceID:   row.DeviceID,
		SensorType: row.SensorType,
		Location:   row.Location,
		LastSeenAt: row.ReadingTime,
	}
	if err := bw.archive.EnsureDevice(ctx, device); err != nil {
		return fmt.Errorf("failed to ensure device: %w", err)
	}

	if err := bw.archive.UpsertReading(ctx, row); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	return nil
}

func readingRow(event *protocol.ReadingEvent) *database.ReadingRow {
	r := event.Reading

	var anomalies []string
	for _, a := range r.Anomalies {
		anomalies = append(anomalies, string(a))
	}

	return &database.ReadingRow{
		DeviceID:        r.DeviceID,
		ReadingTS:       r.Timestamp,
		ReadingTime:     time.Unix(r.Timestamp, 0).UTC(),
		FlowRate:        r.FlowRate,
		PulseCount:      r.PulseCount,
		IntervalMs:      r.IntervalMs,
		LitersIncrement: r.LitersIncrement,
		DailyTotal:      r.DailyTotal,
		Anomalies:       anomalies,
		SensorType:      r.SensorType,
		Location:        r.Location,
		CreatedAt:       time.UnixMilli(r.CreatedAt).UTC(),
		IngestedAt:      event.IngestedAt,
	}
}
