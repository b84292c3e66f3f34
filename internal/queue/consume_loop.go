package queue

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// ErrDiscard marks a handler error that retrying cannot fix, such as a
// malformed payload. The message is logged and committed.
var ErrDiscard = errors.New("discard message")

// Handler processes a single message
type Handler func(ctx context.Context, msg kafka.Message) error

// ConsumeLoop feeds messages from a source to a handler one at a time and
// commits each offset once the handler is done with it. A message whose
// handler fails is retried until it succeeds or is discarded, so no
// commit ever covers an unhandled offset.
type ConsumeLoop struct {
	source  MessageSource
	handle  Handler
	clock   clock.Clock
	backoff time.Duration
	log     *logrus.Entry
}

// NewConsumeLoop creates a consume loop that backs off one second after
// consumer or handler errors
func NewConsumeLoop(source MessageSource, handle Handler, log *logrus.Entry) *ConsumeLoop {
	return &ConsumeLoop{
		source:  source,
		handle:  handle,
		clock:   clock.WallClock,
		backoff: time.Second,
		log:     log,
	}
}

// Run consumes until ctx is cancelled
func (l *ConsumeLoop) Run(ctx context.Context) {
	for {
		msg, err := l.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.WithError(err).Error("Failed to consume message")
			if !l.wait(ctx) {
				return
			}
			continue
		}

		if !l.process(ctx, msg) {
			return
		}
	}
}

// process returns false when ctx ends before the message is handled
func (l *ConsumeLoop) process(ctx context.Context, msg kafka.Message) bool {
	fields := logrus.Fields{"partition": msg.Partition, "offset": msg.Offset}

	for {
		err := l.handle(ctx, msg)
		if err == nil || errors.Is(err, ErrDiscard) {
			if err != nil {
				l.log.WithError(err).WithFields(fields).Error("Discarding message")
			}
			if err := l.source.Commit(ctx, msg); err != nil {
				l.log.WithError(err).WithFields(fields).Warn("Failed to commit offset")
			}
			return true
		}

		l.log.WithError(err).WithFields(fields).Error("Failed to handle message, retrying")
		if !l.wait(ctx) {
			return false
		}
	}
}

func (l *ConsumeLoop) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(l.backoff):
		return true
	}
}
