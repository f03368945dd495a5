// Package journal records human-readable monitor events. Every entry goes to
// the rotating text log, the store's event_log table and, when configured,
// an event publisher. None of these sinks can fail the caller.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stone-age-io/svcmon/internal/state"
	"go.uber.org/zap"
)

// DefaultOriginator tags entries written by the monitor itself.
const DefaultOriginator = "svcmon"

// EventAppender is the part of the store the journal writes to.
type EventAppender interface {
	AppendEvent(ctx context.Context, ev state.LogEvent) error
}

// Publisher forwards journal entries off-host.
type Publisher interface {
	PublishEvent(ev state.LogEvent) error
}

// Journal fans entries out to its sinks.
type Journal struct {
	text       *zap.Logger
	logger     *zap.Logger
	events     EventAppender
	publisher  Publisher
	clock      clockwork.Clock
	originator string
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the clock used to timestamp entries.
func WithClock(c clockwork.Clock) Option {
	return func(j *Journal) { j.clock = c }
}

// WithPublisher forwards every entry to p.
func WithPublisher(p Publisher) Option {
	return func(j *Journal) { j.publisher = p }
}

// WithOriginator overrides the established_by tag.
func WithOriginator(name string) Option {
	return func(j *Journal) { j.originator = name }
}

// New creates a journal writing text lines through logger and rows through
// events. events may be nil, in which case only the text log is written.
func New(logger *zap.Logger, events EventAppender, opts ...Option) *Journal {
	j := &Journal{
		text:       logger.Named("journal"),
		logger:     logger,
		events:     events,
		clock:      clockwork.NewRealClock(),
		originator: DefaultOriginator,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Append records message for service. An empty service marks a system-wide
// entry.
func (j *Journal) Append(ctx context.Context, service, message string) {
	ev := state.LogEvent{
		ServiceName: service,
		Message:     message,
		At:          j.clock.Now(),
		Originator:  j.originator,
	}

	if service != "" {
		j.text.Info(message, zap.String("service", service))
	} else {
		j.text.Info(message)
	}

	if j.events != nil {
		if err := j.events.AppendEvent(ctx, ev); err != nil {
			j.logger.Warn("Failed to add log entry to store",
				zap.String("service", service),
				zap.Error(err))
		}
	}

	if j.publisher != nil {
		if err := j.publisher.PublishEvent(ev); err != nil {
			j.logger.Debug("Failed to publish journal entry", zap.Error(err))
		}
	}
}

// Appendf formats and records a message.
func (j *Journal) Appendf(ctx context.Context, service, format string, args ...interface{}) {
	j.Append(ctx, service, fmt.Sprintf(format, args...))
}

// Now returns the journal clock's current time.
func (j *Journal) Now() time.Time {
	return j.clock.Now()
}
