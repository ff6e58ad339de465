package events

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Publisher is a sink for call reports: the debug log, the websocket report
// hub and NATS.
type Publisher interface {
	// Publish delivers one report. It fails only when the sink's transport
	// does.
	Publish(ctx context.Context, event Event) error

	// PublishAsync hands a report to the sink without waiting. Reporter uses
	// it so a slow sink never stalls the listener hub.
	PublishAsync(event Event)

	// Flush waits for reports handed over by PublishAsync.
	Flush(ctx context.Context) error

	// Close flushes and releases the sink.
	Close() error
}

// LogPublisher writes every call report to the debug log.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a LogPublisher. A nil logger means slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log(event)
	return nil
}

func (p *LogPublisher) PublishAsync(event Event) {
	p.log(event)
}

func (p *LogPublisher) log(event Event) {
	attrs := []any{"subject", event.Subject(), "type", event.Type()}
	if id := event.CallID(); id != 0 {
		attrs = append(attrs, "call_id", id)
	}
	switch e := event.(type) {
	case *CallStateEvent:
		attrs = append(attrs, "state", e.Snapshot.TelState, "prior_state", e.Prior)
	case *CallEndedEvent:
		attrs = append(attrs, "ended_type", e.EndedType, "disposition", e.Disposition, "talk_ms", e.TalkDurationMs)
	}
	p.logger.Debug("[Events] Call report", attrs...)
}

func (p *LogPublisher) Flush(ctx context.Context) error { return nil }

func (p *LogPublisher) Close() error { return nil }

// Fanout delivers each call report to every configured sink. A failing sink
// does not keep the report from the others.
type Fanout struct {
	sinks []Publisher
}

// NewFanout returns a Fanout over sinks. Nil sinks are skipped.
func NewFanout(sinks ...Publisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Publish delivers event to all sinks concurrently and joins their errors.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		g.Go(func() error {
			if err := s.Publish(ctx, event); err != nil {
				slog.Warn("[Events] Sink failed to publish call report",
					"error", err,
					"type", event.Type(),
					"call_id", event.CallID(),
				)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (f *Fanout) PublishAsync(event Event) {
	for _, s := range f.sinks {
		s.PublishAsync(event)
	}
}

func (f *Fanout) Flush(ctx context.Context) error {
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		g.Go(func() error {
			errs[i] = s.Flush(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close closes the sinks in order.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
