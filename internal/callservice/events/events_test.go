package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebas/callservice/internal/callservice/call"
	"github.com/sebas/callservice/internal/callservice/listener"
)

func sampleInfo() call.Info {
	return call.Info{
		ID:           3,
		Type:         call.TypeIMS,
		Direction:    call.DirectionIncoming,
		Number:       "10086",
		TelState:     call.StateActive,
		RunningState: call.RunningActive,
		VideoState:   call.VideoVoice,
	}
}

func TestEventSubjectNaming(t *testing.T) {
	builder := NewBuilder("test-node")

	event := builder.CallCreated(sampleInfo())

	expected := "callservice.calls.3.created"
	if got := event.Subject(); got != expected {
		t.Errorf("Subject() = %q, want %q", got, expected)
	}
}

func TestSubjectPatterns(t *testing.T) {
	builder := NewBuilder("test")
	info := sampleInfo()

	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"created", builder.CallCreated(info), "callservice.calls.3.created"},
		{"state", builder.CallStateChanged(info, call.StateAlerting), "callservice.calls.3.state"},
		{"activated", builder.IncomingActivated(info), "callservice.calls.3.activated"},
		{"hungup", builder.IncomingHungUp(info, false, ""), "callservice.calls.3.hungup"},
		{"detail", builder.CallDetail(listener.CallEvent{CallID: 3, Kind: listener.EventMuteChanged}), "callservice.calls.3.detail"},
		{"slot detail", builder.CallDetail(listener.CallEvent{SlotID: 1, Kind: listener.EventSettingChanged}), "callservice.slots.1.detail"},
		{"ended", builder.CallEnded(info).Build(), "callservice.calls.3.ended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCallStateEventJSON(t *testing.T) {
	builder := NewBuilder("test-node")

	event := builder.CallStateChanged(sampleInfo(), call.StateAlerting)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	checks := map[string]string{
		"event_type":  "call.state",
		"node_id":     "test-node",
		"prior_state": "ALERTING",
	}
	for k, want := range checks {
		if got, ok := m[k].(string); !ok || got != want {
			t.Errorf("m[%q] = %v, want %q", k, m[k], want)
		}
	}
	if got := m["call_id"].(float64); got != 3 {
		t.Errorf("call_id = %v, want 3", got)
	}
	snap := m["call"].(map[string]interface{})
	if snap["running_state"] != "ACTIVE" || snap["type"] != "IMS" {
		t.Errorf("call snapshot = %v", snap)
	}
	if event.ID() == "" {
		t.Error("event id is empty")
	}
}

func TestCallEndedDurations(t *testing.T) {
	builder := NewBuilder("test-node")
	base := time.Unix(1000, 0)

	t.Run("answered", func(t *testing.T) {
		info := sampleInfo()
		info.CreatedAt = base
		info.RingBeginAt = base.Add(time.Second)
		info.AnsweredAt = base.Add(3 * time.Second)
		info.EndedAt = base.Add(63 * time.Second)
		info.EndedType = call.EndedRemoteHangup

		ev := builder.CallEnded(info).Build()
		if ev.RingDurationMs != 2000 {
			t.Errorf("RingDurationMs = %d, want 2000", ev.RingDurationMs)
		}
		if ev.TalkDurationMs != 60000 {
			t.Errorf("TalkDurationMs = %d, want 60000", ev.TalkDurationMs)
		}
		if ev.TotalDurationMs != 63000 {
			t.Errorf("TotalDurationMs = %d, want 63000", ev.TotalDurationMs)
		}
		if ev.Disposition != DispositionAnswered {
			t.Errorf("Disposition = %q", ev.Disposition)
		}
		if ev.EndedType != "remote_hangup" {
			t.Errorf("EndedType = %q", ev.EndedType)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		info := sampleInfo()
		info.CreatedAt = base
		info.RingBeginAt = base
		info.EndedAt = base.Add(5 * time.Second)
		info.EndedType = call.EndedRejected

		ev := builder.CallEnded(info).Message("busy").Build()
		if ev.Disposition != DispositionRejected || ev.TalkDurationMs != 0 {
			t.Errorf("Disposition = %q, talk = %d", ev.Disposition, ev.TalkDurationMs)
		}
		if ev.RingDurationMs != 5000 {
			t.Errorf("RingDurationMs = %d, want 5000", ev.RingDurationMs)
		}
		if ev.DisconnectMessage != "busy" {
			t.Errorf("DisconnectMessage = %q", ev.DisconnectMessage)
		}
	})
}

// recorder is an in-memory sink.
type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (r *recorder) Publish(ctx context.Context, event Event) error {
	r.PublishAsync(event)
	return r.err
}

func (r *recorder) PublishAsync(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Flush(ctx context.Context) error { return r.err }

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.err
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	b := NewBuilder("test")

	if err := pub.Publish(context.Background(), b.CallStateChanged(sampleInfo(), call.StateAlerting)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	pub.PublishAsync(b.CallEnded(sampleInfo()).Build())

	out := buf.String()
	for _, want := range []string{"call_id=3", "state=ACTIVE", "prior_state=ALERTING", "type=call.ended", "disposition="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := NewFanout(a, nil, b)
	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (nil sink skipped)", f.Len())
	}

	event := NewBuilder("test").CallCreated(sampleInfo())
	if err := f.Publish(context.Background(), event); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	f.PublishAsync(event)
	for name, r := range map[string]*recorder{"a": a, "b": b} {
		if got := len(r.types()); got != 2 {
			t.Errorf("sink %s got %d reports, want 2", name, got)
		}
	}

	t.Run("failing sink", func(t *testing.T) {
		boom := errors.New("nats down")
		bad, good := &recorder{err: boom}, &recorder{}
		f := NewFanout(bad, good)
		if err := f.Publish(context.Background(), event); !errors.Is(err, boom) {
			t.Errorf("Publish() error = %v, want %v", err, boom)
		}
		if len(good.types()) != 1 {
			t.Error("healthy sink missed the report")
		}
		if err := f.Flush(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Flush() error = %v, want %v", err, boom)
		}
		if err := f.Close(); !errors.Is(err, boom) {
			t.Errorf("Close() error = %v, want %v", err, boom)
		}
		if !bad.closed || !good.closed {
			t.Error("Close() skipped a sink")
		}
	})
}

func TestReporterPublishesEveryNotification(t *testing.T) {
	pub := &recorder{}
	r := NewReporter(NewBuilder("test"), pub)

	hub := listener.NewHub()
	hub.AddOneObserver(r)

	info := sampleInfo()
	hub.NewCallCreated(info)
	hub.CallStateUpdated(info, call.StateAlerting)
	hub.IncomingCallActivated(info)
	hub.IncomingCallHungUp(info, true, "later")
	hub.CallEventUpdated(listener.CallEvent{CallID: 3, Kind: listener.EventRttStarted})
	hub.CallDestroyed(info)

	got := pub.types()
	want := []EventType{CallCreated, CallStateChanged, CallIncomingActivated, CallIncomingHungUp, CallDetail, CallEnded}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}
