package streaming

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/structa/flowgate/core"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case event, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d events, wanted %d", len(out), n)
			}
			out = append(out, event)
		case <-timeout:
			t.Fatalf("timed out after %d events, wanted %d", len(out), n)
		}
	}
	return out
}

func TestLiveSubscriberReceivesEvents(t *testing.T) {
	s := NewStream("exec-1")
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(NewEvent(EventExecutionStarted, "exec-1", nil))
	s.Publish(NewEvent(EventStepStarted, "exec-1", map[string]interface{}{"step": 1}))

	events := collect(t, ch, 2)
	if events[0].Type != EventExecutionStarted {
		t.Errorf("first event = %s, want %s", events[0].Type, EventExecutionStarted)
	}
	if events[1].Data["step"] != 1 {
		t.Errorf("step data = %v, want 1", events[1].Data["step"])
	}
}

func TestLateSubscriberReplaysHistory(t *testing.T) {
	s := NewStream("exec-2")
	s.Publish(NewEvent(EventExecutionStarted, "exec-2", nil))
	s.Publish(NewEvent(EventStepCompleted, "exec-2", nil))

	ch, cancel := s.Subscribe()
	defer cancel()

	events := collect(t, ch, 2)
	if events[0].Type != EventExecutionStarted || events[1].Type != EventStepCompleted {
		t.Errorf("replay order wrong: %v, %v", events[0].Type, events[1].Type)
	}

	// Still live: a third event arrives after replay.
	s.Publish(NewEvent(EventStepStarted, "exec-2", nil))
	more := collect(t, ch, 1)
	if more[0].Type != EventStepStarted {
		t.Errorf("live event after replay = %s", more[0].Type)
	}
}

func TestTerminalEventClosesStream(t *testing.T) {
	s := NewStream("exec-3")
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(NewEvent(EventExecutionStarted, "exec-3", nil))
	s.Publish(NewEvent(EventExecutionCompleted, "exec-3", nil))

	collect(t, ch, 2)
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close after terminal event")
		}
	case <-time.After(2 * time.Second):
		t.Error("channel did not close after terminal event")
	}

	if !s.Closed() {
		t.Error("stream should report closed")
	}
	if err := s.Publish(NewEvent(EventStepStarted, "exec-3", nil)); !errors.Is(err, core.ErrStreamClosed) {
		t.Errorf("Publish after close = %v, want ErrStreamClosed", err)
	}
}

func TestSubscribeAfterCloseReplaysThenCloses(t *testing.T) {
	s := NewStream("exec-4")
	s.Publish(NewEvent(EventExecutionStarted, "exec-4", nil))
	s.Publish(NewEvent(EventExecutionFailed, "exec-4", map[string]interface{}{"error": "boom"}))

	ch, cancel := s.Subscribe()
	defer cancel()

	events := collect(t, ch, 2)
	if events[1].Type != EventExecutionFailed {
		t.Errorf("last replayed = %s, want %s", events[1].Type, EventExecutionFailed)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after replaying a finished stream")
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	s := NewStream("exec-5")
	for i := 0; i < bufferCap+10; i++ {
		s.Publish(NewEvent(EventStepCompleted, "exec-5", map[string]interface{}{"i": i}))
	}
	history := s.History()
	if len(history) != bufferCap {
		t.Fatalf("history length = %d, want %d", len(history), bufferCap)
	}
	if history[0].Data["i"] != 10 {
		t.Errorf("oldest retained = %v, want 10", history[0].Data["i"])
	}
}

func TestCancelDetachesSubscriber(t *testing.T) {
	s := NewStream("exec-6")
	ch, cancel := s.Subscribe()
	cancel()

	s.Publish(NewEvent(EventStepStarted, "exec-6", nil))

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("cancelled subscriber should not receive events")
		}
	case <-time.After(2 * time.Second):
		t.Error("cancelled subscriber channel never closed")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(WithRetention(time.Minute))
	defer r.Stop()

	if _, err := r.Get("missing"); !errors.Is(err, core.ErrStreamNotFound) {
		t.Errorf("Get missing = %v, want ErrStreamNotFound", err)
	}

	s := r.Open("exec-7")
	if s2 := r.Open("exec-7"); s2 != s {
		t.Error("Open should be idempotent per execution")
	}
	got, err := r.Get("exec-7")
	if err != nil || got != s {
		t.Errorf("Get = %v, %v", got, err)
	}
}

func TestRegistryReapsExpiredStreams(t *testing.T) {
	r := NewRegistry(WithRetention(time.Minute))
	defer r.Stop()

	s := r.Open("exec-8")
	s.Publish(NewEvent(EventExecutionCompleted, "exec-8", nil))
	r.MarkClosed("exec-8")

	// Not yet past retention.
	r.reap(time.Now())
	if _, err := r.Get("exec-8"); err != nil {
		t.Fatalf("stream reaped before retention elapsed: %v", err)
	}

	r.reap(time.Now().Add(2 * time.Minute))
	if _, err := r.Get("exec-8"); !errors.Is(err, core.ErrStreamNotFound) {
		t.Errorf("expected reaped stream, got err=%v", err)
	}
}

func TestNATSPublisherSubjects(t *testing.T) {
	event := NewEvent(EventStepCompleted, "exec-3", nil)

	p := NewNATSPublisher(nil)
	if got := p.subject(event); got != "flowgate.events.exec-3.step_completed" {
		t.Errorf("default subject = %q", got)
	}

	p = NewNATSPublisher(nil, WithSubjectPrefix("ops.runs"))
	if got := p.subject(event); got != "ops.runs.exec-3.step_completed" {
		t.Errorf("prefixed subject = %q", got)
	}
}

func TestEventMarshalShape(t *testing.T) {
	event := NewEvent(EventRiskDecision, "exec-9", map[string]interface{}{"action": "require_hitl"})
	payload, err := event.Marshal()
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	text := string(payload)
	for _, want := range []string{`"event":"risk_decision"`, `"execution_id":"exec-9"`, `"action":"require_hitl"`} {
		if !strings.Contains(text, want) {
			t.Errorf("payload %s missing %s", text, want)
		}
	}
}
