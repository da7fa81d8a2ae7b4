package streaming

import (
	"sync"

	"github.com/structa/flowgate/core"
)

// bufferCap bounds the per-execution replay buffer. Events beyond the cap
// evict the oldest.
const bufferCap = 1000

// subscriberBuffer is the channel depth handed to each subscriber. A
// subscriber that falls further behind than this loses events.
const subscriberBuffer = 64

// Stream fans events for one execution out to subscribers and retains a
// bounded replay buffer so late subscribers see the full history.
type Stream struct {
	executionID string

	mu          sync.Mutex
	buffer      []Event
	subscribers map[int]chan Event
	nextSubID   int
	closed      bool
}

// NewStream creates a stream for the given execution.
func NewStream(executionID string) *Stream {
	return &Stream{
		executionID: executionID,
		subscribers: make(map[int]chan Event),
	}
}

// ExecutionID returns the execution this stream belongs to.
func (s *Stream) ExecutionID() string { return s.executionID }

// Publish appends the event to the replay buffer and delivers it to live
// subscribers. A terminal event type closes the stream afterwards.
// Publishing to a closed stream returns ErrStreamClosed.
func (s *Stream) Publish(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrStreamClosed
	}

	s.buffer = append(s.buffer, event)
	if len(s.buffer) > bufferCap {
		s.buffer = s.buffer[len(s.buffer)-bufferCap:]
	}

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is not draining. Drop it rather than block publishing.
			close(ch)
			delete(s.subscribers, id)
		}
	}

	if event.Type.terminal() {
		s.closeLocked()
	}
	return nil
}

// Subscribe returns a channel that first replays the buffered history and
// then delivers live events. When the stream is (or becomes) closed the
// channel is closed after the replay drains. Cancel releases the
// subscription.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()

	replay := make([]Event, len(s.buffer))
	copy(replay, s.buffer)

	if s.closed {
		s.mu.Unlock()
		ch := make(chan Event, len(replay))
		for _, event := range replay {
			ch <- event
		}
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	live := make(chan Event, subscriberBuffer)
	s.subscribers[id] = live
	s.mu.Unlock()

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for _, event := range replay {
			out <- event
		}
		for event := range live {
			out <- event
		}
	}()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ch, ok := s.subscribers[id]; ok {
			close(ch)
			delete(s.subscribers, id)
		}
	}
	return out, cancel
}

// Close marks the stream terminal and closes all subscriber channels.
// Closing twice is a no-op.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Closed reports whether the stream has seen a terminal event or Close.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// History returns a copy of the buffered events.
func (s *Stream) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.buffer))
	copy(out, s.buffer)
	return out
}
