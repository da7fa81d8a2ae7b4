package streaming

import (
	"sync"
	"time"

	"github.com/structa/flowgate/core"
)

// defaultRetention is how long a closed stream stays available for replay.
const defaultRetention = time.Hour

// Registry tracks the stream for each execution and reaps closed streams
// after a retention window.
type Registry struct {
	mu        sync.RWMutex
	streams   map[string]*registryEntry
	retention time.Duration
	logger    core.Logger

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

type registryEntry struct {
	stream   *Stream
	closedAt time.Time // zero while the stream is live
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRetention overrides how long closed streams remain replayable.
func WithRetention(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithRegistryLogger sets the logger used by the janitor.
func WithRegistryLogger(logger core.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry and starts its janitor goroutine.
// Call Stop when done.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		streams:     make(map[string]*registryEntry),
		retention:   defaultRetention,
		logger:      &core.NoOpLogger{},
		stopJanitor: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.janitor()
	return r
}

// Open returns the stream for an execution, creating it if needed.
func (r *Registry) Open(executionID string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.streams[executionID]; ok {
		return entry.stream
	}
	stream := NewStream(executionID)
	r.streams[executionID] = &registryEntry{stream: stream}
	return stream
}

// Get returns the stream for an execution or core.ErrStreamNotFound.
func (r *Registry) Get(executionID string) (*Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.streams[executionID]
	if !ok {
		return nil, core.ErrStreamNotFound
	}
	return entry.stream, nil
}

// MarkClosed records the close time so the janitor can reap the stream
// after the retention window. The stream itself stays replayable until then.
func (r *Registry) MarkClosed(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.streams[executionID]; ok && entry.closedAt.IsZero() {
		entry.closedAt = time.Now()
	}
}

// Stop terminates the janitor and closes every tracked stream.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopJanitor) })
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.streams {
		entry.stream.Close()
		delete(r.streams, id)
	}
}

func (r *Registry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopJanitor:
			return
		case now := <-ticker.C:
			r.reap(now)
		}
	}
}

func (r *Registry) reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.streams {
		closedAt := entry.closedAt
		if closedAt.IsZero() && entry.stream.Closed() {
			entry.closedAt = now
			continue
		}
		if !closedAt.IsZero() && now.Sub(closedAt) >= r.retention {
			entry.stream.Close()
			delete(r.streams, id)
			r.logger.Debug("Reaped expired stream", map[string]interface{}{
				"execution_id": id,
			})
		}
	}
}
