package realtime

import (
	"sync"

	"github.com/RyanBlaney/pulso-ppg/heart"
)

// Process-wide handle registry mapping opaque ids (>= 1) to analyzers,
// for host integrations that marshal handles instead of pointers.
// Create/Destroy on distinct handles may run concurrently; operations on
// one handle must not race with its Destroy (handle ownership is the
// caller's responsibility).

var registry = struct {
	mu     sync.Mutex
	nextID uint64
	items  map[uint64]*Analyzer
}{
	nextID: 1,
	items:  make(map[uint64]*Analyzer),
}

// Create validates the options, builds an analyzer and returns its
// handle. Nothing is registered when validation fails.
func Create(fs float64, opt heart.Options) (uint64, error) {
	a, err := NewAnalyzer(fs, opt)
	if err != nil {
		return 0, err
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	id := registry.nextID
	registry.nextID++
	registry.items[id] = a
	return id, nil
}

// lookup resolves a handle, or nil.
func lookup(id uint64) *Analyzer {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.items[id]
}

// Push appends samples to the analyzer behind the handle.
func Push(id uint64, samples []float64) error {
	a := lookup(id)
	if a == nil {
		return heart.NewCodedError(heart.CodeInvalidHandlePush, "unknown analyzer handle %d", id)
	}
	if len(samples) == 0 {
		return heart.NewCodedError(heart.CodeInvalidBuffer, "empty sample buffer")
	}
	a.Push(samples)
	return nil
}

// PushWithTimestamps appends timestamped samples to the analyzer behind
// the handle.
func PushWithTimestamps(id uint64, samples, ts []float64) error {
	a := lookup(id)
	if a == nil {
		return heart.NewCodedError(heart.CodeInvalidHandlePush, "unknown analyzer handle %d", id)
	}
	return a.PushWithTimestamps(samples, ts)
}

// Poll retrieves the next metrics record, or ErrNotReady.
func Poll(id uint64) (*heart.HeartMetrics, error) {
	a := lookup(id)
	if a == nil {
		return nil, heart.NewCodedError(heart.CodeInvalidHandlePoll, "unknown analyzer handle %d", id)
	}
	return a.Poll()
}

// SetWindowSeconds adjusts the analysis window of the handle.
func SetWindowSeconds(id uint64, sec float64) error {
	a := lookup(id)
	if a == nil {
		return heart.NewCodedError(heart.CodeInvalidWindow, "unknown analyzer handle %d", id)
	}
	return a.SetWindowSeconds(sec)
}

// SetUpdateIntervalSeconds adjusts the poll cadence of the handle.
func SetUpdateIntervalSeconds(id uint64, sec float64) error {
	a := lookup(id)
	if a == nil {
		return heart.NewCodedError(heart.CodeInvalidWindow, "unknown analyzer handle %d", id)
	}
	a.SetUpdateIntervalSeconds(sec)
	return nil
}

// Destroy releases the analyzer and invalidates the handle.
func Destroy(id uint64) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.items[id]; !ok {
		return heart.NewCodedError(heart.CodeInvalidHandleFree, "unknown analyzer handle %d", id)
	}
	delete(registry.items, id)
	return nil
}
