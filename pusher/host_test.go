package pusher

import (
	"sync"
)

// manualHost queues deferred tasks until drain is called, so tests decide
// exactly when the update cycle runs.
type manualHost struct {
	mu      sync.Mutex
	tasks   []func()
	digests int
}

func newManualHost() *manualHost {
	return &manualHost{}
}

func (h *manualHost) Defer(task func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.tasks = append(h.tasks, task)
}

func (h *manualHost) Digest() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.digests++
}

// drain runs queued tasks, including ones queued while draining.
func (h *manualHost) drain() {
	for {
		h.mu.Lock()
		if len(h.tasks) == 0 {
			h.mu.Unlock()
			return
		}
		task := h.tasks[0]
		h.tasks = h.tasks[1:]
		h.mu.Unlock()

		task()
	}
}

func (h *manualHost) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.tasks)
}

func (h *manualHost) digestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.digests
}
