package search

import (
	"sync"

	"go.uber.org/zap"

	"github.com/your-org/consolegrid/internal/domain"
)

// Hub holds the process-wide search query shared by every grid on the console.
// Each subscriber gets its own goroutine and only ever sees the latest value,
// so a slow grid never blocks Set or other grids.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	current string
	subs    map[uint64]*subscriber
	nextID  uint64
	closed  bool
}

type subscriber struct {
	fn      func(string)
	updates chan string // capacity 1, holds the latest undelivered value
	stop    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[uint64]*subscriber),
	}
}

// Current returns the current query
func (h *Hub) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Set publishes a new query. Publishing the current value again is a no-op.
func (h *Hub) Set(query string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || query == h.current {
		return
	}
	h.current = query

	for _, s := range h.subs {
		s.offer(query)
	}
	h.logger.Debug("search query changed",
		zap.String("query", query),
		zap.Int("subscribers", len(h.subs)),
	)
}

// Subscribe registers fn for query changes. The returned release function is
// idempotent and waits for a running fn to return; it must not be called from
// inside fn.
func (h *Hub) Subscribe(fn func(query string)) (release func()) {
	s := &subscriber{
		fn:      fn,
		updates: make(chan string, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.done)
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			s.shutdown()
		})
	}
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber; later Set calls are ignored
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// offer replaces any undelivered value with v
func (s *subscriber) offer(v string) {
	for {
		select {
		case s.updates <- v:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case v := <-s.updates:
			select {
			case <-s.stop:
				return
			default:
			}
			s.fn(v)
		}
	}
}

func (s *subscriber) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

var _ domain.SearchSource = (*Hub)(nil)
