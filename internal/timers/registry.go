// Package timers owns pending one-shot deliveries per user.
//
// A fired timer does not send anything itself: it enqueues a Delivery that a
// worker started with Run hands to the dispatcher. Every user has its own
// lock and generation counter; CancelAll stops all of the user's timers and
// bumps the generation so deliveries already queued for the old generation
// are dropped by the worker.
package timers

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"daily-nudge/internal/metrics"
	"daily-nudge/internal/model"
)

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = errors.New("timer registry stopped")

// DefaultQueueSize is the capacity of the fired-delivery queue.
const DefaultQueueSize = 256

// Handle identifies one scheduled delivery.
type Handle struct {
	ID     string
	UserID string
	FireAt time.Time
}

// Delivery is a fired timer waiting for the worker.
type Delivery struct {
	ID         string
	UserID     string
	Generation uint64
	FireAt     time.Time
	Payload    model.Payload
}

type userTimers struct {
	mu      sync.Mutex
	gen     uint64
	pending map[string]*time.Timer

	// sending is read-held by the worker across the generation check and the
	// send; CancelAll takes it exclusively. Always acquired before mu.
	sending sync.RWMutex
}

type Registry struct {
	users sync.Map // userID -> *userTimers

	queue    chan Delivery
	done     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	dispatcher Dispatcher
	now        func() time.Time
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewRegistry returns a registry delivering through d.
func NewRegistry(d Dispatcher, queueSize int, m *metrics.Metrics, log zerolog.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		queue:      make(chan Delivery, queueSize),
		done:       make(chan struct{}),
		dispatcher: d,
		now:        time.Now,
		metrics:    m,
		log:        log,
	}
}

func (r *Registry) user(userID string) *userTimers {
	if v, ok := r.users.Load(userID); ok {
		return v.(*userTimers)
	}
	v, _ := r.users.LoadOrStore(userID, &userTimers{pending: make(map[string]*time.Timer)})
	return v.(*userTimers)
}

// Schedule arms a one-shot delivery of p to userID at fireAt. A fireAt in
// the past fires immediately; callers that must skip past times check
// before scheduling.
func (r *Registry) Schedule(userID string, fireAt time.Time, p model.Payload) (Handle, error) {
	if r.stopped.Load() {
		return Handle{}, ErrStopped
	}
	u := r.user(userID)
	id := uuid.NewString()

	u.mu.Lock()
	defer u.mu.Unlock()

	gen := u.gen
	delay := fireAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	// fire takes u.mu, so it cannot observe the map before the insert below.
	u.pending[id] = time.AfterFunc(delay, func() {
		r.fire(userID, id, gen, fireAt, p)
	})
	r.metrics.TimerScheduled()

	return Handle{ID: id, UserID: userID, FireAt: fireAt}, nil
}

// CancelAll stops every pending delivery of userID and invalidates any
// delivery of the current generation still in the queue. A send of the user
// already in progress is waited for, so no canceled delivery reaches the
// dispatcher after CancelAll returns.
func (r *Registry) CancelAll(userID string) int {
	v, ok := r.users.Load(userID)
	if !ok {
		return 0
	}
	u := v.(*userTimers)

	u.sending.Lock()
	defer u.sending.Unlock()
	u.mu.Lock()
	defer u.mu.Unlock()

	n := 0
	for id, t := range u.pending {
		t.Stop()
		delete(u.pending, id)
		n++
	}
	u.gen++
	r.metrics.TimersCanceled(n)
	return n
}

// Pending returns the number of armed timers for userID.
func (r *Registry) Pending(userID string) int {
	v, ok := r.users.Load(userID)
	if !ok {
		return 0
	}
	u := v.(*userTimers)
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

func (r *Registry) fire(userID, id string, gen uint64, fireAt time.Time, p model.Payload) {
	u := r.user(userID)

	u.mu.Lock()
	_, armed := u.pending[id]
	delete(u.pending, id)
	current := u.gen == gen
	u.mu.Unlock()

	if !armed || !current {
		return
	}
	r.metrics.TimerFired()

	select {
	case r.queue <- Delivery{ID: id, UserID: userID, Generation: gen, FireAt: fireAt, Payload: p}:
	case <-r.done:
	}
}

// current reports whether gen is still the user's live generation.
func (r *Registry) current(userID string, gen uint64) bool {
	u := r.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gen == gen
}

// Stop cancels every pending timer and releases blocked fires. Workers exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.done)
		r.users.Range(func(key, _ any) bool {
			r.CancelAll(key.(string))
			return true
		})
	})
}

// WithClock replaces the clock used to turn fire times into delays.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

