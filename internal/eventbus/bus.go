// Package eventbus implements the Event Bus (spec §4.6, component C6): an
// in-process typed publish/subscribe surface delivering event.DeltaEvent
// to bounded, per-subscriber queues.
//
// Grounded on the teacher's per-connection dispatch-loop pattern
// (services/orchestrator/handlers/websocket.go: one goroutine per
// connection, draining a channel of outgoing messages) combined with its
// goroutine_tracker.go tracked-background-work idiom — adapted here into
// "one bounded channel per subscriber handle, with Close waiting for every
// dispatch loop to exit" via golang.org/x/sync/errgroup instead of a
// bespoke WaitGroup tracker.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ailijian/AgentlyFormat/internal/format/event"
	"github.com/ailijian/AgentlyFormat/internal/format/path"
)

// Filter restricts delivery to a kind-set and an optional path prefix
// (spec §4.6: "register a callback for a kind-set and optionally a
// path-prefix filter").
type Filter struct {
	Kinds      map[event.Kind]bool // nil or empty means "all kinds"
	PathPrefix path.Path
	HasPrefix  bool
}

func (f Filter) matches(e event.DeltaEvent) bool {
	if len(f.Kinds) > 0 && !f.Kinds[e.Kind] {
		return false
	}
	if f.HasPrefix && !path.HasPrefix(e.Path, f.PathPrefix) {
		return false
	}
	return true
}

// Callback is invoked once per delivered event. It MUST NOT block for
// longer than Bus.callbackBudget (spec §4.6); exceeding it logs a warning
// but never terminates the subscriber.
type Callback func(event.DeltaEvent)

// Config controls bus-wide defaults (spec §6 config table).
type Config struct {
	SubscriberQueueCap int
	CallbackBudget     time.Duration
	Logger             *slog.Logger
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{SubscriberQueueCap: 1024, CallbackBudget: 50 * time.Millisecond, Logger: slog.Default()}
}

// Subscription is the opaque handle returned by Subscribe (spec §9:
// "identify subscribers by opaque handle and look them up in a central
// registry owned by the bus", avoiding the source's cycle-prone
// callback-holds-a-reference-to-the-session pattern).
type Subscription struct {
	id  uint64
	bus *Bus
}

// Unsubscribe removes this handle from the bus and cancels its dispatch
// loop without waiting for it to exit; events still queued for the handle
// may not be delivered.
func (s Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id       uint64
	filter   Filter
	callback Callback
	queue    chan event.DeltaEvent
	cancel   context.CancelFunc
}

// Bus is one in-process pub/sub surface, typically one per session (spec
// §4.6). It is safe for concurrent Publish/Subscribe/Close.
type Bus struct {
	cfg Config

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	group *errgroup.Group
}

// New builds a Bus using cfg.
func New(cfg Config) *Bus {
	if cfg.SubscriberQueueCap <= 0 {
		cfg.SubscriberQueueCap = 1024
	}
	if cfg.CallbackBudget <= 0 {
		cfg.CallbackBudget = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &errgroup.Group{}
	return &Bus{cfg: cfg, subs: make(map[uint64]*subscriber), group: g}
}

// Subscribe registers callback for events matching filter and starts its
// dispatch loop (spec §4.6).
func (b *Bus) Subscribe(filter Filter, callback Callback) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		id:       id,
		filter:   filter,
		callback: callback,
		queue:    make(chan event.DeltaEvent, b.cfg.SubscriberQueueCap),
		cancel:   cancel,
	}
	b.subs[id] = sub

	b.group.Go(func() error {
		b.dispatchLoop(ctx, sub)
		return nil
	})

	return Subscription{id: id, bus: b}
}

func (b *Bus) dispatchLoop(ctx context.Context, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.queue:
			if !ok {
				return
			}
			b.invokeWithBudget(sub, e)
		}
	}
}

// invokeWithBudget runs sub.callback and logs (without terminating the
// subscriber) if it overruns the callback time budget (spec §4.6).
func (b *Bus) invokeWithBudget(sub *subscriber, e event.DeltaEvent) {
	start := time.Now()
	sub.callback(e)
	if elapsed := time.Since(start); elapsed > b.cfg.CallbackBudget {
		b.cfg.Logger.Warn("event bus subscriber callback exceeded budget",
			"subscriber_id", sub.id, "elapsed", elapsed, "budget", b.cfg.CallbackBudget)
	}
}

// Publish delivers e to every matching subscriber's queue. On a full
// queue, the oldest event is dropped and a SubscriberOverflow Error event
// is delivered to that subscriber only (spec §4.6).
func (b *Bus) Publish(e event.DeltaEvent) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.matches(e) {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.enqueue(sub, e)
	}
}

func (b *Bus) enqueue(sub *subscriber, e event.DeltaEvent) {
	select {
	case sub.queue <- e:
		return
	default:
	}

	// Queue full: drop the oldest pending event, then retry once.
	select {
	case <-sub.queue:
	default:
	}
	select {
	case sub.queue <- e:
	default:
	}

	// Make room for the overflow notice the same way, so the subscriber
	// reliably learns it missed something (spec §4.6).
	select {
	case <-sub.queue:
	default:
	}
	overflow := event.DeltaEvent{
		SessionID:   e.SessionID,
		TimestampMs: e.TimestampMs,
		Kind:        event.KindError,
		Err:         &event.ErrorInfo{Code: "SubscriberOverflow", Message: "subscriber queue full; oldest event dropped"},
	}
	select {
	case sub.queue <- overflow:
	default:
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.cancel()
	}
}

// Close cancels every dispatch loop and waits for them to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.cancel()
		delete(b.subs, id)
	}
	b.mu.Unlock()
	return b.group.Wait()
}
