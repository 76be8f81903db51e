package broker

import (
	"odin-stomp/internal/container"
	"odin-stomp/internal/metrics"
	"odin-stomp/internal/wire"
)

// Queue is a single destination's storage, policy, and fan-out.
type Queue struct {
	Name    string
	Config  QueueConfig
	Storage Storage
	Router  *Router
}

// NewQueue creates a Queue with a MemoryStorage backend sized per config.
func NewQueue(name string, config QueueConfig) *Queue {
	return &Queue{
		Name:    name,
		Config:  config,
		Storage: NewMemoryStorage(config),
		Router:  NewRouter(),
	}
}

// Publish enqueues f into the backing Storage and, once subscribers exist,
// drains the backlog through the Router immediately: nothing else ever
// calls Storage.Dequeue, so delivery stays live on every publish rather
// than waiting for a separate drain pass.
func (q *Queue) Publish(f *wire.Frame) error {
	if _, err := q.Storage.Enqueue(f); err != nil {
		return err
	}
	q.drain()
	return nil
}

// drain hands pending frames to the router one at a time until dispatch
// fails (no subscribers) or the backlog is empty.
func (q *Queue) drain() {
	for q.Router.Len() > 0 {
		entry, ok := q.Storage.Dequeue()
		if !ok {
			break
		}
		if !q.Router.Dispatch(entry) {
			break
		}
		metrics.RouterDispatchTotal.WithLabelValues(q.Name).Inc()
	}
	metrics.QueueDepth.WithLabelValues(q.Name).Set(float64(q.Storage.Len()))
}

// Subscribe adds sub to the queue's router and immediately attempts to
// drain any backlog that accumulated while there were no subscribers.
func (q *Queue) Subscribe(sub *Subscription) {
	q.Router.AddSubscription(sub)
	q.drain()
}

// Unsubscribe removes sub from the queue's router.
func (q *Queue) Unsubscribe(sub *Subscription) {
	q.Router.RemoveSubscription(sub)
}

// Bundle is the broker-wide destination table. Destinations are created
// lazily on first SEND or SUBSCRIBE.
type Bundle struct {
	queues        *container.HashMap[*Queue]
	defaultConfig QueueConfig
}

// NewBundle creates an empty Bundle using config for auto-created queues.
func NewBundle(config QueueConfig) *Bundle {
	return &Bundle{
		queues:        container.NewHashMap[*Queue](64),
		defaultConfig: config,
	}
}

// EnsureQueue returns the named queue, creating it with the bundle's
// default configuration if it does not already exist.
func (b *Bundle) EnsureQueue(name string) *Queue {
	key := container.Key(name)
	if q, ok := b.queues.Get(key); ok {
		return q
	}
	q := NewQueue(name, b.defaultConfig)
	b.queues.Add(key, q)
	return q
}

// Lookup returns the named queue without creating it.
func (b *Bundle) Lookup(name string) (*Queue, bool) {
	return b.queues.Get(container.Key(name))
}
