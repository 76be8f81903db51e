package broker

import "odin-stomp/internal/container"

// Router hands frames to one of a queue's live subscriptions in round-robin
// order. It holds no storage of its own: a Queue calls Dispatch once per
// dequeued frame, only while the router has subscribers, and does not put a
// frame back into storage if Dispatch reports failure.
type Router struct {
	subs  *container.List[*Subscription]
	index int
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{subs: container.NewList[*Subscription](4)}
}

// AddSubscription appends sub to the rotation. Order among existing
// subscriptions is preserved; new subscribers join at the back rather than
// being inserted by priority.
func (r *Router) AddSubscription(sub *Subscription) {
	r.subs.Push(sub)
}

// RemoveSubscription drops sub from the rotation, fixing up the round-robin
// index so the next Dispatch does not skip or repeat a subscriber.
func (r *Router) RemoveSubscription(sub *Subscription) {
	i := r.subs.IndexFunc(func(s *Subscription) bool { return s == sub })
	if i < 0 {
		return
	}
	r.subs.RemoveAt(i)
	if r.index > i {
		r.index--
	}
	if r.index >= r.subs.Len() {
		r.index = 0
	}
}

// Len reports the number of live subscriptions.
func (r *Router) Len() int { return r.subs.Len() }

// Dispatch hands entry to the next subscription in rotation and advances
// the index: index = index mod len(subs), pick subs[index], advance index,
// deliver. Returns false without consuming the rotation if there are no
// subscribers.
func (r *Router) Dispatch(entry *StoredEntry) bool {
	if r.subs.Len() == 0 {
		return false
	}
	r.index %= r.subs.Len()
	sub := r.subs.At(r.index)
	r.index = (r.index + 1) % r.subs.Len()
	return sub.Deliver(entry)
}
