package broker

import "odin-stomp/internal/container"

// ConnectionSet is the event loop's slotted connection table. The Slab
// handle doubles as the epoll user-data value so loop.go can resolve a
// readiness event back to its Connection in O(1) without a second map
// lookup.
type ConnectionSet struct {
	slab *container.Slab[*Connection]
}

// NewConnectionSet creates an empty ConnectionSet.
func NewConnectionSet() *ConnectionSet {
	return &ConnectionSet{slab: container.NewSlab[*Connection]()}
}

// Add inserts conn and returns its stable handle.
func (s *ConnectionSet) Add(conn *Connection) int {
	return s.slab.Add(conn)
}

// Get resolves a handle back to its Connection.
func (s *ConnectionSet) Get(handle int) (*Connection, bool) {
	return s.slab.Get(handle)
}

// Remove frees handle for reuse. It does not close the underlying socket;
// callers close the Connection first.
func (s *ConnectionSet) Remove(handle int) {
	s.slab.Remove(handle)
}

// Each visits every live connection.
func (s *ConnectionSet) Each(fn func(handle int, conn *Connection)) {
	s.slab.Each(fn)
}

// Len reports the number of tracked connections.
func (s *ConnectionSet) Len() int { return s.slab.Len() }

// ReapClosed removes every connection whose Status is StatusClosed,
// unregistering its subscriptions from their queues first so a dead
// connection never lingers in a Router's rotation.
func (s *ConnectionSet) ReapClosed(bundle *Bundle) {
	var dead []int
	s.Each(func(handle int, conn *Connection) {
		if conn.Status == StatusClosed {
			dead = append(dead, handle)
		}
	})
	for _, handle := range dead {
		conn, _ := s.Get(handle)
		unsubscribeAll(conn, bundle)
		s.Remove(handle)
	}
}

// unsubscribeAll tears down every subscription a closing connection still
// holds, unregistering from the router before clearing the connection's own
// maps so the router's rotation never holds a dangling subscriber.
func unsubscribeAll(conn *Connection, bundle *Bundle) {
	for _, key := range conn.SubsByServerID.Keys() {
		sub, _ := conn.SubsByServerID.Get(key)
		if q, found := bundle.Lookup(sub.Destination); found {
			q.Unsubscribe(sub)
		}
		conn.SubsByServerID.Remove(key)
		conn.SubsByClientID.Remove(container.Key(sub.ClientID))
	}
}
