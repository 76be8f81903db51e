package broker

import (
	"fmt"

	"odin-stomp/internal/wire"
)

// Distribution selects how a queue fans frames out to subscribers. Only
// DistributionSingle (round-robin) is wired into Router today;
// DistributionBroadcast is reserved for a future fan-to-all dispatcher.
type Distribution int

const (
	DistributionSingle Distribution = iota
	DistributionBroadcast
)

// FullAction governs what Storage.Enqueue does when a queue is already at
// its configured SizeMax.
type FullAction int

const (
	FullActionError FullAction = iota
	FullActionDropOldest
	FullActionDropNewest
)

// RejectAction governs disposition of frames affected by age or nack
// limits. RejectActionRedirect is declared but left unimplemented: there is
// no configured redirect destination to send a rejected frame to.
type RejectAction int

const (
	RejectActionDrop RejectAction = iota
	RejectActionRedirect
)

// DefaultQueueSizeMax and DefaultQueueNackMax are the fallback limits a
// queue uses when no explicit QueueConfig is supplied.
const (
	DefaultQueueSizeMax = 1024
	DefaultQueueNackMax = 3
)

// QueueConfig holds per-destination policy. Only SizeMax and FullAction
// (backlog capacity and overflow behavior) are acted on; Distribution,
// AgeMax, RetireAction, NackMax and NackAction are carried but not read by
// any code, so frames are never retired by age and a NACKed delivery is
// dropped regardless of its reject count.
type QueueConfig struct {
	Distribution Distribution
	SizeMax      int
	FullAction   FullAction
	AgeMax       int // seconds; zero means unlimited
	RetireAction RejectAction
	NackMax      int
	NackAction   RejectAction
}

// DefaultQueueConfig returns the policy a queue is created with when no
// explicit configuration is supplied.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Distribution: DistributionSingle,
		SizeMax:      DefaultQueueSizeMax,
		FullAction:   FullActionError,
		RetireAction: RejectActionDrop,
		NackMax:      DefaultQueueNackMax,
		NackAction:   RejectActionDrop,
	}
}

// StoredEntry is a frame held in a Storage backend awaiting dispatch.
type StoredEntry struct {
	LocalID     uint64
	RejectCount int
	Frame       *wire.Frame
}

// Storage is a closed set of queue backends dispatched by type rather than
// open inheritance. Only MemoryStorage is implemented; ServerInfoStorage is
// a stub.
type Storage interface {
	// Enqueue appends f, applying the queue's FullAction policy if the
	// backend is already at capacity. ok is false if f was not stored: err
	// is non-nil when it was rejected (FullActionError) and nil when it was
	// dropped silently (FullActionDropNewest).
	Enqueue(f *wire.Frame) (ok bool, err error)
	// Dequeue pops the oldest pending entry.
	Dequeue() (*StoredEntry, bool)
	// Len returns the number of pending entries.
	Len() int
}

// MemoryStorage is a FIFO of pending frames with a capacity policy, backed
// by a plain Go slice whose own geometric growth handles backlog sizing up
// to SizeMax.
type MemoryStorage struct {
	config  QueueConfig
	entries []StoredEntry
	nextLID uint64
}

// NewMemoryStorage creates an empty FIFO honoring config's size policy.
func NewMemoryStorage(config QueueConfig) *MemoryStorage {
	return &MemoryStorage{config: config}
}

func (m *MemoryStorage) Len() int { return len(m.entries) }

// Enqueue honors config.FullAction once config.SizeMax is reached.
func (m *MemoryStorage) Enqueue(f *wire.Frame) (bool, error) {
	if len(m.entries) >= m.config.SizeMax {
		switch m.config.FullAction {
		case FullActionDropOldest:
			m.entries = m.entries[1:]
		case FullActionDropNewest:
			return false, nil
		case FullActionError:
			return false, fmt.Errorf("queue full (size_max=%d)", m.config.SizeMax)
		}
	}

	m.entries = append(m.entries, StoredEntry{LocalID: m.nextLID, Frame: f})
	m.nextLID++
	return true, nil
}

func (m *MemoryStorage) Dequeue() (*StoredEntry, bool) {
	if len(m.entries) == 0 {
		return nil, false
	}
	e := m.entries[0]
	m.entries = m.entries[1:]
	return &e, true
}

// ServerInfoStorage is a declared-but-unimplemented backend: it satisfies
// Storage so a future config option could select it, but every operation
// reports unsupported rather than silently discarding frames.
type ServerInfoStorage struct{}

func (ServerInfoStorage) Enqueue(*wire.Frame) (bool, error) {
	return false, fmt.Errorf("serverinfo storage backend is not implemented")
}
func (ServerInfoStorage) Dequeue() (*StoredEntry, bool) { return nil, false }
func (ServerInfoStorage) Len() int                      { return 0 }
