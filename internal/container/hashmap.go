package container

const (
	minBuckets = 16
	maxBuckets = 1 << 20
	loadFactor = 0.75
)

// Key is the opaque byte-string key type stored in a HashMap. It mirrors
// wire.ByteString's contract (owning, byte-wise equal) without importing
// the wire package, keeping this package free of domain-specific imports.
type Key []byte

func (k Key) equal(o Key) bool {
	if len(k) != len(o) {
		return false
	}
	for i := range k {
		if k[i] != o[i] {
			return false
		}
	}
	return true
}

type entry[V any] struct {
	key  Key
	val  V
	next *entry[V]
}

// HashMap is an open-hashed map from an owned Key to a borrowed value V.
// Bucket selection uses SipHash-2-4 keyed with a per-process secret so an
// adversary who controls key bytes cannot force worst-case chains. The map
// owns a copy of every key it stores; it never takes ownership of values.
type HashMap[V any] struct {
	buckets []*entry[V]
	count   int
}

// NewHashMap creates a HashMap with bucket_count = next power of two of
// sizeHint, clamped to [minBuckets, maxBuckets].
func NewHashMap[V any](sizeHint int) *HashMap[V] {
	n := roundUpPow2(sizeHint)
	if n < minBuckets {
		n = minBuckets
	}
	if n > maxBuckets {
		n = maxBuckets
	}
	return &HashMap[V]{buckets: make([]*entry[V], n)}
}

func roundUpPow2(v int) int {
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

func (h *HashMap[V]) bucketIndex(k Key) int {
	return int(siphash24(k) % uint64(len(h.buckets)))
}

// ItemCount returns the number of present keys.
func (h *HashMap[V]) ItemCount() int { return h.count }

// Add inserts (k, v) and returns false without modifying the map if k is
// already present.
func (h *HashMap[V]) Add(k Key, v V) bool {
	if h.loadFactor() > loadFactor {
		h.grow()
	}
	idx := h.bucketIndex(k)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key.equal(k) {
			return false
		}
	}
	owned := make(Key, len(k))
	copy(owned, k)
	h.buckets[idx] = &entry[V]{key: owned, val: v, next: h.buckets[idx]}
	h.count++
	return true
}

// Replace inserts or overwrites the value for k, returning the previous
// value and whether one existed.
func (h *HashMap[V]) Replace(k Key, v V) (old V, existed bool) {
	idx := h.bucketIndex(k)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key.equal(k) {
			old = e.val
			e.val = v
			return old, true
		}
	}
	if h.loadFactor() > loadFactor {
		h.grow()
		idx = h.bucketIndex(k)
	}
	owned := make(Key, len(k))
	copy(owned, k)
	h.buckets[idx] = &entry[V]{key: owned, val: v, next: h.buckets[idx]}
	h.count++
	return old, false
}

// Get looks up k.
func (h *HashMap[V]) Get(k Key) (V, bool) {
	idx := h.bucketIndex(k)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key.equal(k) {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// Remove deletes k, returning its value if present.
func (h *HashMap[V]) Remove(k Key) (V, bool) {
	idx := h.bucketIndex(k)
	var prev *entry[V]
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key.equal(k) {
			if prev == nil {
				h.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			h.count--
			return e.val, true
		}
		prev = e
	}
	var zero V
	return zero, false
}

// RemoveAny pops an arbitrary (key, value) pair, for draining a map before
// it is discarded. Returns false if the map is empty.
func (h *HashMap[V]) RemoveAny() (Key, V, bool) {
	for idx, e := range h.buckets {
		if e != nil {
			h.buckets[idx] = e.next
			h.count--
			return e.key, e.val, true
		}
	}
	var zeroK Key
	var zeroV V
	return zeroK, zeroV, false
}

// Keys returns a snapshot of every present key. The caller owns the
// returned slice; mutating it does not affect the map.
func (h *HashMap[V]) Keys() []Key {
	keys := make([]Key, 0, h.count)
	for _, e := range h.buckets {
		for ; e != nil; e = e.next {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func (h *HashMap[V]) loadFactor() float64 {
	return float64(h.count) / float64(len(h.buckets))
}

func (h *HashMap[V]) grow() {
	if len(h.buckets) >= maxBuckets {
		return
	}
	newSize := len(h.buckets) << 1
	if newSize > maxBuckets {
		newSize = maxBuckets
	}
	newBuckets := make([]*entry[V], newSize)
	for _, e := range h.buckets {
		for e != nil {
			next := e.next
			idx := int(siphash24(e.key) % uint64(newSize))
			e.next = newBuckets[idx]
			newBuckets[idx] = e
			e = next
		}
	}
	h.buckets = newBuckets
}
