package debugger

// handleTable maps identity keys to small stable integer handles and back.
// It is the adapter-side stand-in for frame and scope identities that are
// only valid while the VM is stopped.
//
// Handles are counter<<1|epoch. Clear flips the epoch bit and restarts the
// counter instead of growing forever: a handle issued just before a Clear
// can never equal one issued just after, and the id space stays bounded by
// twice the largest number of handles live in any one stop, no matter how
// long the session runs.
type handleTable[K comparable, V any] struct {
	epoch    int
	next     int
	byKey    map[K]int
	byHandle map[int]tableEntry[K, V]
}

type tableEntry[K comparable, V any] struct {
	key K
	val V
}

func newHandleTable[K comparable, V any]() *handleTable[K, V] {
	return &handleTable[K, V]{
		next:     1,
		byKey:    make(map[K]int),
		byHandle: make(map[int]tableEntry[K, V]),
	}
}

// Intern returns the existing handle for key, or allocates a new one bound
// to val. Interning an existing key refreshes its value.
func (t *handleTable[K, V]) Intern(key K, val V) int {
	if h, ok := t.byKey[key]; ok {
		t.byHandle[h] = tableEntry[K, V]{key: key, val: val}
		return h
	}
	h := t.next<<1 | t.epoch
	t.next++
	t.byKey[key] = h
	t.byHandle[h] = tableEntry[K, V]{key: key, val: val}
	return h
}

// Lookup resolves a handle to its value. Handles from before the last Clear
// miss.
func (t *handleTable[K, V]) Lookup(handle int) (V, bool) {
	e, ok := t.byHandle[handle]
	return e.val, ok
}

// Clear invalidates every live handle by flipping the epoch and restarting
// the counter.
func (t *handleTable[K, V]) Clear() {
	t.epoch ^= 1
	t.next = 1
	clear(t.byKey)
	clear(t.byHandle)
}

// Len reports the number of live handles.
func (t *handleTable[K, V]) Len() int {
	return len(t.byHandle)
}
