package scripthost

import "sync"

// Handle is an opaque id for a host object. Script-visible values never
// see anything but the id: the Cluster/Provider/Deployment cycles
// spec.md §9 describes are resolved by storing the real objects only in
// the Arena and handing script closures that capture a Handle.
type Handle uint64

// Arena is the host-owned table of live script objects. It is only
// ever touched from the Host's single goroutine, so it needs no
// internal locking for that access path; the mutex guards Stats/debug
// reads from other goroutines (metrics, tests).
type Arena struct {
	mu      sync.Mutex
	next    Handle
	objects map[Handle]interface{}
}

// NewArena returns an empty handle table.
func NewArena() *Arena {
	return &Arena{objects: make(map[Handle]interface{})}
}

// Store allocates a new handle for v and returns it.
func (a *Arena) Store(v interface{}) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	h := a.next
	a.objects[h] = v
	return h
}

// Get returns the object behind h, if it is still live.
func (a *Arena) Get(h Handle) (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.objects[h]
	return v, ok
}

// Delete removes h from the table. Remote instances are never
// garbage-collected by the orchestrator (spec.md §3 Lifecycles), but
// the in-memory handle for one can still be dropped when its script
// task exits.
func (a *Arena) Delete(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, h)
}

// Len reports the number of live handles, for tests.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}

// Last returns the most recently stored live handle and its value, the
// way the CLI recovers the Cluster a bootstrap script just constructed
// without the script itself handing the reference back out.
func (a *Arena) Last() (Handle, interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var best Handle
	var found bool
	for h := range a.objects {
		if !found || h > best {
			best, found = h, true
		}
	}
	if !found {
		return 0, nil, false
	}
	return best, a.objects[best], true
}
