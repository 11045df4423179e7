package automations

import (
	"hash/fnv"
	"sync"
	"time"
)

// windowKey identifies one trigger instance: an automation evaluating one
// watched resource.
type windowKey struct {
	automationID string
	resourceID   string
}

type windowEntry struct {
	id       string
	occurred time.Time
}

// reactiveWindow accumulates counted events for one trigger instance.
// Entries are deduplicated by event id and pruned by occurred time, so a
// redelivered or out-of-order event never inflates the count. expires is
// the newest activity (arming or counted event) plus the trigger's within;
// past it the window is dead weight and gets reclaimed.
type reactiveWindow struct {
	armed   bool
	expires time.Time
	entries []windowEntry
	seen    map[string]struct{}
}

// extend pushes the expiry out to cover fresh activity. A zero expires
// means the trigger has no time bound and the window never expires.
func (w *reactiveWindow) extend(occurred time.Time, within time.Duration) {
	if within <= 0 {
		return
	}
	if e := occurred.Add(within); e.After(w.expires) {
		w.expires = e
	}
}

// proactiveWindow is a pending deadline for one trigger instance.
type proactiveWindow struct {
	deadline time.Time
	labels   map[string]string
}

const windowShards = 16

type windowShard struct {
	mu        sync.Mutex
	reactive  map[windowKey]*reactiveWindow
	proactive map[windowKey]*proactiveWindow
}

// windowSet is the sharded tracker for all live windows. Sharding keeps
// evaluation of events for unrelated resources off the same lock.
type windowSet struct {
	shards [windowShards]*windowShard
}

func newWindowSet() *windowSet {
	ws := &windowSet{}
	for i := range ws.shards {
		ws.shards[i] = &windowShard{
			reactive:  make(map[windowKey]*reactiveWindow),
			proactive: make(map[windowKey]*proactiveWindow),
		}
	}
	return ws
}

func (ws *windowSet) shardFor(key windowKey) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(key.automationID))
	h.Write([]byte{0})
	h.Write([]byte(key.resourceID))
	return ws.shards[h.Sum32()%windowShards]
}

// armReactive opens (or re-opens) a gated reactive window.
func (ws *windowSet) armReactive(key windowKey, occurred time.Time, within time.Duration) {
	s := ws.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.reactive[key]
	if !ok {
		w = &reactiveWindow{seen: make(map[string]struct{})}
		s.reactive[key] = w
	}
	w.armed = true
	w.extend(occurred, within)
}

// recordReactive counts one expected event. When requireArmed is set the
// event is discarded unless an arming event opened the window first. The
// window fires, and resets for a fresh epoch, when the pruned count
// reaches threshold (minimum one).
func (ws *windowSet) recordReactive(key windowKey, eventID string, occurred, now time.Time, within time.Duration, threshold int, requireArmed bool) bool {
	s := ws.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.reactive[key]
	if ok && !w.expires.IsZero() && now.After(w.expires) {
		// The window slid shut without firing; a stale arming does not
		// gate events that arrive long after it.
		delete(s.reactive, key)
		w, ok = nil, false
	}
	if requireArmed && (!ok || !w.armed) {
		return false
	}

	cutoff := now.Add(-within)
	if within > 0 && occurred.Before(cutoff) {
		return false
	}

	if !ok {
		w = &reactiveWindow{seen: make(map[string]struct{})}
		s.reactive[key] = w
	}
	if _, dup := w.seen[eventID]; dup {
		return false
	}
	w.seen[eventID] = struct{}{}
	w.entries = append(w.entries, windowEntry{id: eventID, occurred: occurred})
	w.extend(occurred, within)
	if within > 0 {
		w.prune(cutoff)
	}

	effective := threshold
	if effective < 1 {
		effective = 1
	}
	if len(w.entries) < effective {
		return false
	}
	// Fired: reset the epoch. The next qualifying events count from zero
	// and, for gated triggers, a new arming event is needed.
	delete(s.reactive, key)
	return true
}

// prune drops entries that have slid out of the window.
func (w *reactiveWindow) prune(cutoff time.Time) {
	kept := w.entries[:0]
	for _, e := range w.entries {
		if e.occurred.Before(cutoff) {
			delete(w.seen, e.id)
			continue
		}
		kept = append(kept, e)
	}
	w.entries = kept
}

// armProactive starts or refreshes a deadline for one trigger instance.
func (ws *windowSet) armProactive(key windowKey, labels map[string]string, deadline time.Time) {
	s := ws.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proactive[key] = &proactiveWindow{deadline: deadline, labels: labels}
}

// resolveProactive cancels a pending deadline. Returns whether one existed.
func (ws *windowSet) resolveProactive(key windowKey) bool {
	s := ws.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proactive[key]; !ok {
		return false
	}
	delete(s.proactive, key)
	return true
}

type dueWindow struct {
	key    windowKey
	labels map[string]string
}

// expireReactive removes every reactive window whose expiry has passed.
// Without this, gated windows armed by runs that never emit their expected
// event would accumulate forever.
func (ws *windowSet) expireReactive(now time.Time) int {
	expired := 0
	for _, s := range ws.shards {
		s.mu.Lock()
		for key, w := range s.reactive {
			if !w.expires.IsZero() && now.After(w.expires) {
				delete(s.reactive, key)
				expired++
			}
		}
		s.mu.Unlock()
	}
	return expired
}

// dueProactive removes and returns every proactive window whose deadline
// has passed.
func (ws *windowSet) dueProactive(now time.Time) []dueWindow {
	var due []dueWindow
	for _, s := range ws.shards {
		s.mu.Lock()
		for key, w := range s.proactive {
			if !w.deadline.After(now) {
				due = append(due, dueWindow{key: key, labels: w.labels})
				delete(s.proactive, key)
			}
		}
		s.mu.Unlock()
	}
	return due
}

// size returns the number of live windows across all shards.
func (ws *windowSet) size() int {
	total := 0
	for _, s := range ws.shards {
		s.mu.Lock()
		total += len(s.reactive) + len(s.proactive)
		s.mu.Unlock()
	}
	return total
}
