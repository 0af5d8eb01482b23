package crawler

import "sync"

// VisitedSet tracks URLs a task has already claimed. Each task owns its own
// set, so concurrent tasks never dedupe against each other.
type VisitedSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{urls: make(map[string]struct{})}
}

// MarkIfAbsent claims a URL. It returns true exactly once per URL, so
// whichever worker gets true owns the fetch.
func (v *VisitedSet) MarkIfAbsent(rawURL string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, seen := v.urls[rawURL]; seen {
		return false
	}
	v.urls[rawURL] = struct{}{}
	return true
}

// Seen reports whether the URL has been claimed.
func (v *VisitedSet) Seen(rawURL string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, seen := v.urls[rawURL]
	return seen
}

// Len returns the number of claimed URLs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.urls)
}
