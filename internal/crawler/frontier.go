package crawler

import "sync"

// frontierItem is one unit of crawl work.
type frontierItem struct {
	url     string
	depth   int
	attempt int
}

// Frontier is the FIFO work queue for a single task. It is unbounded because
// workers both consume and feed it; a bounded queue would let the pool
// deadlock on its own discoveries.
//
// Every pushed item counts as in flight until Done is called for it, whether
// it is still queued or currently being processed. The task is finished when
// InFlight drops to zero, not when the queue happens to be empty.
type Frontier struct {
	mu       sync.Mutex
	items    []frontierItem
	inFlight int64
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{}
}

// Push appends an item and raises the in-flight count.
func (f *Frontier) Push(url string, depth, attempt int) {
	f.mu.Lock()
	f.items = append(f.items, frontierItem{url: url, depth: depth, attempt: attempt})
	f.inFlight++
	f.mu.Unlock()
}

// TryPop removes and returns the head item. The item remains in flight until
// the caller invokes Done.
func (f *Frontier) TryPop() (frontierItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return frontierItem{}, false
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true
}

// Done marks one previously popped item as fully processed.
func (f *Frontier) Done() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

// Exhausted reports whether no work remains, queued or in progress.
func (f *Frontier) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight == 0
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// InFlight returns the number of pushed items not yet marked done.
func (f *Frontier) InFlight() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}
