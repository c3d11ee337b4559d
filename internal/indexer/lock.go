package indexer

import (
	"sync"
	"time"
)

// Run describes an ingestion that holds an IndexLock
type Run struct {
	Source  string
	Started time.Time
}

// IndexLock admits one ingestion at a time. A caller that loses the race is
// told which run is active instead of waiting for it.
type IndexLock struct {
	mu     sync.Mutex
	active *Run
}

// TryAcquire claims the lock for source. If another run holds it, ok is false
// and the active run is returned.
func (l *IndexLock) TryAcquire(source string) (active Run, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return *l.active, false
	}
	l.active = &Run{Source: source, Started: time.Now()}
	return *l.active, true
}

// Release ends the active run. Releasing a free lock does nothing.
func (l *IndexLock) Release() {
	l.mu.Lock()
	l.active = nil
	l.mu.Unlock()
}

// Active reports the run holding the lock, if any
func (l *IndexLock) Active() (Run, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return Run{}, false
	}
	return *l.active, true
}
