package core

import "sync"

type latchState int

const (
	latchIdle latchState = iota
	latchProcessing
	latchDone
)

func (s latchState) String() string {
	switch s {
	case latchProcessing:
		return "processing"
	case latchDone:
		return "done"
	}
	return "idle"
}

// callbackLatch guarantees a callback for a given user and provider runs at
// most once per authorization attempt. Check-and-set happens under one lock
// before any I/O starts.
type callbackLatch struct {
	mu     sync.Mutex
	states map[SessionKey]latchState
}

func newCallbackLatch() *callbackLatch {
	return &callbackLatch{states: make(map[SessionKey]latchState)}
}

// acquire moves key from Idle to Processing. It returns the state found when
// the transition is refused.
func (l *callbackLatch) acquire(key SessionKey) (latchState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.states[key]
	if current != latchIdle {
		return current, false
	}
	l.states[key] = latchProcessing
	return latchProcessing, true
}

func (l *callbackLatch) finish(key SessionKey) {
	l.mu.Lock()
	l.states[key] = latchDone
	l.mu.Unlock()
}

// reset returns key to Idle, either for a new authorization attempt or
// because the callback consumed nothing.
func (l *callbackLatch) reset(key SessionKey) {
	l.mu.Lock()
	delete(l.states, key)
	l.mu.Unlock()
}

func (l *callbackLatch) state(key SessionKey) latchState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[key]
}
