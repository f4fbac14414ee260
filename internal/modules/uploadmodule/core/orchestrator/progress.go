package orchestrator

import "sync"

// ProgressFunc receives the percentage of the current operation.
type ProgressFunc func(percent int)

// tracker reports a percentage that never goes down, except through reset.
type tracker struct {
	mu      sync.Mutex
	current int
	report  ProgressFunc
}

func newTracker(report ProgressFunc) *tracker {
	t := &tracker{report: report}
	t.emit(0)
	return t
}

func (t *tracker) set(percent int) {
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	if percent <= t.current {
		t.mu.Unlock()
		return
	}
	t.current = percent
	t.mu.Unlock()
	t.emit(percent)
}

func (t *tracker) reset() {
	t.mu.Lock()
	t.current = 0
	t.mu.Unlock()
	t.emit(0)
}

func (t *tracker) emit(percent int) {
	if t.report != nil {
		t.report(percent)
	}
}
