package orchestrator

import (
	"sync"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

// runLock is a per-run mutex with a reference count, so the lock table
// does not grow without bound across a long-lived process. Modeled on
// the session-lock discipline used elsewhere in this codebase to
// serialize concurrent handler invocations that touch the same keyed
// resource.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// activeRuns owns the live run table. The bus schedules handlers
// concurrently, but every state transition for a given run must be
// serialized — lockRun returns an unlock func bracketing the critical
// section.
type activeRuns struct {
	tableMu sync.Mutex
	runs    map[string]*busmodel.Run
	locks   map[string]*runLock
}

func newActiveRuns() *activeRuns {
	return &activeRuns{
		runs:  make(map[string]*busmodel.Run),
		locks: make(map[string]*runLock),
	}
}

// put registers run under its id. Call with the run's lock held.
func (a *activeRuns) put(run *busmodel.Run) {
	a.tableMu.Lock()
	defer a.tableMu.Unlock()
	a.runs[run.ID] = run
}

// get returns the run for id, or nil if it is not active (e.g. it has
// already reached a terminal state and been removed).
func (a *activeRuns) get(id string) *busmodel.Run {
	a.tableMu.Lock()
	defer a.tableMu.Unlock()
	return a.runs[id]
}

// remove deletes id from the table. A run is in active_runs exactly
// while its status is non-terminal; callers remove it in the same
// critical section that transitions it to a terminal status.
func (a *activeRuns) remove(id string) {
	a.tableMu.Lock()
	defer a.tableMu.Unlock()
	delete(a.runs, id)
}

// lockRun serializes every handler touching runID. The returned func
// releases the lock and, once unreferenced, drops the lock entry.
func (a *activeRuns) lockRun(runID string) func() {
	a.tableMu.Lock()
	lock := a.locks[runID]
	if lock == nil {
		lock = &runLock{}
		a.locks[runID] = lock
	}
	lock.refs++
	a.tableMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		a.tableMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(a.locks, runID)
		}
		a.tableMu.Unlock()
	}
}
