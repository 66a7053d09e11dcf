package launcher

import "sync"

// runLocks — мьютекс на каждый run_id.
// Запись удаляется, когда её больше никто не держит и не ждёт.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*runLock)}
}

// lock блокирует run и возвращает функцию разблокировки.
func (l *runLocks) lock(runID string) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[runID]
	if !ok {
		rl = &runLock{}
		l.locks[runID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, runID)
		}
		l.mu.Unlock()
	}
}

// size возвращает количество отслеживаемых run.
func (l *runLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
