//go:build mutex_debug
// +build mutex_debug

package aerogpu

import (
	"fmt"
	"sync"
	"time"
)

// The ring and pending locks stand in for raised-IRQL spinlocks, so their
// critical sections have to stay short and bounded. The debug build measures
// every hold and panics when a section overstays, which catches blocking
// calls and unbounded loops sneaking in under a lock.
const maxMutexHold = time.Millisecond

type mutexKey = string

type syncMutex struct {
	sync.Mutex
	key      mutexKey
	acquired time.Time
}

func newSyncMutex(key mutexKey) syncMutex {
	return syncMutex{key: key}
}

func (m *syncMutex) Lock() {
	m.Mutex.Lock()
	m.acquired = time.Now()
}

func (m *syncMutex) Unlock() {
	held := time.Since(m.acquired)
	m.Mutex.Unlock()
	if held > maxMutexHold {
		panic(fmt.Sprintf("%s lock held for %s, critical section is not bounded", m.key, held))
	}
}
