//go:build !mutex_debug
// +build !mutex_debug

package aerogpu

import (
	"sync"
)

type mutexKey = string

type syncMutex = sync.Mutex

func newSyncMutex(mutexKey) syncMutex {
	return sync.Mutex{}
}
