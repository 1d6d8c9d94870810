package devsim

import (
	"errors"
	"sync"
)

var ErrMemOutOfRange = errors.New("guest physical address out of range")

// Mem is a flat guest physical address space backed by one host slice. It is
// safe for concurrent use; the device model and the driver touch disjoint
// regions but share the mapping.
type Mem struct {
	mu  sync.RWMutex
	ram []byte
}

func NewMem(size int) *Mem {
	return &Mem{ram: make([]byte, size)}
}

func (m *Mem) Size() int {
	return len(m.ram)
}

func (m *Mem) ReadAt(gpa uint64, b []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Subtract instead of adding so a huge gpa cannot wrap past the check.
	if gpa > uint64(len(m.ram)) || uint64(len(b)) > uint64(len(m.ram))-gpa {
		return ErrMemOutOfRange
	}
	copy(b, m.ram[gpa:])
	return nil
}

func (m *Mem) WriteAt(gpa uint64, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gpa > uint64(len(m.ram)) || uint64(len(b)) > uint64(len(m.ram))-gpa {
		return ErrMemOutOfRange
	}
	copy(m.ram[gpa:], b)
	return nil
}
