package aerogpu

import (
	"time"

	"github.com/aerovirt/aerogpu/protocol"
)

// submissionLogSize is the depth of the diagnostic ring of recent
// submissions. It is independent of the pending list's lifecycle.
const submissionLogSize = 64

type submissionLogEntry struct {
	Fence    uint64
	Type     protocol.SubmitType
	DmaGPA   uint64
	DmaSize  uint32
	DescGPA  uint64
	DescSize uint32
	When     time.Time
}

// submissionLog records the most recent submissions oldest first. Entries
// are overwritten in place; writeIndex only ever grows.
type submissionLog struct {
	mu         syncMutex
	entries    [submissionLogSize]submissionLogEntry
	writeIndex uint64
}

func newSubmissionLog() *submissionLog {
	return &submissionLog{mu: newSyncMutex("submission-log")}
}

func (s *submissionLog) append(e submissionLogEntry) {
	s.mu.Lock()
	s.entries[s.writeIndex%submissionLogSize] = e
	s.writeIndex++
	s.mu.Unlock()
}

// snapshot returns the current write index and up to max recent entries,
// oldest first.
func (s *submissionLog) snapshot(max int) (uint64, []submissionLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.writeIndex
	if n > submissionLogSize {
		n = submissionLogSize
	}
	if max >= 0 && n > uint64(max) {
		n = uint64(max)
	}
	out := make([]submissionLogEntry, 0, n)
	for i := s.writeIndex - n; i < s.writeIndex; i++ {
		out = append(out, s.entries[i%submissionLogSize])
	}
	return s.writeIndex, out
}
