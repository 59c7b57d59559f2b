// Package sequence issues run IDs for the results journal. IDs are
// strictly monotonic within a process and, when recovered from the
// journal, continue past everything already persisted.
package sequence

import (
	"fmt"
	"sync/atomic"
)

// Journal is the slice of the results store the sequencer needs for
// recovery.
type Journal interface {
	LastID() (uint64, error)
}

// Sequencer generates run IDs.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer that issues IDs starting after start.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Recover seeds a sequencer from the journal so new runs never collide
// with recorded ones.
func Recover(j Journal) (*Sequencer, error) {
	last, err := j.LastID()
	if err != nil {
		return nil, fmt.Errorf("sequence: recovering last run ID: %w", err)
	}
	return New(last), nil
}

// Next returns the next run ID.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued ID, or the recovery point if none
// were issued yet.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
