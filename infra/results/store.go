// Package results is the pebble-backed journal of benchmark runs.
// Each run is recorded under a monotonic ID with a small state
// machine (NEW → SENT → ACKED) so the reporter job can replay
// unpublished results after a crash.
package results

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type Record struct {
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte // serialized bench.Result
}

const recordHeaderLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload:...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeaderLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeaderLen:], r.Payload)
	return buf
}

func decodeRecord(b []byte) (Record, error) {
	if len(b) < recordHeaderLen {
		return Record{}, errors.New("results: record too short")
	}
	return Record{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[recordHeaderLen:]...),
	}, nil
}

// -------------------- Store --------------------

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // journal entries must survive the process
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// -------------------- API --------------------

// Append records a fresh run result in state NEW.
func (s *Store) Append(runID uint64, payload []byte) error {
	rec := Record{State: StateNew, Payload: payload}
	return s.db.Set(keyFor(runID), encodeRecord(rec), pebble.Sync)
}

// UpdateState advances a record after a send / ack / failure.
func (s *Store) UpdateState(runID uint64, state State, retries uint32) error {
	rec, err := s.Get(runID)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return s.db.Set(keyFor(runID), encodeRecord(rec), pebble.Sync)
}

// Delete removes ACKED records (cleanup).
func (s *Store) Delete(runID uint64) error {
	return s.db.Delete(keyFor(runID), pebble.Sync)
}

// Get returns the current record for a run.
func (s *Store) Get(runID uint64) (Record, error) {
	val, closer, err := s.db.Get(keyFor(runID))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(val)
}

// LastID returns the highest run ID in the journal, 0 when empty.
func (s *Store) LastID() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("run/"),
		UpperBound: []byte("run/~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// ScanPending iterates records the reporter still owes to the broker:
// NEW, plus SENT ones whose ack never landed.
func (s *Store) ScanPending(fn func(runID uint64, rec Record) error) error {
	return s.scan(func(id uint64, rec Record) error {
		if rec.State != StateNew && rec.State != StateSent {
			return nil
		}
		return fn(id, rec)
	})
}

// ScanByState iterates all records in the given state.
func (s *Store) ScanByState(state State, fn func(runID uint64, rec Record) error) error {
	return s.scan(func(id uint64, rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(id, rec)
	})
}

func (s *Store) scan(fn func(runID uint64, rec Record) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("run/"),
		UpperBound: []byte("run/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(id, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

func keyFor(runID uint64) []byte {
	return []byte(fmt.Sprintf("run/%020d", runID))
}

func parseKey(b []byte) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte("run/"))), "%d", &id)
	return id, err
}
