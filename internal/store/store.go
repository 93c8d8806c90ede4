// Package store holds the per-unit runtime state: feedback values, per-LAN
// receive tracking and validity flags. Every entry carries its own mutex so
// traffic for one unit never serializes against another; readers take the
// same entry lock and therefore always observe a command's four feedback
// fields as one unit, never a mix of old and new.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pcs-simulator/internal/goose"
	"pcs-simulator/internal/nameplate"
)

// LAN identifies one of the two redundant receive paths.
type LAN uint8

const (
	LAN1 LAN = 1
	LAN2 LAN = 2
)

func (l LAN) String() string {
	switch l {
	case LAN1:
		return "LAN1"
	case LAN2:
		return "LAN2"
	default:
		return fmt.Sprintf("LAN(%d)", uint8(l))
	}
}

// ErrUnknownEntry reports a logical id outside the configured population.
// It signals a caller bug: valid ids only ever come from the routing and
// command tables.
var ErrUnknownEntry = errors.New("store: unknown logical id")

// Feedback is the command-driven portion of a unit's state.
type Feedback struct {
	ActivePower    float32
	ReactivePower  float32
	ActiveEnable   bool
	ReactiveEnable bool
}

type lanState struct {
	lastSeen time.Time
	lastData []goose.Value
	valid    bool
}

type entry struct {
	mu sync.Mutex

	logicalID uint16
	pcsType   string

	fb            Feedback
	lans          [2]lanState
	combinedValid bool
}

// RecordView is a self-consistent snapshot of one entry, taken under its
// lock, for consumers that need more than the feedback block.
type RecordView struct {
	LogicalID     uint16
	PcsType       string
	Feedback      Feedback
	Lan1Valid     bool
	Lan2Valid     bool
	CombinedValid bool
	Lan1LastSeen  time.Time
	Lan2LastSeen  time.Time
}

// Store is the concurrent state store. The entry map itself is built once
// at startup and never mutated, so lookups need no lock; only the entries
// behind it do.
type Store struct {
	entries map[uint16]*entry
	ids     []uint16
}

// New creates one entry per nameplate, feedback reset to zero.
func New(nps []nameplate.Nameplate) *Store {
	s := &Store{entries: make(map[uint16]*entry, len(nps))}
	for _, np := range nps {
		s.entries[np.LogicalID] = &entry{logicalID: np.LogicalID, pcsType: np.PcsType}
		s.ids = append(s.ids, np.LogicalID)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	return s
}

// IDs returns all logical ids in ascending order. The slice is shared;
// callers must not mutate it.
func (s *Store) IDs() []uint16 { return s.ids }

// Size reports the configured unit count.
func (s *Store) Size() int { return len(s.entries) }

func (s *Store) entryFor(id uint16) (*entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	return e, nil
}

func lanIndex(lan LAN) int {
	if lan == LAN2 {
		return 1
	}
	return 0
}

// UpdateRaw records the latest decoded payload and receive time for one
// LAN. It does not touch feedback fields; only command extraction does.
func (s *Store) UpdateRaw(id uint16, lan LAN, snapshot []goose.Value, now time.Time) error {
	e, err := s.entryFor(id)
	if err != nil {
		return err
	}
	cp := make([]goose.Value, len(snapshot))
	copy(cp, snapshot)

	e.mu.Lock()
	ls := &e.lans[lanIndex(lan)]
	ls.lastSeen = now
	ls.lastData = cp
	e.mu.Unlock()
	return nil
}

// ApplyCommand writes all four feedback fields as one critical section.
func (s *Store) ApplyCommand(id uint16, activeEnable, reactiveEnable bool, activeSetpoint, reactiveSetpoint float32) error {
	e, err := s.entryFor(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.fb = Feedback{
		ActivePower:    activeSetpoint,
		ReactivePower:  reactiveSetpoint,
		ActiveEnable:   activeEnable,
		ReactiveEnable: reactiveEnable,
	}
	e.mu.Unlock()
	return nil
}

// ApplySetpoints rewrites only the power setpoints, keeping the enable
// flags. Used by the PLC command path, which carries no enable bits.
func (s *Store) ApplySetpoints(id uint16, activeSetpoint, reactiveSetpoint float32) error {
	e, err := s.entryFor(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.fb.ActivePower = activeSetpoint
	e.fb.ReactivePower = reactiveSetpoint
	e.mu.Unlock()
	return nil
}

// GetFeedback snapshot-reads the feedback block under the entry lock.
func (s *Store) GetFeedback(id uint16) (Feedback, error) {
	e, err := s.entryFor(id)
	if err != nil {
		return Feedback{}, err
	}
	e.mu.Lock()
	fb := e.fb
	e.mu.Unlock()
	return fb, nil
}

// LastSeen returns the receive timestamp for one LAN; the zero time means
// nothing was ever received on that path.
func (s *Store) LastSeen(id uint16, lan LAN) (time.Time, error) {
	e, err := s.entryFor(id)
	if err != nil {
		return time.Time{}, err
	}
	e.mu.Lock()
	ts := e.lans[lanIndex(lan)].lastSeen
	e.mu.Unlock()
	return ts, nil
}

// MarkValidity sets the per-LAN freshness flag and reports whether the flag
// changed, so the validity engine can log transitions only.
func (s *Store) MarkValidity(id uint16, lan LAN, valid bool) (changed bool, err error) {
	e, err := s.entryFor(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	ls := &e.lans[lanIndex(lan)]
	changed = ls.valid != valid
	ls.valid = valid
	e.mu.Unlock()
	return changed, nil
}

// MarkCombined sets the derived cross-LAN validity flag.
func (s *Store) MarkCombined(id uint16, valid bool) error {
	e, err := s.entryFor(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.combinedValid = valid
	e.mu.Unlock()
	return nil
}

// Valid reads the per-LAN freshness flag.
func (s *Store) Valid(id uint16, lan LAN) (bool, error) {
	e, err := s.entryFor(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	v := e.lans[lanIndex(lan)].valid
	e.mu.Unlock()
	return v, nil
}

// CombinedValid reads the derived cross-LAN flag.
func (s *Store) CombinedValid(id uint16) (bool, error) {
	e, err := s.entryFor(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	v := e.combinedValid
	e.mu.Unlock()
	return v, nil
}

// View takes a full self-consistent snapshot of one entry.
func (s *Store) View(id uint16) (RecordView, error) {
	e, err := s.entryFor(id)
	if err != nil {
		return RecordView{}, err
	}
	e.mu.Lock()
	v := RecordView{
		LogicalID:     e.logicalID,
		PcsType:       e.pcsType,
		Feedback:      e.fb,
		Lan1Valid:     e.lans[0].valid,
		Lan2Valid:     e.lans[1].valid,
		CombinedValid: e.combinedValid,
		Lan1LastSeen:  e.lans[0].lastSeen,
		Lan2LastSeen:  e.lans[1].lastSeen,
	}
	e.mu.Unlock()
	return v, nil
}

// Stats counts valid and invalid units on one LAN.
func (s *Store) Stats(lan LAN) (valid, invalid int) {
	for _, id := range s.ids {
		e := s.entries[id]
		e.mu.Lock()
		v := e.lans[lanIndex(lan)].valid
		e.mu.Unlock()
		if v {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// StatsCombined counts units by the derived cross-LAN flag.
func (s *Store) StatsCombined() (valid, invalid int) {
	for _, id := range s.ids {
		e := s.entries[id]
		e.mu.Lock()
		v := e.combinedValid
		e.mu.Unlock()
		if v {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// InvalidIDs lists units currently invalid on one LAN, ascending.
func (s *Store) InvalidIDs(lan LAN) []uint16 {
	var out []uint16
	for _, id := range s.ids {
		e := s.entries[id]
		e.mu.Lock()
		v := e.lans[lanIndex(lan)].valid
		e.mu.Unlock()
		if !v {
			out = append(out, id)
		}
	}
	return out
}
