package roster

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrEmptyName rejects students whose name is empty after trimming.
var ErrEmptyName = errors.New("student name required")

// Student is a roster entry. SeatID is non-nil iff Seated is true.
type Student struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Seated bool    `json:"seated"`
	SeatID *string `json:"seatId"`
}

// Seat is a fixed slot in the grid. Only Student varies after construction.
type Seat struct {
	ID      string   `json:"id"`
	Student *Student `json:"student"`
	Side    string   `json:"side"`
	Row     int      `json:"row"`
	Col     int      `json:"col"`
}

// PrintSettings carries display metadata round-tripped through archives.
type PrintSettings struct {
	TeacherName string `json:"teacherName"`
}

// Snapshot is the persisted form of the full roster+seat state.
type Snapshot struct {
	Students  []Student `json:"students"`
	Seats     []Seat    `json:"seats"`
	LastSaved time.Time `json:"lastSaved"`
}

// GridConfig fixes the seat layout: Rows x Cols per side, two sides.
type GridConfig struct {
	Rows int
	Cols int
}

// SeatsPerSide returns the seat count on each side of the room.
func (g GridConfig) SeatsPerSide() int { return g.Rows * g.Cols }

// Counts summarizes roster occupancy for the view layer.
type Counts struct {
	Waiting int `json:"waiting"`
	Seated  int `json:"seated"`
}

// Store is the single source of truth for students and seats. Every state
// transition goes through it so the one-student-per-seat and back-reference
// invariants hold after each exported call. Handlers run concurrently, so
// all state is guarded by a mutex.
type Store struct {
	mu sync.Mutex

	grid     GridConfig
	students []*Student
	seats    []*Seat

	byStudent map[string]*Student
	bySeat    map[string]*Seat

	settings *PrintSettings

	newID    func() string
	onChange func()
}

// New builds a store with an empty roster and the fixed seat grid for grid.
// newID mints student ids. onChange, if non-nil, is invoked after every
// mutation; it must not block (saves are fire-and-forget).
func New(grid GridConfig, newID func() string, onChange func()) *Store {
	if grid.Rows <= 0 {
		grid.Rows = 6
	}
	if grid.Cols <= 0 {
		grid.Cols = 4
	}
	s := &Store{
		grid:      grid,
		byStudent: make(map[string]*Student),
		bySeat:    make(map[string]*Seat),
		newID:     newID,
		onChange:  onChange,
	}
	s.seats = buildSeats(grid)
	for _, seat := range s.seats {
		s.bySeat[seat.ID] = seat
	}
	return s
}

// buildSeats lays out both sides: L1..Ln then R1..Rn, row-major.
func buildSeats(grid GridConfig) []*Seat {
	perSide := grid.SeatsPerSide()
	seats := make([]*Seat, 0, perSide*2)
	for _, side := range []struct{ prefix, name string }{{"L", "left"}, {"R", "right"}} {
		for i := 1; i <= perSide; i++ {
			seats = append(seats, &Seat{
				ID:   side.prefix + itoa(i),
				Side: side.name,
				Row:  (i + grid.Cols - 1) / grid.Cols,
				Col:  (i-1)%grid.Cols + 1,
			})
		}
	}
	return seats
}

// SetOnChange installs the mutation callback after construction. Used by the
// composition point because the autosaver needs the store first.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// AddStudent appends a new waiting student. The name is trimmed and must be
// non-empty afterwards.
func (s *Store) AddStudent(name string) (Student, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Student{}, ErrEmptyName
	}
	s.mu.Lock()
	st := &Student{ID: s.newID(), Name: name}
	s.students = append(s.students, st)
	s.byStudent[st.ID] = st
	out := *st
	s.mu.Unlock()
	s.changed()
	return out, nil
}

// AddStudentList appends students in input order, dropping entries that are
// empty after trimming. Returns the number added. A single save is triggered
// for the whole batch.
func (s *Store) AddStudentList(names []string) int {
	s.mu.Lock()
	added := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		st := &Student{ID: s.newID(), Name: name}
		s.students = append(s.students, st)
		s.byStudent[st.ID] = st
		added++
	}
	s.mu.Unlock()
	if added > 0 {
		s.changed()
	}
	return added
}

// AssignStudentToSeat seats a student. It is a silent no-op when the student
// or seat is unknown, or the seat already holds someone else (first occupant
// wins). A student seated elsewhere is moved: the old seat is vacated and the
// new one filled under the same lock, so no intermediate state is observable.
func (s *Store) AssignStudentToSeat(studentID, seatID string) {
	s.mu.Lock()
	st := s.byStudent[studentID]
	seat := s.bySeat[seatID]
	if st == nil || seat == nil || seat.Student != nil {
		s.mu.Unlock()
		return
	}
	if st.SeatID != nil {
		if old := s.bySeat[*st.SeatID]; old != nil {
			old.Student = nil
		}
	}
	id := seat.ID
	st.Seated = true
	st.SeatID = &id
	seat.Student = st
	s.mu.Unlock()
	s.changed()
}

// RemoveStudentFromSeat moves a seated student back to waiting. No-op when
// the student is unknown or already waiting.
func (s *Store) RemoveStudentFromSeat(studentID string) {
	s.mu.Lock()
	st := s.byStudent[studentID]
	if st == nil || !st.Seated {
		s.mu.Unlock()
		return
	}
	if st.SeatID != nil {
		if seat := s.bySeat[*st.SeatID]; seat != nil {
			seat.Student = nil
		}
	}
	st.Seated = false
	st.SeatID = nil
	s.mu.Unlock()
	s.changed()
}

// RemoveStudent deletes a student from the roster and vacates any seat held.
// Seats are cross-checked by occupant identity, not only the student's
// seatId, to tolerate drift. Photo records are untouched.
func (s *Store) RemoveStudent(studentID string) {
	s.mu.Lock()
	st := s.byStudent[studentID]
	if st == nil {
		s.mu.Unlock()
		return
	}
	delete(s.byStudent, studentID)
	for i, cur := range s.students {
		if cur.ID == studentID {
			s.students = append(s.students[:i], s.students[i+1:]...)
			break
		}
	}
	for _, seat := range s.seats {
		if seat.Student != nil && seat.Student.ID == studentID {
			seat.Student = nil
		}
	}
	s.mu.Unlock()
	s.changed()
}

// ClearAllStudents empties the roster and vacates every seat.
func (s *Store) ClearAllStudents() {
	s.mu.Lock()
	s.students = nil
	s.byStudent = make(map[string]*Student)
	for _, seat := range s.seats {
		seat.Student = nil
	}
	s.mu.Unlock()
	s.changed()
}

// ClearAllSeats moves every student back to waiting without deleting anyone.
func (s *Store) ClearAllSeats() {
	s.mu.Lock()
	for _, st := range s.students {
		st.Seated = false
		st.SeatID = nil
	}
	for _, seat := range s.seats {
		seat.Student = nil
	}
	s.mu.Unlock()
	s.changed()
}

// Students returns a copy of the roster in insertion order.
func (s *Store) Students() []Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, copyStudent(st))
	}
	return out
}

// Seats returns a copy of the seat grid with occupants resolved.
func (s *Store) Seats() []Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copySeatsLocked()
}

// Counts reports waiting and seated totals.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, st := range s.students {
		if st.Seated {
			c.Seated++
		} else {
			c.Waiting++
		}
	}
	return c
}

// PrintSettings returns the stored display settings, or nil.
func (s *Store) PrintSettings() *PrintSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil
	}
	cp := *s.settings
	return &cp
}

// SetPrintSettings replaces the stored display settings.
func (s *Store) SetPrintSettings(ps *PrintSettings) {
	s.mu.Lock()
	if ps == nil {
		s.settings = nil
	} else {
		cp := *ps
		s.settings = &cp
	}
	s.mu.Unlock()
	s.changed()
}

// Snapshot captures the full state in persisted form. All records are
// copies; mutating the result never touches live state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Students: make([]Student, 0, len(s.students)),
		Seats:    s.copySeatsLocked(),
	}
	for _, st := range s.students {
		snap.Students = append(snap.Students, copyStudent(st))
	}
	return snap
}

// Hydrate replaces the in-memory state from a persisted snapshot. The seat
// grid is rebuilt from configuration first; snapshot seats are merged in by
// id, so entries outside the configured grid are ignored. Occupants are
// re-linked to roster entries by student id, and students left with dangling
// seat references are reset to waiting.
func (s *Store) Hydrate(snap Snapshot) {
	s.mu.Lock()
	s.students = nil
	s.byStudent = make(map[string]*Student)
	for _, rec := range snap.Students {
		if rec.ID == "" {
			continue
		}
		st := &Student{ID: rec.ID, Name: rec.Name}
		s.students = append(s.students, st)
		s.byStudent[st.ID] = st
	}

	for _, seat := range s.seats {
		seat.Student = nil
	}
	for _, saved := range snap.Seats {
		if saved.Student == nil {
			continue
		}
		seat := s.bySeat[saved.ID]
		if seat == nil || seat.Student != nil {
			continue
		}
		st := s.byStudent[saved.Student.ID]
		if st == nil || st.Seated {
			continue
		}
		id := seat.ID
		st.Seated = true
		st.SeatID = &id
		seat.Student = st
	}
	s.mu.Unlock()
}

func (s *Store) copySeatsLocked() []Seat {
	out := make([]Seat, 0, len(s.seats))
	for _, seat := range s.seats {
		cp := *seat
		if seat.Student != nil {
			st := copyStudent(seat.Student)
			cp.Student = &st
		}
		out = append(out, cp)
	}
	return out
}

func copyStudent(st *Student) Student {
	cp := *st
	if st.SeatID != nil {
		id := *st.SeatID
		cp.SeatID = &id
	}
	return cp
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
