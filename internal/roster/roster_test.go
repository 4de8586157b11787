package roster

import (
	"fmt"
	"testing"
)

func newTestStore() *Store {
	n := 0
	return New(GridConfig{Rows: 6, Cols: 4}, func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}, nil)
}

// checkInvariants asserts the student/seat back-reference consistency the
// store promises after every mutation.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	seats := s.Seats()
	byID := make(map[string]Seat, len(seats))
	for _, seat := range seats {
		byID[seat.ID] = seat
	}
	for _, st := range s.Students() {
		if st.Seated != (st.SeatID != nil) {
			t.Fatalf("student %s: seated=%v but seatId=%v", st.ID, st.Seated, st.SeatID)
		}
		if st.SeatID != nil {
			seat, ok := byID[*st.SeatID]
			if !ok {
				t.Fatalf("student %s references unknown seat %s", st.ID, *st.SeatID)
			}
			if seat.Student == nil || seat.Student.ID != st.ID {
				t.Fatalf("seat %s does not point back at student %s", seat.ID, st.ID)
			}
		}
	}
	owners := make(map[string]string)
	for _, seat := range seats {
		if seat.Student == nil {
			continue
		}
		if prev, dup := owners[seat.Student.ID]; dup {
			t.Fatalf("student %s owned by seats %s and %s", seat.Student.ID, prev, seat.ID)
		}
		owners[seat.Student.ID] = seat.ID
		if seat.Student.SeatID == nil || *seat.Student.SeatID != seat.ID {
			t.Fatalf("seat %s occupant has seatId %v", seat.ID, seat.Student.SeatID)
		}
	}
}

func TestGridLayout(t *testing.T) {
	s := newTestStore()
	seats := s.Seats()
	if len(seats) != 48 {
		t.Fatalf("expected 48 seats, got %d", len(seats))
	}
	byID := make(map[string]Seat)
	for _, seat := range seats {
		byID[seat.ID] = seat
	}
	l5 := byID["L5"]
	if l5.Side != "left" || l5.Row != 2 || l5.Col != 1 {
		t.Fatalf("L5 layout wrong: %+v", l5)
	}
	r24 := byID["R24"]
	if r24.Side != "right" || r24.Row != 6 || r24.Col != 4 {
		t.Fatalf("R24 layout wrong: %+v", r24)
	}
}

func TestAddStudentTrimsAndRejectsEmpty(t *testing.T) {
	s := newTestStore()
	if _, err := s.AddStudent("   "); err != ErrEmptyName {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	st, err := s.AddStudent("  Alice  ")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if st.Name != "Alice" || st.Seated || st.SeatID != nil {
		t.Fatalf("unexpected new student: %+v", st)
	}
	checkInvariants(t, s)
}

func TestAddStudentListFiltersEmptiesAndKeepsOrder(t *testing.T) {
	s := newTestStore()
	added := s.AddStudentList([]string{"Alice", "", "  ", "Bob", "Cara"})
	if added != 3 {
		t.Fatalf("expected 3 added, got %d", added)
	}
	names := []string{}
	for _, st := range s.Students() {
		names = append(names, st.Name)
	}
	want := []string{"Alice", "Bob", "Cara"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order broken: got %v", names)
		}
	}
}

func TestSeatScenario(t *testing.T) {
	s := newTestStore()
	s.AddStudentList([]string{"Alice", "Bob", "Cara"})
	if c := s.Counts(); c.Waiting != 3 || c.Seated != 0 {
		t.Fatalf("expected 3 waiting, got %+v", c)
	}

	var bob Student
	for _, st := range s.Students() {
		if st.Name == "Bob" {
			bob = st
		}
	}
	s.AssignStudentToSeat(bob.ID, "L1")
	if c := s.Counts(); c.Waiting != 2 || c.Seated != 1 {
		t.Fatalf("expected 2/1 after assign, got %+v", c)
	}
	for _, seat := range s.Seats() {
		if seat.ID == "L1" && (seat.Student == nil || seat.Student.Name != "Bob") {
			t.Fatalf("L1 should hold Bob, got %+v", seat.Student)
		}
	}
	checkInvariants(t, s)

	s.RemoveStudentFromSeat(bob.ID)
	if c := s.Counts(); c.Waiting != 3 || c.Seated != 0 {
		t.Fatalf("expected 3/0 after unseat, got %+v", c)
	}
	for _, seat := range s.Seats() {
		if seat.ID == "L1" && seat.Student != nil {
			t.Fatalf("L1 should be empty")
		}
	}
	checkInvariants(t, s)
}

func TestAssignToOccupiedSeatRejected(t *testing.T) {
	s := newTestStore()
	a, _ := s.AddStudent("Alice")
	b, _ := s.AddStudent("Bob")
	s.AssignStudentToSeat(a.ID, "R3")
	s.AssignStudentToSeat(b.ID, "R3")

	for _, seat := range s.Seats() {
		if seat.ID == "R3" && seat.Student.ID != a.ID {
			t.Fatalf("first occupant should win R3")
		}
	}
	for _, st := range s.Students() {
		if st.ID == b.ID && (st.Seated || st.SeatID != nil) {
			t.Fatalf("rejected student must stay waiting: %+v", st)
		}
	}
	checkInvariants(t, s)
}

func TestReassignMovesStudentAtomically(t *testing.T) {
	s := newTestStore()
	a, _ := s.AddStudent("Alice")
	s.AssignStudentToSeat(a.ID, "L1")
	s.AssignStudentToSeat(a.ID, "L2")

	snap := s.Snapshot()
	var l1, l2 *Seat
	for i := range snap.Seats {
		switch snap.Seats[i].ID {
		case "L1":
			l1 = &snap.Seats[i]
		case "L2":
			l2 = &snap.Seats[i]
		}
	}
	if l1.Student != nil {
		t.Fatalf("old seat should be vacated")
	}
	if l2.Student == nil || l2.Student.ID != a.ID {
		t.Fatalf("new seat should hold the student")
	}
	if c := s.Counts(); c.Seated != 1 {
		t.Fatalf("student seated in neither/both seats: %+v", c)
	}
	checkInvariants(t, s)
}

func TestUnassignIsIdempotent(t *testing.T) {
	s := newTestStore()
	a, _ := s.AddStudent("Alice")
	s.AssignStudentToSeat(a.ID, "L1")
	s.RemoveStudentFromSeat(a.ID)
	before := s.Snapshot()
	s.RemoveStudentFromSeat(a.ID)
	after := s.Snapshot()

	if len(before.Students) != len(after.Students) {
		t.Fatalf("second unseat changed roster")
	}
	if before.Students[0].Seated != after.Students[0].Seated {
		t.Fatalf("second unseat changed seated flag")
	}
	checkInvariants(t, s)
}

func TestRemoveStudentVacatesSeat(t *testing.T) {
	s := newTestStore()
	a, _ := s.AddStudent("Alice")
	s.AssignStudentToSeat(a.ID, "R7")
	s.RemoveStudent(a.ID)

	if len(s.Students()) != 0 {
		t.Fatalf("student should be deleted")
	}
	for _, seat := range s.Seats() {
		if seat.Student != nil {
			t.Fatalf("seat %s still occupied after delete", seat.ID)
		}
	}
}

func TestClearAllSeatsKeepsRoster(t *testing.T) {
	s := newTestStore()
	s.AddStudentList([]string{"Alice", "Bob"})
	for i, st := range s.Students() {
		s.AssignStudentToSeat(st.ID, fmt.Sprintf("L%d", i+1))
	}
	s.ClearAllSeats()

	if c := s.Counts(); c.Waiting != 2 || c.Seated != 0 {
		t.Fatalf("expected everyone waiting, got %+v", c)
	}
	checkInvariants(t, s)
}

func TestAssignUnknownIsNoop(t *testing.T) {
	s := newTestStore()
	a, _ := s.AddStudent("Alice")
	s.AssignStudentToSeat("ghost", "L1")
	s.AssignStudentToSeat(a.ID, "L99")
	if c := s.Counts(); c.Seated != 0 {
		t.Fatalf("no-op assigns must not seat anyone: %+v", c)
	}
	checkInvariants(t, s)
}

func TestHydrateIgnoresSeatsOutsideGrid(t *testing.T) {
	s := newTestStore()
	seatID := "L99"
	snap := Snapshot{
		Students: []Student{{ID: "s1", Name: "Alice", Seated: true, SeatID: &seatID}},
		Seats: []Seat{
			{ID: "L99", Student: &Student{ID: "s1", Name: "Alice"}},
		},
	}
	s.Hydrate(snap)

	for _, seat := range s.Seats() {
		if seat.ID == "L99" {
			t.Fatalf("grid must not grow a seat L99")
		}
	}
	sts := s.Students()
	if len(sts) != 1 || sts[0].Seated || sts[0].SeatID != nil {
		t.Fatalf("dangling seat reference should reset to waiting: %+v", sts)
	}
	checkInvariants(t, s)
}

func TestHydrateRelinksByIdentity(t *testing.T) {
	s := newTestStore()
	seatID := "R2"
	snap := Snapshot{
		Students: []Student{
			{ID: "s1", Name: "Alice", Seated: true, SeatID: &seatID},
			{ID: "s2", Name: "Bob"},
		},
		Seats: []Seat{
			{ID: "R2", Student: &Student{ID: "s1", Name: "Alice"}},
		},
	}
	s.Hydrate(snap)

	if c := s.Counts(); c.Waiting != 1 || c.Seated != 1 {
		t.Fatalf("expected 1/1 after hydrate, got %+v", c)
	}
	for _, seat := range s.Seats() {
		if seat.ID == "R2" && (seat.Student == nil || seat.Student.ID != "s1") {
			t.Fatalf("R2 should hold s1")
		}
	}
	checkInvariants(t, s)
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 48} {
		s := newTestStore()
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("Student %d", i+1)
		}
		s.AddStudentList(names)
		students := s.Students()
		seats := s.Seats()
		for i := 0; i < n && i < len(seats); i++ {
			s.AssignStudentToSeat(students[i].ID, seats[i].ID)
		}

		snap := s.Snapshot()
		restored := newTestStore()
		restored.Hydrate(snap)

		if got, want := restored.Counts(), s.Counts(); got != want {
			t.Fatalf("n=%d: counts differ after round trip: %+v vs %+v", n, got, want)
		}
		origSeats := map[string]string{}
		for _, seat := range s.Seats() {
			if seat.Student != nil {
				origSeats[seat.ID] = seat.Student.ID
			}
		}
		for _, seat := range restored.Seats() {
			if seat.Student != nil {
				if origSeats[seat.ID] != seat.Student.ID {
					t.Fatalf("n=%d: seat %s occupant differs", n, seat.ID)
				}
				delete(origSeats, seat.ID)
			}
		}
		if len(origSeats) != 0 {
			t.Fatalf("n=%d: occupied seats lost in round trip: %v", n, origSeats)
		}
		checkInvariants(t, restored)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	s := newTestStore()
	a, _ := s.AddStudent("Alice")
	snap := s.Snapshot()
	snap.Students[0].Name = "Mallory"

	for _, st := range s.Students() {
		if st.ID == a.ID && st.Name != "Alice" {
			t.Fatalf("snapshot mutation leaked into live state")
		}
	}
}
