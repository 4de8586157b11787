package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"seatboard/internal/persist"
	"seatboard/internal/photo"
	"seatboard/internal/roster"
)

func newFixture() (*Adapter, *roster.Store, *photo.MemoryStore, *persist.Gateway) {
	n := 0
	rst := roster.New(roster.GridConfig{Rows: 6, Cols: 4}, func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}, nil)
	photos := photo.NewMemory()
	gw := persist.NewGateway(persist.NewMemoryKV(), "slot")
	return New(rst, photos, gw), rst, photos, gw
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter, rst, photos, _ := newFixture()

	rst.AddStudentList([]string{"Alice", "Bob"})
	students := rst.Students()
	rst.AssignStudentToSeat(students[0].ID, "L3")
	rst.SetPrintSettings(&roster.PrintSettings{TeacherName: "Ms. Tran"})
	if err := photos.Put(ctx, students[0].ID, []byte{0xff, 0xd8, 0x01}); err != nil {
		t.Fatalf("seed photo failed: %v", err)
	}

	var buf bytes.Buffer
	if err := adapter.Export(ctx, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	// Import into a fresh system.
	adapter2, rst2, photos2, _ := newFixture()
	rst2.AddStudent("ToBeReplaced")
	if err := adapter2.Import(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if c := rst2.Counts(); c.Waiting != 1 || c.Seated != 1 {
		t.Fatalf("expected 1 waiting / 1 seated after import, got %+v", c)
	}
	for _, seat := range rst2.Seats() {
		if seat.ID == "L3" && (seat.Student == nil || seat.Student.Name != "Alice") {
			t.Fatalf("seat L3 should hold Alice after import")
		}
	}
	if ps := rst2.PrintSettings(); ps == nil || ps.TeacherName != "Ms. Tran" {
		t.Fatalf("print settings lost: %+v", ps)
	}
	rec, err := photos2.Get(ctx, students[0].ID)
	if err != nil || rec == nil {
		t.Fatalf("photo lost in round trip: %v %v", rec, err)
	}
	if !bytes.Equal(rec.ImageData, []byte{0xff, 0xd8, 0x01}) {
		t.Fatalf("photo bytes changed in round trip")
	}
}

func TestExportLayout(t *testing.T) {
	ctx := context.Background()
	adapter, rst, photos, _ := newFixture()
	st, _ := rst.AddStudent("Alice")
	_ = photos.Put(ctx, st.ID, []byte("img"))

	var buf bytes.Buffer
	if err := adapter.Export(ctx, &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("export is not a zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["data.json"] {
		t.Fatalf("bundle missing data.json: %v", names)
	}
	if !names["images/"+st.ID+".jpg"] {
		t.Fatalf("bundle missing photo entry: %v", names)
	}
}

func TestImportEmptyRosterReplacesEverything(t *testing.T) {
	ctx := context.Background()
	adapter, rst, photos, _ := newFixture()

	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("Student %d", i+1)
	}
	rst.AddStudentList(names)
	for _, st := range rst.Students() {
		_ = photos.Put(ctx, st.ID, []byte("img"))
	}

	bundle := buildBundle(t, `{"students": [], "seats": [], "version": "1.0"}`, nil)
	if err := adapter.Import(ctx, bytes.NewReader(bundle), int64(len(bundle))); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if len(rst.Students()) != 0 {
		t.Fatalf("import should replace roster with empty one")
	}
	all, _ := photos.GetAll(ctx)
	if len(all) != 0 {
		t.Fatalf("import should clear prior photos, %d remain", len(all))
	}
}

func TestImportInvalidDataAborts(t *testing.T) {
	ctx := context.Background()

	cases := map[string]string{
		"missing students": `{"seats": []}`,
		"students not seq": `{"students": {"a": 1}}`,
		"students null":    `{"students": null}`,
		"not json":         `{nope`,
	}
	for name, data := range cases {
		adapter, rst, photos, _ := newFixture()
		rst.AddStudent("Keep Me")
		st := rst.Students()[0]
		_ = photos.Put(ctx, st.ID, []byte("img"))

		bundle := buildBundle(t, data, nil)
		err := adapter.Import(ctx, bytes.NewReader(bundle), int64(len(bundle)))
		if !errors.Is(err, ErrInvalidArchive) {
			t.Fatalf("%s: expected ErrInvalidArchive, got %v", name, err)
		}
		if len(rst.Students()) != 1 || rst.Students()[0].Name != "Keep Me" {
			t.Fatalf("%s: failed import must not mutate roster", name)
		}
		if rec, _ := photos.Get(ctx, st.ID); rec == nil {
			t.Fatalf("%s: failed import must not clear photos", name)
		}
	}
}

func TestImportWithoutDataJSONAborts(t *testing.T) {
	adapter, rst, _, _ := newFixture()
	rst.AddStudent("Keep Me")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("images/x.jpg")
	_, _ = w.Write([]byte("img"))
	_ = zw.Close()

	err := adapter.Import(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive, got %v", err)
	}
	if len(rst.Students()) != 1 {
		t.Fatalf("failed import must not mutate roster")
	}
}

func buildBundle(t *testing.T, dataJSON string, images map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("data.json")
	if err != nil {
		t.Fatalf("create data.json: %v", err)
	}
	if _, err := w.Write([]byte(dataJSON)); err != nil {
		t.Fatalf("write data.json: %v", err)
	}
	for id, blob := range images {
		iw, err := zw.Create("images/" + id + ".jpg")
		if err != nil {
			t.Fatalf("create image: %v", err)
		}
		if _, err := iw.Write(blob); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
