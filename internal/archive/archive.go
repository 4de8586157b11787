// Package archive bridges the zip interchange bundle (data.json + photo
// blobs) to the roster, the persistence gateway, and the photo store.
package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"seatboard/internal/persist"
	"seatboard/internal/photo"
	"seatboard/internal/roster"
)

// Version is the interchange format version written into data.json.
const Version = "1.0"

// ErrInvalidArchive rejects bundles whose data.json is missing or whose
// students field is absent or not a sequence.
var ErrInvalidArchive = errors.New("invalid archive: missing student data")

// Manifest is the data.json entry of a bundle.
type Manifest struct {
	Students      []roster.Student      `json:"students"`
	Seats         []roster.Seat         `json:"seats"`
	PrintSettings *roster.PrintSettings `json:"printSettings"`
	ExportDate    time.Time             `json:"exportDate"`
	Version       string                `json:"version"`
}

// Adapter performs whole-state export and import.
type Adapter struct {
	store   *roster.Store
	photos  photo.Store
	gateway *persist.Gateway
}

// New wires the adapter to its collaborators.
func New(store *roster.Store, photos photo.Store, gateway *persist.Gateway) *Adapter {
	return &Adapter{store: store, photos: photos, gateway: gateway}
}

// Export writes a zip bundle to w: data.json plus images/<studentId>.jpg for
// every stored photo. A photo-store failure degrades to a bundle without
// images rather than aborting the export.
func (a *Adapter) Export(ctx context.Context, w io.Writer) error {
	snap := a.store.Snapshot()
	manifest := Manifest{
		Students:      snap.Students,
		Seats:         snap.Seats,
		PrintSettings: a.store.PrintSettings(),
		ExportDate:    time.Now().UTC(),
		Version:       Version,
	}

	zw := zip.NewWriter(w)
	entry, err := zw.Create("data.json")
	if err != nil {
		return fmt.Errorf("archive: create data.json: %w", err)
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("archive: encode data.json: %w", err)
	}

	records, err := a.photos.GetAll(ctx)
	if err != nil {
		records = nil
	}
	for _, rec := range records {
		img, err := zw.Create("images/" + rec.StudentID + ".jpg")
		if err != nil {
			return fmt.Errorf("archive: create image entry: %w", err)
		}
		if _, err := img.Write(rec.ImageData); err != nil {
			return fmt.Errorf("archive: write image entry: %w", err)
		}
	}
	return zw.Close()
}

// Import replaces the entire roster, seat, and photo state from a bundle.
// Validation happens before any mutation: data.json must exist and carry a
// students sequence, and every image entry must be readable. Only then are
// photos cleared and replaced, the roster hydrated, and a snapshot persisted.
func (a *Adapter) Import(ctx context.Context, r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("archive: open bundle: %w", err)
	}

	manifest, err := readManifest(zr)
	if err != nil {
		return err
	}
	images, err := readImages(zr)
	if err != nil {
		return err
	}

	if err := a.photos.Clear(ctx); err != nil {
		return err
	}
	for id, blob := range images {
		if err := a.photos.Put(ctx, id, blob); err != nil {
			return err
		}
	}

	a.store.Hydrate(roster.Snapshot{Students: manifest.Students, Seats: manifest.Seats})
	a.store.SetPrintSettings(manifest.PrintSettings)

	if err := a.gateway.Save(ctx, a.store.Snapshot()); err != nil {
		// Imported state is live in memory; durable backup catches up on
		// the next save.
		return nil
	}
	return nil
}

func readManifest(zr *zip.Reader) (Manifest, error) {
	var file *zip.File
	for _, f := range zr.File {
		if f.Name == "data.json" {
			file = f
			break
		}
	}
	if file == nil {
		return Manifest{}, ErrInvalidArchive
	}
	rc, err := file.Open()
	if err != nil {
		return Manifest{}, fmt.Errorf("archive: open data.json: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Manifest{}, fmt.Errorf("archive: read data.json: %w", err)
	}

	// The students field must be present and a sequence before anything is
	// touched.
	var probe struct {
		Students json.RawMessage `json:"students"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Manifest{}, ErrInvalidArchive
	}
	trimmed := strings.TrimSpace(string(probe.Students))
	if trimmed == "" || trimmed == "null" || !strings.HasPrefix(trimmed, "[") {
		return Manifest{}, ErrInvalidArchive
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, ErrInvalidArchive
	}
	return manifest, nil
}

func readImages(zr *zip.Reader) (map[string][]byte, error) {
	images := make(map[string][]byte)
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "images/") || !strings.HasSuffix(f.Name, ".jpg") {
			continue
		}
		id := strings.TrimSuffix(path.Base(f.Name), ".jpg")
		if id == "" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: open image %s: %w", f.Name, err)
		}
		blob, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("archive: read image %s: %w", f.Name, err)
		}
		images[id] = blob
	}
	return images, nil
}
