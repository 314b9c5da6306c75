// Package snapshot persists relation runs to disk in a compact binary
// format so the relator can serve the last known mapping immediately after
// a restart, before the first fresh run completes.
//
// A snapshot file is a fixed-size header, one JSON block per related list,
// a JSON manifest describing the run and the list directory, and a
// checksummed footer. Files are written to a .tmp path and renamed into
// place so readers never observe a partial snapshot.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
)

// MagicBytes identifies a valid .asrs snapshot file.
const (
	MagicBytes    uint32 = 0x41535253
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

// SnapshotHeader is the fixed-size header written at the start of every
// snapshot file.
type SnapshotHeader struct {
	Magic          uint32
	Version        uint32
	EntryCount     uint32
	ListCount      uint32
	CreatedAt      int64
	ManifestOffset int64
	ManifestSize   int64
	ListsOffset    int64
	ListsSize      int64
}

// ListEntry locates one entry's related list inside the lists region.
type ListEntry struct {
	ID     string `json:"id"`
	Offset int64  `json:"o"`
	Len    int    `json:"l"`
	Count  int    `json:"n"`
}

// Manifest carries the run metadata and the list directory. It is stored as
// JSON between the lists region and the footer.
type Manifest struct {
	RunID       string        `json:"run_id"`
	Fingerprint string        `json:"fingerprint"`
	EntryIDs    []string      `json:"entry_ids"`
	Entries     int           `json:"entries"`
	PairsScored int64         `json:"pairs_scored"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Lists       []ListEntry   `json:"lists"`
}

// Writer serialises relation runs into new .asrs snapshot files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes snapshots into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new snapshot file for the given run. It writes
// to a .tmp file first and renames on success, returning the snapshot's
// file name.
func (w *Writer) Write(run *relate.Run) (string, error) {
	if run == nil {
		return "", fmt.Errorf("cannot snapshot a nil run")
	}
	name := fmt.Sprintf("snap_%d.asrs", time.Now().UnixNano())
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(run.EntryIDs)))
	binary.LittleEndian.PutUint32(headerBytes[12:16], uint32(len(run.Related)))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(time.Now().Unix()))
	if _, err := f.Write(headerBytes); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	// EntryIDs is sorted, so the directory comes out sorted by id and the
	// reader can binary-search it.
	listsStart, _ := f.Seek(0, 1)
	lists := make([]ListEntry, 0, len(run.Related))
	for _, id := range run.EntryIDs {
		results, ok := run.Related[id]
		if !ok {
			continue
		}
		offset, _ := f.Seek(0, 1)
		data, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("marshaling related list for %q: %w", id, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing related list for %q: %w", id, err)
		}
		lists = append(lists, ListEntry{
			ID:     id,
			Offset: offset - listsStart,
			Len:    len(data),
			Count:  len(results),
		})
	}
	listsEnd, _ := f.Seek(0, 1)
	listsSize := listsEnd - listsStart

	manifest := Manifest{
		RunID:       run.ID,
		Fingerprint: run.Fingerprint,
		EntryIDs:    run.EntryIDs,
		Entries:     run.Entries,
		PairsScored: run.PairsScored,
		StartedAt:   run.StartedAt,
		Duration:    run.Duration,
		Lists:       lists,
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}
	if _, err := f.Write(manifestData); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}

	checksum := crc32.ChecksumIEEE(manifestData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(lists)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(listsEnd))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(manifestData)))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(listsSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}

	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(listsEnd))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(len(manifestData)))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(listsStart))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(listsSize))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return name, nil
}
