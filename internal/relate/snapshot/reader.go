package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate"
	"github.com/Rabenherz112/awesome-selfhosted-web-gen-sub000/internal/relate/ranker"
)

// ErrNoSnapshot reports that a directory holds no readable snapshot.
var ErrNoSnapshot = errors.New("no snapshot available")

// Reader provides random access to the related lists of one snapshot file.
type Reader struct {
	file     *os.File
	filePath string
	header   SnapshotHeader
	manifest Manifest
	listBase int64
}

// OpenReader validates a snapshot file's header and manifest checksum and
// returns a Reader over it. Any validation failure is an error: a damaged
// snapshot must trigger a cold rebuild, never serve garbage.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot file: %w", err)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("invalid snapshot file: bad magic bytes %x", magic)
	}
	header := SnapshotHeader{
		Magic:          magic,
		Version:        binary.LittleEndian.Uint32(headerBytes[4:8]),
		EntryCount:     binary.LittleEndian.Uint32(headerBytes[8:12]),
		ListCount:      binary.LittleEndian.Uint32(headerBytes[12:16]),
		CreatedAt:      int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		ManifestOffset: int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		ManifestSize:   int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		ListsOffset:    int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		ListsSize:      int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	manifestBytes := make([]byte, header.ManifestSize)
	if _, err := f.ReadAt(manifestBytes, header.ManifestOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	footerBytes := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBytes, header.ManifestOffset+header.ManifestSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading snapshot footer: %w", err)
	}
	if sum := crc32.ChecksumIEEE(manifestBytes); sum != binary.LittleEndian.Uint32(footerBytes[0:4]) {
		f.Close()
		return nil, fmt.Errorf("snapshot manifest checksum mismatch")
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		f.Close()
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		manifest: manifest,
		listBase: header.ListsOffset,
	}, nil
}

// Related reads one entry's related list without materializing the rest of
// the snapshot. Unknown ids and ids with no qualifying results both return
// a nil list.
func (r *Reader) Related(id string) ([]ranker.Result, error) {
	idx := sort.Search(len(r.manifest.Lists), func(i int) bool {
		return r.manifest.Lists[i].ID >= id
	})
	if idx >= len(r.manifest.Lists) || r.manifest.Lists[idx].ID != id {
		return nil, nil
	}
	entry := r.manifest.Lists[idx]
	data := make([]byte, entry.Len)
	if _, err := r.file.ReadAt(data, r.listBase+entry.Offset); err != nil {
		return nil, fmt.Errorf("reading related list for %q: %w", id, err)
	}
	var results []ranker.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parsing related list for %q: %w", id, err)
	}
	return results, nil
}

// Run materializes the whole snapshot back into a run.
func (r *Reader) Run() (*relate.Run, error) {
	related := make(map[string][]ranker.Result, len(r.manifest.Lists))
	for _, entry := range r.manifest.Lists {
		results, err := r.Related(entry.ID)
		if err != nil {
			return nil, err
		}
		related[entry.ID] = results
	}
	return &relate.Run{
		ID:          r.manifest.RunID,
		Fingerprint: r.manifest.Fingerprint,
		Related:     related,
		EntryIDs:    r.manifest.EntryIDs,
		Entries:     r.manifest.Entries,
		PairsScored: r.manifest.PairsScored,
		StartedAt:   r.manifest.StartedAt,
		Duration:    r.manifest.Duration,
	}, nil
}

// Manifest returns the snapshot's run metadata and list directory.
func (r *Reader) Manifest() Manifest {
	return r.manifest
}

// CreatedAt returns when the snapshot file was written.
func (r *Reader) CreatedAt() time.Time {
	return time.Unix(r.header.CreatedAt, 0)
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Load reads an entire snapshot file into a run.
func Load(path string) (*relate.Run, error) {
	reader, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.Run()
}

// Latest returns the path of the newest snapshot in dir. Snapshot names
// embed a nanosecond timestamp, so the lexically greatest name is also the
// newest.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("listing snapshot directory: %w", err)
	}
	var newest string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "snap_") || !strings.HasSuffix(name, ".asrs") {
			continue
		}
		if name > newest {
			newest = name
		}
	}
	if newest == "" {
		return "", ErrNoSnapshot
	}
	return filepath.Join(dir, newest), nil
}
