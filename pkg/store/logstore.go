// Package store implements the Log & Snapshot Store component: a
// durable, append-only replicated log plus an atomically-written
// snapshot, laid out on disk exactly as spec.md §6 fixes:
//
//	data_dir/
//	  hard_state
//	  log/000001.log ...
//	  snapshot.meta
//	  snapshot.bin
//	  snapshot.bin.tmp
//
// FileStore implements hashicorp/raft's LogStore and StableStore
// interfaces; FileSnapshotStore (snapshotstore.go) implements
// raft.SnapshotStore. The Consensus Engine (pkg/consensus) is the only
// caller — callers elsewhere should go through it rather than touching
// files directly, since the append path holds an exclusive lock per
// spec.md §5.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/discoproj/disco/pkg/discoerr"
	"github.com/hashicorp/raft"
)

// entriesPerSegment bounds how many log records live in one segment
// file before a new one is rolled, keeping the append-only files from
// growing unbounded between snapshots.
const entriesPerSegment = 8192

type pointer struct {
	segment int
	offset  int64
}

// FileStore is the segment-file log store plus the hard-state file.
// A single FileStore instance owns both; the consensus engine opens
// exactly one per data_dir, matching the "Log Store is a process-wide
// singleton" rule in spec.md §9.
type FileStore struct {
	mu sync.Mutex

	dir    string // data_dir
	logDir string // data_dir/log

	index        map[uint64]pointer
	segments     []int // ascending segment numbers currently on disk
	firstIdx     uint64
	lastIdx      uint64
	cur          *os.File // currently-open (tail) segment, append mode
	curSeg       int
	curEntries   int

	hardStatePath string
	hardState     hardStateFile
}

// hardStateFile is the persisted shape of the StableStore's key/value
// pairs — hashicorp/raft stores CurrentTerm/LastVoteTerm/LastVoteCand
// plus our own applied-index bookkeeping under well-known keys.
type hardStateFile struct {
	Uint64 map[string]uint64 `json:"uint64"`
	Bytes  map[string][]byte `json:"bytes"`
}

// NewFileStore opens (or creates) the log and hard-state files under
// dataDir, replaying existing segments to rebuild the in-memory index.
func NewFileStore(dataDir string) (*FileStore, error) {
	logDir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	fs := &FileStore{
		dir:           dataDir,
		logDir:        logDir,
		index:         make(map[uint64]pointer),
		hardStatePath: filepath.Join(dataDir, "hard_state"),
		hardState:     hardStateFile{Uint64: map[string]uint64{}, Bytes: map[string][]byte{}},
	}

	if err := fs.loadHardState(); err != nil {
		return nil, err
	}
	if err := fs.loadSegments(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) loadHardState() error {
	buf, err := os.ReadFile(fs.hardStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &discoerr.Durable{Op: "read hard_state", Err: err}
	}
	if len(buf) == 0 {
		return nil
	}
	return json.Unmarshal(buf, &fs.hardState)
}

func (fs *FileStore) writeHardStateLocked() error {
	buf, err := json.Marshal(fs.hardState)
	if err != nil {
		return err
	}
	tmp := fs.hardStatePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return &discoerr.Durable{Op: "write hard_state", Err: err}
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return &discoerr.Durable{Op: "write hard_state", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &discoerr.Durable{Op: "fsync hard_state", Err: err}
	}
	if err := f.Close(); err != nil {
		return &discoerr.Durable{Op: "close hard_state", Err: err}
	}
	if err := os.Rename(tmp, fs.hardStatePath); err != nil {
		return &discoerr.Durable{Op: "rename hard_state", Err: err}
	}
	return nil
}

func (fs *FileStore) loadSegments() error {
	entries, err := os.ReadDir(fs.logDir)
	if err != nil {
		return fmt.Errorf("read log dir: %w", err)
	}
	var segs []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%06d.log", &n); err != nil {
			continue
		}
		segs = append(segs, n)
	}
	sort.Ints(segs)
	fs.segments = segs

	for _, seg := range segs {
		path := fs.segmentPath(seg)
		count := 0
		err := scanSegment(path, func(off int64, r record) error {
			fs.index[r.Index] = pointer{segment: seg, offset: off}
			if fs.firstIdx == 0 || r.Index < fs.firstIdx {
				fs.firstIdx = r.Index
			}
			if r.Index > fs.lastIdx {
				fs.lastIdx = r.Index
			}
			count++
			return nil
		})
		if err != nil {
			return &discoerr.Durable{Op: fmt.Sprintf("scan segment %06d", seg), Err: err}
		}
		if seg == lastOf(segs) {
			fs.curEntries = count
		}
	}

	if len(segs) == 0 {
		segs = []int{1}
		fs.segments = segs
	}
	fs.curSeg = lastOf(fs.segments)

	f, err := os.OpenFile(fs.segmentPath(fs.curSeg), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open tail segment: %w", err)
	}
	fs.cur = f
	return nil
}

func lastOf(s []int) int {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

func (fs *FileStore) segmentPath(seg int) string {
	return filepath.Join(fs.logDir, fmt.Sprintf("%06d.log", seg))
}

// --- raft.LogStore ---

func (fs *FileStore) FirstIndex() (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.firstIdx, nil
}

func (fs *FileStore) LastIndex() (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.lastIdx, nil
}

func (fs *FileStore) GetLog(index uint64, log *raft.Log) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p, ok := fs.index[index]
	if !ok {
		if fs.firstIdx != 0 && index < fs.firstIdx {
			return &discoerr.Compacted{Index: index, SnapshotIndex: fs.firstIdx - 1}
		}
		return raft.ErrLogNotFound
	}

	var found *raft.Log
	err := scanSegment(fs.segmentPath(p.segment), func(off int64, r record) error {
		if off == p.offset {
			found = r.toLog()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if found == nil {
		return raft.ErrLogNotFound
	}
	*log = *found
	return nil
}

func (fs *FileStore) StoreLog(l *raft.Log) error {
	return fs.StoreLogs([]*raft.Log{l})
}

// StoreLogs appends entries to the log, fsyncing once per batch. It
// fails if the first entry's index is not lastIndex+1, matching
// spec.md §4.2's append() contract.
func (fs *FileStore) StoreLogs(logs []*raft.Log) error {
	if len(logs) == 0 {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.lastIdx != 0 && logs[0].Index != fs.lastIdx+1 {
		return fmt.Errorf("non-contiguous append: have last=%d, got first=%d", fs.lastIdx, logs[0].Index)
	}

	for _, l := range logs {
		if fs.curEntries >= entriesPerSegment {
			if err := fs.rollSegmentLocked(); err != nil {
				return &discoerr.Durable{Op: "roll segment", Err: err}
			}
		}
		off, err := fs.cur.Seek(0, io.SeekCurrent)
		if err != nil {
			return &discoerr.Durable{Op: "seek segment", Err: err}
		}
		if _, err := writeRecord(fs.cur, logToRecord(l)); err != nil {
			return &discoerr.Durable{Op: "append log entry", Err: err}
		}
		fs.index[l.Index] = pointer{segment: fs.curSeg, offset: off}
		if fs.firstIdx == 0 {
			fs.firstIdx = l.Index
		}
		fs.lastIdx = l.Index
		fs.curEntries++
	}

	if err := fs.cur.Sync(); err != nil {
		return &discoerr.Durable{Op: "fsync log batch", Err: err}
	}
	return nil
}

func (fs *FileStore) rollSegmentLocked() error {
	if err := fs.cur.Close(); err != nil {
		return err
	}
	next := fs.curSeg + 1
	f, err := os.OpenFile(fs.segmentPath(next), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fs.cur = f
	fs.curSeg = next
	fs.curEntries = 0
	fs.segments = append(fs.segments, next)
	return nil
}

// DeleteRange removes log entries in [min, max] inclusive. Raft uses
// this both to truncate a diverging suffix (min == some index, max ==
// lastIndex) and to trim the prefix compacted into a new snapshot
// (min == firstIndex, max == snapshot index).
func (fs *FileStore) DeleteRange(min, max uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	isSuffix := max >= fs.lastIdx
	isPrefix := min <= fs.firstIdx

	for i := min; i <= max; i++ {
		delete(fs.index, i)
	}

	switch {
	case isSuffix && !isPrefix:
		return fs.truncateSuffixLocked(min)
	case isPrefix:
		return fs.truncatePrefixLocked(max)
	default:
		// An interior range shouldn't happen in practice; fall back to
		// just dropping it from the index, which GetLog already
		// reports as not-found.
		return nil
	}
}

// truncateSuffixLocked rewrites segment files so no entry with index
// >= from remains, implementing spec.md §4.2 truncate_suffix.
func (fs *FileStore) truncateSuffixLocked(from uint64) error {
	var keepSegments []int
	for _, seg := range fs.segments {
		cutoff := int64(-1)
		err := scanSegment(fs.segmentPath(seg), func(off int64, r record) error {
			if r.Index >= from && cutoff < 0 {
				cutoff = off
			}
			return nil
		})
		if err != nil {
			return err
		}
		if cutoff == 0 {
			// Whole segment is being dropped.
			if seg == fs.curSeg {
				fs.cur.Close()
			}
			if err := os.Remove(fs.segmentPath(seg)); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		if cutoff > 0 {
			if seg == fs.curSeg {
				fs.cur.Close()
			}
			f, err := os.OpenFile(fs.segmentPath(seg), os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			if err := f.Truncate(cutoff); err != nil {
				f.Close()
				return err
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		keepSegments = append(keepSegments, seg)
	}
	fs.segments = keepSegments
	if len(fs.segments) == 0 {
		fs.segments = []int{fs.curSeg}
	}
	fs.curSeg = lastOf(fs.segments)
	f, err := os.OpenFile(fs.segmentPath(fs.curSeg), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fs.cur = f

	fs.lastIdx = 0
	fs.curEntries = 0
	for idx, p := range fs.index {
		if idx > fs.lastIdx {
			fs.lastIdx = idx
		}
		if p.segment == fs.curSeg {
			fs.curEntries++
		}
	}
	if len(fs.index) == 0 {
		fs.firstIdx = 0
	}
	return nil
}

// truncatePrefixLocked deletes whole segment files that are entirely
// compacted into a snapshot up to and including index upTo.
func (fs *FileStore) truncatePrefixLocked(upTo uint64) error {
	var keep []int
	for _, seg := range fs.segments {
		allCompacted := true
		err := scanSegment(fs.segmentPath(seg), func(off int64, r record) error {
			if r.Index > upTo {
				allCompacted = false
			}
			return nil
		})
		if err != nil {
			return err
		}
		if allCompacted && seg != fs.curSeg {
			if err := os.Remove(fs.segmentPath(seg)); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		keep = append(keep, seg)
	}
	fs.segments = keep

	fs.firstIdx = 0
	for idx := range fs.index {
		if fs.firstIdx == 0 || idx < fs.firstIdx {
			fs.firstIdx = idx
		}
	}
	return nil
}

// --- raft.StableStore ---

func (fs *FileStore) Set(key []byte, val []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.hardState.Bytes[string(key)] = val
	return fs.writeHardStateLocked()
}

func (fs *FileStore) Get(key []byte) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.hardState.Bytes[string(key)]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return v, nil
}

func (fs *FileStore) SetUint64(key []byte, val uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.hardState.Uint64[string(key)] = val
	return fs.writeHardStateLocked()
}

func (fs *FileStore) GetUint64(key []byte) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hardState.Uint64[string(key)], nil
}

// Close closes the currently-open tail segment.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cur != nil {
		return fs.cur.Close()
	}
	return nil
}
