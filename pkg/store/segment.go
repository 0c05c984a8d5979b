package store

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/raft"
)

// record is the on-disk shape of one raft.Log, length-prefixed with a
// 4-byte big-endian size so a segment file can be scanned without a
// separate index.
type record struct {
	Index      uint64          `json:"index"`
	Term       uint64          `json:"term"`
	Type       raft.LogType    `json:"type"`
	Data       []byte          `json:"data,omitempty"`
	Extensions []byte          `json:"extensions,omitempty"`
}

func logToRecord(l *raft.Log) record {
	return record{
		Index:      l.Index,
		Term:       l.Term,
		Type:       l.Type,
		Data:       l.Data,
		Extensions: l.Extensions,
	}
}

func (r record) toLog() *raft.Log {
	return &raft.Log{
		Index:      r.Index,
		Term:       r.Term,
		Type:       r.Type,
		Data:       r.Data,
		Extensions: r.Extensions,
	}
}

// writeRecord appends one length-prefixed record to w, returning the
// number of bytes written, header included (the caller tracks the
// running offset; this function only writes).
func writeRecord(w io.Writer, r record) (int64, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("marshal log record: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))
	n, err := w.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	m, err := w.Write(buf)
	if err != nil {
		return 0, err
	}
	return int64(n + m), nil
}

// scanSegment reads every record in path, invoking fn with the record
// and the byte offset at which it starts. Used both to rebuild the
// in-memory index at startup and to rewrite a segment during a suffix
// truncation.
func scanSegment(path string, fn func(off int64, r record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var off int64
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			// A short/corrupt trailing record means the process crashed
			// mid-write; treat everything from here on as absent rather
			// than failing the whole store open.
			if err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read record header in %s: %w", path, err)
		}
		size := binary.BigEndian.Uint32(hdr[:])
		buf := make([]byte, size)
		if _, err := io.ReadFull(br, buf); err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read record body in %s: %w", path, err)
		}
		var r record
		if err := json.Unmarshal(buf, &r); err != nil {
			return fmt.Errorf("decode record in %s: %w", path, err)
		}
		if err := fn(off, r); err != nil {
			return err
		}
		off += int64(4 + size)
	}
}
