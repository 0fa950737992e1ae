package eventlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// Log is the append-only event log: Append is the only mutator of durable
// state, Iter returns events in insertion order, Count is O(1). A Log may be backed by a file for durability or left in-memory
// only (nil file) for tests.
type Log struct {
	mu     sync.Mutex
	events []Event
	file   *os.File
}

// Open opens (creating if necessary) the event log at path and loads any
// events already persisted there. Durability semantics: Append only
// returns once the record has been written and fsynced, so "commits on
// return" holds even across a crash immediately after.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	l := &Log{file: f}
	if err := l.loadLocked(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// NewInMemory returns a Log with no backing file, useful for tests and for
// replaying an externally-supplied event slice.
func NewInMemory() *Log {
	return &Log{}
}

func (l *Log) loadLocked() error {
	if l.file == nil {
		return nil
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(l.file, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("eventlog: read length prefix: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(l.file, buf); err != nil {
			return fmt.Errorf("eventlog: read record: %w", err)
		}
		ev, err := decodeEvent(buf)
		if err != nil {
			return err
		}
		l.events = append(l.events, ev)
	}
	return nil
}

// Append encodes, persists (if backed by a file) and records ev as the next
// event in the log. It is the ONLY mutator of durable state. The in-memory
// state is folded first: internal/state.ProcessEvent applies an event and
// only then calls Append, so an event whose apply panics never reaches the
// log.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		buf, err := encodeEvent(ev)
		if err != nil {
			return err
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
		if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("eventlog: seek to end: %w", err)
		}
		if _, err := l.file.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("eventlog: write length prefix: %w", err)
		}
		if _, err := l.file.Write(buf); err != nil {
			return fmt.Errorf("eventlog: write record: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("eventlog: fsync: %w", err)
		}
	}
	l.events = append(l.events, ev)
	return nil
}

// Iter returns a copy of the events in insertion order.
func (l *Log) Iter() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Count returns the number of events appended so far, O(1).
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Close releases the backing file, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
