// Package appendfile provides the append-only file abstraction that vtree
// is layered on: append(term) -> offset, read(offset) -> term, plus a
// fixed-location header record. It follows the shape of a classic disk
// manager's fixed header at a well-known location, os.File WriteAt/ReadAt,
// and an explicit Sync for durability.
package appendfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Offset identifies a record's position in the file. Zero is reserved and
// means "no record" (mirrors a nil root pointer).
type Offset uint64

const InvalidOffset Offset = 0

// HeaderSize is the fixed size, in bytes, reserved at the front of the
// file for the header record. The body of the file (node records) is
// append-only starting at this offset.
const HeaderSize = 4096

// File is a single append-only file with one mutable header slot.
//
// Every node write is a length-prefixed record appended strictly after the
// current end of file; the header is the only location ever rewritten in
// place, and only after the records it references are fsynced durable.
type File struct {
	mu   sync.Mutex
	f    *os.File
	path string
	size int64 // current file size, i.e. next append offset
	log  *zap.Logger
}

// Open opens or creates path, reserving HeaderSize bytes for the header if
// the file is new.
func Open(path string, log *zap.Logger) (*File, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("appendfile: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("appendfile: stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		if err := f.Truncate(HeaderSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("appendfile: reserve header region: %w", err)
		}
		size = HeaderSize
	}
	return &File{f: f, path: path, size: size, log: log.Named("appendfile")}, nil
}

// Append writes term as a new record and returns its offset. The record is
// not guaranteed durable until Sync is called.
func (af *File) Append(term []byte) (Offset, error) {
	af.mu.Lock()
	defer af.mu.Unlock()

	off := Offset(af.size)
	buf := make([]byte, 8+len(term))
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(term)))
	copy(buf[8:], term)

	n, err := af.f.WriteAt(buf, int64(off))
	if err != nil {
		return InvalidOffset, fmt.Errorf("appendfile: append at %d: %w", off, err)
	}
	af.size += int64(n)
	af.log.Debug("appended record", zap.Uint64("offset", uint64(off)), zap.Int("bytes", len(term)))
	return off, nil
}

// Read reads back the term previously written at off.
func (af *File) Read(off Offset) ([]byte, error) {
	if off == InvalidOffset {
		return nil, fmt.Errorf("appendfile: read invalid offset")
	}
	lenBuf := make([]byte, 8)
	if _, err := af.f.ReadAt(lenBuf, int64(off)); err != nil {
		return nil, fmt.Errorf("appendfile: read length at %d: %w", off, err)
	}
	n := binary.LittleEndian.Uint64(lenBuf)
	term := make([]byte, n)
	if _, err := af.f.ReadAt(term, int64(off)+8); err != nil && err != io.EOF {
		return nil, fmt.Errorf("appendfile: read term at %d: %w", off, err)
	}
	return term, nil
}

// WriteHeader rewrites the fixed header slot. It is the only in-place
// write this abstraction performs.
func (af *File) WriteHeader(data []byte) error {
	if len(data) > HeaderSize {
		return fmt.Errorf("appendfile: header %d bytes exceeds reserved %d", len(data), HeaderSize)
	}
	af.mu.Lock()
	defer af.mu.Unlock()
	padded := make([]byte, HeaderSize)
	copy(padded, data)
	if _, err := af.f.WriteAt(padded, 0); err != nil {
		return fmt.Errorf("appendfile: write header: %w", err)
	}
	return af.f.Sync()
}

// ReadHeader reads the fixed header slot back.
func (af *File) ReadHeader() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := af.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("appendfile: read header: %w", err)
	}
	return buf, nil
}

// Truncate resets the file to an empty body (header region preserved but
// zeroed), used on signature mismatch recovery.
func (af *File) Truncate() error {
	af.mu.Lock()
	defer af.mu.Unlock()
	if err := af.f.Truncate(HeaderSize); err != nil {
		return fmt.Errorf("appendfile: truncate: %w", err)
	}
	zeros := make([]byte, HeaderSize)
	if _, err := af.f.WriteAt(zeros, 0); err != nil {
		return fmt.Errorf("appendfile: zero header on truncate: %w", err)
	}
	af.size = HeaderSize
	return af.f.Sync()
}

// Sync fsyncs the underlying file. Callers must Sync after appending nodes
// and before WriteHeader references them, to preserve the durability
// fence between data and the header that points at it.
func (af *File) Sync() error {
	return af.f.Sync()
}

// Size returns the current append offset (i.e. file size).
func (af *File) Size() int64 {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.size
}

// Path returns the underlying OS path.
func (af *File) Path() string { return af.path }

// Close closes the underlying OS file handle.
func (af *File) Close() error {
	return af.f.Close()
}
