package appendfile

import "sync/atomic"

// RefCounter keeps a *File alive across header rewrites so that a reader
// holding a snapshot is unaffected by a subsequent header commit or
// compaction. This is a whole-file generalization of a per-page pin/unpin
// counter: callers must AddRef before handing out a snapshot and Release
// when the reader is done; the file is closed only once the count reaches
// zero after Close has been requested.
type RefCounter struct {
	file    *File
	count   int64
	closing atomic.Bool
}

// NewRefCounter wraps file with a ref count starting at 1 (the owner's
// reference).
func NewRefCounter(file *File) *RefCounter {
	return &RefCounter{file: file, count: 1}
}

// AddRef increments the reference count. Must be called before a reader
// is handed a snapshot built on top of this handle.
func (rc *RefCounter) AddRef() {
	atomic.AddInt64(&rc.count, 1)
}

// Release decrements the reference count, closing the underlying file once
// it reaches zero and Close has been requested.
func (rc *RefCounter) Release() error {
	if atomic.AddInt64(&rc.count, -1) == 0 && rc.closing.Load() {
		return rc.file.Close()
	}
	return nil
}

// File returns the wrapped append-only file. Valid for as long as the
// caller holds a reference.
func (rc *RefCounter) File() *File { return rc.file }

// Close drops the owner's own reference and requests that the handle be
// closed once all outstanding reader references are released. Call this
// from the owner once a newer handle has replaced this one (e.g. after
// group teardown).
func (rc *RefCounter) Close() error {
	rc.closing.Store(true)
	if atomic.AddInt64(&rc.count, -1) == 0 {
		return rc.file.Close()
	}
	return nil
}
