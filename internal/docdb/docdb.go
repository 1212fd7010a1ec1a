// Package docdb defines the document-database contract the group
// coordinator and updater are built against: an external collaborator
// reached through an abstract interface for snapshot reads,
// update-sequence numbers, committed-sequence numbers, and change
// streams. It also provides an in-memory reference implementation used to
// drive the updater and coordinator's own tests: a monotonic sequence
// counter guarded by a mutex, with a channel used to signal new data to a
// streaming reader.
package docdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/vtreedb/vtree/internal/mbr"
)

// Emission is one (index_id, mbr, value) pair a document's spatial function
// produced.
type Emission struct {
	IndexID uint32
	MBR     mbr.Box
	Value   []byte
}

// Change is one entry in the database's change stream: either a document
// update carrying its current emissions, or a deletion.
type Change struct {
	Seq       uint64
	DocID     []byte
	Deleted   bool
	Emissions []Emission
}

// ErrInvalidViewSeq is returned when a caller requests a sequence beyond
// the database's current update sequence.
var ErrInvalidViewSeq = fmt.Errorf("docdb: requested sequence exceeds current update sequence")

// DB is the abstract contract the updater and group coordinator depend on.
// Implementations must guarantee ChangesSince delivers changes in strictly
// ascending Seq order and that CommittedSeq never exceeds CurrentSeq.
type DB interface {
	Name() string
	CurrentSeq(ctx context.Context) (uint64, error)
	CommittedSeq(ctx context.Context) (uint64, error)
	// ChangesSince streams every change with Seq > since, in ascending
	// order, until the channel's buffered backlog is exhausted or ctx is
	// canceled. The channel is closed when the stream ends.
	ChangesSince(ctx context.Context, since uint64) (<-chan Change, error)
	// Closed reports a channel that is closed when the database goes away,
	// driving the group coordinator's db_monitor_down operation.
	Closed() <-chan struct{}
	Close() error
}

// MemDB is an in-memory DB used by tests: changes are appended under a
// monotonically increasing sequence, and a separate committed watermark can
// lag behind the current sequence to exercise the durability fence between
// indexing and commit.
type MemDB struct {
	mu        sync.Mutex
	name      string
	changes   []Change
	committed uint64
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemDB creates an empty in-memory database named name.
func NewMemDB(name string) *MemDB {
	return &MemDB{name: name, closed: make(chan struct{})}
}

func (m *MemDB) Name() string { return m.name }

// Put appends a new change recording docID's current emissions, advancing
// the current sequence. The committed sequence is untouched — call Commit
// to advance it separately.
func (m *MemDB) Put(docID []byte, emissions []Emission) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := uint64(len(m.changes)) + 1
	m.changes = append(m.changes, Change{Seq: seq, DocID: append([]byte{}, docID...), Emissions: emissions})
	return seq
}

// Delete appends a deletion change for docID.
func (m *MemDB) Delete(docID []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := uint64(len(m.changes)) + 1
	m.changes = append(m.changes, Change{Seq: seq, DocID: append([]byte{}, docID...), Deleted: true})
	return seq
}

// Commit advances the committed watermark to seq. Committing past the
// current sequence is a test-harness bug and panics rather than silently
// violating the invariant every other package relies on.
func (m *MemDB) Commit(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > uint64(len(m.changes)) {
		panic("docdb: MemDB.Commit past current sequence")
	}
	if seq > m.committed {
		m.committed = seq
	}
}

func (m *MemDB) CurrentSeq(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.changes)), nil
}

func (m *MemDB) CommittedSeq(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed, nil
}

func (m *MemDB) ChangesSince(ctx context.Context, since uint64) (<-chan Change, error) {
	m.mu.Lock()
	if since > uint64(len(m.changes)) {
		m.mu.Unlock()
		return nil, ErrInvalidViewSeq
	}
	backlog := append([]Change{}, m.changes[since:]...)
	m.mu.Unlock()

	out := make(chan Change, len(backlog))
	for _, c := range backlog {
		out <- c
	}
	close(out)
	return out, nil
}

func (m *MemDB) Closed() <-chan struct{} { return m.closed }

// Close marks the database as gone, firing the Closed channel exactly
// once. This simulates the database process itself going away — not the
// closing of one caller's handle. Code that opens a handle per-operation
// should call Handle, not Close, to get something whose own Close is
// scoped to that one handle.
func (m *MemDB) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// memHandle is a per-caller handle onto a shared *MemDB: every method
// delegates except Close, which only releases this handle rather than
// shutting down the database it was opened against.
type memHandle struct {
	*MemDB
}

// Close releases this handle without affecting the underlying MemDB or
// its Closed channel.
func (h memHandle) Close() error { return nil }

// Handle returns a new DB handle onto m whose Close only releases that
// handle, leaving m itself (and its Closed channel) untouched. Use this
// from an OpenDB implementation instead of returning m directly.
func (m *MemDB) Handle() DB { return memHandle{m} }
