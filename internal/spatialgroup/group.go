package spatialgroup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vtreedb/vtree/internal/appendfile"
	"github.com/vtreedb/vtree/internal/docdb"
	"github.com/vtreedb/vtree/internal/idbtree"
	"github.com/vtreedb/vtree/internal/mbr"
	"github.com/vtreedb/vtree/internal/vtree"
)

// OpenDB opens a handle to the document database a Group indexes. The
// group never holds this handle longer than one updater run or one
// delayed-commit check — it is cheap to open repeatedly, and a fresh
// handle is opened each time delayed_commit needs to read the committed
// sequence.
type OpenDB func(ctx context.Context, dbName string) (docdb.DB, error)

// Snapshot is the (group, ref_counter) pair handed back by RequestGroup.
// Ref is already incremented on behalf of the caller — the handle must be
// incremented before a snapshot is handed out; the caller must call
// Release (or Snapshot.Release) when done with it.
type Snapshot struct {
	Def        *Definition
	CurrentSeq uint64
	PurgeSeq   uint64
	Roots      []vtree.Offset
	Ref        *appendfile.RefCounter
	Tree       *vtree.Tree
}

// Lookup runs a bounding-box query against the named index within this
// snapshot.
func (s *Snapshot) Lookup(indexName string, query mbr.Box) ([]vtree.LeafEntry, error) {
	id, ok := s.Def.IndexID(indexName)
	if !ok {
		return nil, fmt.Errorf("spatialgroup: unknown index %q", indexName)
	}
	return s.Tree.Lookup(s.Roots[id], query)
}

// Release drops this snapshot's reference on the underlying file handle.
func (s *Snapshot) Release() error { return s.Ref.Release() }

type waiter struct {
	seq   uint64
	since time.Time
	reply chan replyMsg
}

type replyMsg struct {
	snap *Snapshot
	err  error
}

type reqMsg struct {
	seq   uint64
	reply chan replyMsg
}

type partialMsg struct{ state State }
type finishedMsg struct{ state State }

// Group is the per-index-file actor: all mutable state lives on one
// goroutine's stack, reachable only through the channels below, so that
// one isolated task owns all mutable state for its index. It follows a
// background-flusher pattern, generalized from a mutex-guarded struct
// with a flusher goroutine to a single-owner mailbox actor with a
// supervised updater goroutine.
type Group struct {
	dbName      string
	designDocID string
	def         *Definition
	cfg         Config
	log         *zap.Logger
	openDB      OpenDB
	metrics     *metrics

	af   *appendfile.File
	idb  *idbtree.Store
	tree *vtree.Tree
	sig  [16]byte

	outOfRangeWarn rate.Sometimes

	reqCh        chan reqMsg
	partialCh    chan partialMsg
	finishedCh   chan finishedMsg
	invalidSeqCh chan error
	crashCh      chan error
	dbDownCh     chan struct{}
	closeCh      chan struct{}
	doneCh       chan struct{}
}

// Open creates or resumes a Group for (dbName, designDocID, def) rooted
// at rootDir: it opens (or creates) the index file, validates the
// signature, and either resumes from a header or resets the file.
// idbtreeDir is the directory backing the id-btree's Pebble instance.
func Open(dbName, designDocID string, def *Definition, rootDir, idbtreeDir string, cfg Config, log *zap.Logger, openDB OpenDB, meter metric.Meter) (*Group, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	designRoot := filepath.Join(rootDir, designDocID)
	path := filepath.Join(designRoot, def.FileName())
	if err := os.MkdirAll(designRoot, 0755); err != nil {
		return nil, fmt.Errorf("spatialgroup: create design directory: %w", err)
	}

	// The index file and the id-btree have no dependency on each other
	// until both are open, so open them concurrently and fail fast if
	// either errors.
	var af *appendfile.File
	var idb *idbtree.Store
	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		af, err = appendfile.Open(path, log)
		if err != nil {
			return fmt.Errorf("spatialgroup: open index file: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		idb, err = idbtree.Open(idbtreeDir)
		if err != nil {
			return fmt.Errorf("spatialgroup: open id-btree: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		if af != nil {
			af.Close()
		}
		if idb != nil {
			idb.Close()
		}
		return nil, err
	}

	sig := def.Signature()
	state, err := loadOrResetState(af, sig, def.NumRoots(), log)
	if err != nil {
		af.Close()
		idb.Close()
		return nil, err
	}

	g := &Group{
		dbName:      dbName,
		designDocID: designDocID,
		def:         def,
		cfg:         cfg,
		log:         log.Named("spatialgroup").With(zap.String("design_doc", designDocID)),
		openDB:      openDB,
		metrics:     newMetrics(meter),
		af:          af,
		idb:         idb,
		tree:        vtree.New(af, cfg.VTree, log),
		sig:         sig,

		outOfRangeWarn: rate.Sometimes{Interval: 10 * time.Second},

		reqCh:        make(chan reqMsg),
		partialCh:    make(chan partialMsg),
		finishedCh:   make(chan finishedMsg),
		invalidSeqCh: make(chan error),
		crashCh:      make(chan error),
		dbDownCh:     make(chan struct{}),
		closeCh:      make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	go g.run(state)
	return g, nil
}

// loadOrResetState reads the current header, resetting the file via
// signature_mismatch recovery if the signature does not match, and
// honoring the legacy "rck\0" upgrade path on read.
func loadOrResetState(af *appendfile.File, sig [16]byte, numRoots int, log *zap.Logger) (State, error) {
	raw, err := af.ReadHeader()
	if err != nil {
		return State{}, fmt.Errorf("spatialgroup: read header: %w", err)
	}
	h, legacy, err := vtree.DecodeHeader(raw)
	if err != nil {
		// A freshly reserved header region decodes as all zeros, which
		// DecodeHeader can still parse as an (empty) header with a
		// zero signature; a real decode error means corruption we can't
		// locally recover from except by resetting, same as a mismatch.
		log.Warn("header decode failed, resetting index file", zap.Error(err))
		return resetState(af, sig, numRoots)
	}
	if !h.MatchesSignature(sig) {
		log.Info("resetting index file", zap.Error(vtree.ErrSignatureMismatch))
		return resetState(af, sig, numRoots)
	}
	if legacy {
		log.Info("upgrading legacy header format")
	}
	return stateFromHeader(h, numRoots), nil
}

func resetState(af *appendfile.File, sig [16]byte, numRoots int) (State, error) {
	if err := af.Truncate(); err != nil {
		return State{}, fmt.Errorf("spatialgroup: truncate on reset: %w", err)
	}
	state := State{Roots: make([]vtree.Offset, numRoots)}
	h := state.toHeader(sig)
	data, err := vtree.EncodeHeader(h)
	if err != nil {
		return State{}, fmt.Errorf("spatialgroup: encode reset header: %w", err)
	}
	if err := af.WriteHeader(data); err != nil {
		return State{}, fmt.Errorf("spatialgroup: write reset header: %w", err)
	}
	return state, nil
}

// Done reports a channel closed once the group's actor loop has exited.
func (g *Group) Done() <-chan struct{} { return g.doneCh }

// Close requests an orderly shutdown: pending waiters receive
// ErrTerminated and the actor loop exits.
func (g *Group) Close() {
	select {
	case g.closeCh <- struct{}{}:
	case <-g.doneCh:
	}
}

// signalDBDown drives the db_monitor_down operation.
func (g *Group) signalDBDown() {
	select {
	case g.dbDownCh <- struct{}{}:
	case <-g.doneCh:
	}
}

// RequestGroup asks for a snapshot at least as fresh as requestedSeq,
// suspending the caller until the index reaches that sequence or the
// group fails.
func (g *Group) RequestGroup(ctx context.Context, requestedSeq uint64) (*Snapshot, error) {
	start := time.Now()
	requestID := uuid.New()
	log := g.log.With(zap.String("request_id", requestID.String()))
	reply := make(chan replyMsg, 1)
	select {
	case g.reqCh <- reqMsg{seq: requestedSeq, reply: reply}:
	case <-g.doneCh:
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		outcome := "ok"
		if r.err != nil {
			outcome = "error"
		}
		log.Debug("request_group resolved", zap.String("outcome", outcome), zap.Uint64("requested_seq", requestedSeq))
		g.metrics.incRequests(ctx, outcome)
		g.metrics.observeWait(ctx, time.Since(start).Seconds())
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the actor loop: every read and write of group state happens here
// and nowhere else, satisfying the single-writer invariant.
func (g *Group) run(state State) {
	defer close(g.doneCh)
	defer g.idb.Close()

	ref := appendfile.NewRefCounter(g.af)
	defer ref.Close()

	var waiters []waiter
	var updaterRunning bool
	var updaterCancel context.CancelFunc
	var waitingCommit bool

	startUpdater := func() {
		ctx, cancel := context.WithCancel(context.Background())
		updaterCancel = cancel
		updaterRunning = true
		// Hand the updater its own copy of state: it mutates Roots
		// in place as it walks changes, and must never alias the
		// actor's own copy between partial_update reports.
		go g.runUpdater(ctx, state.clone())
	}

	fireCommitAfter := func(d time.Duration) <-chan time.Time {
		return time.After(d)
	}
	var commitTimerC <-chan time.Time

	for {
		select {
		case req := <-g.reqCh:
			if req.seq <= state.CurrentSeq {
				ref.AddRef()
				req.reply <- replyMsg{snap: g.snapshot(state, ref)}
				continue
			}
			waiters = append(waiters, waiter{seq: req.seq, since: time.Now(), reply: req.reply})
			if !updaterRunning {
				startUpdater()
			}

		case pu := <-g.partialCh:
			state = pu.state
			if !waitingCommit {
				waitingCommit = true
				commitTimerC = fireCommitAfter(g.cfg.CommitDelay)
			}

		case fin := <-g.finishedCh:
			updaterRunning = false
			updaterCancel = nil
			state = fin.state
			if !waitingCommit {
				waitingCommit = true
				commitTimerC = fireCommitAfter(g.cfg.CommitDelay)
			}

			var remaining []waiter
			for _, w := range waiters {
				if w.seq <= state.CurrentSeq {
					ref.AddRef()
					w.reply <- replyMsg{snap: g.snapshot(state, ref)}
				} else {
					remaining = append(remaining, w)
				}
			}
			waiters = remaining
			// Waiters can remain if more writes landed after the updater
			// snapshotted; respawn the same updater to catch them up.
			if len(waiters) > 0 {
				startUpdater()
			}

		case <-commitTimerC:
			cs, err := g.readCommittedSeq(context.Background())
			if err != nil {
				g.log.Warn("delayed_commit: failed to read committed sequence", zap.Error(err))
				commitTimerC = fireCommitAfter(g.cfg.CommitDelay)
				continue
			}
			if cs >= state.CurrentSeq {
				if err := g.commitHeader(state); err != nil {
					g.log.Warn("delayed_commit: header write failed", zap.Error(err))
					commitTimerC = fireCommitAfter(g.cfg.CommitDelay)
					continue
				}
				waitingCommit = false
				g.metrics.incCommits(context.Background())
			} else {
				commitTimerC = fireCommitAfter(g.cfg.CommitDelay)
			}

		case err := <-g.invalidSeqCh:
			// invalid_view_seq is surfaced to the requester, not fatal to
			// the group.
			for _, w := range waiters {
				w.reply <- replyMsg{err: err}
			}
			waiters = nil
			updaterRunning = false
			updaterCancel = nil

		case reason := <-g.crashCh:
			g.log.Error("updater crashed", zap.Error(reason))
			for _, w := range waiters {
				w.reply <- replyMsg{err: &CrashError{Reason: reason}}
			}
			return

		case <-g.dbDownCh:
			for _, w := range waiters {
				w.reply <- replyMsg{err: ErrShutdown}
			}
			if updaterCancel != nil {
				updaterCancel()
			}
			return

		case <-g.closeCh:
			for _, w := range waiters {
				w.reply <- replyMsg{err: ErrTerminated}
			}
			if updaterCancel != nil {
				updaterCancel()
			}
			return
		}
	}
}

func (g *Group) snapshot(state State, ref *appendfile.RefCounter) *Snapshot {
	return &Snapshot{
		Def:        g.def,
		CurrentSeq: state.CurrentSeq,
		PurgeSeq:   state.PurgeSeq,
		Roots:      append([]vtree.Offset{}, state.Roots...),
		Ref:        ref,
		Tree:       g.tree,
	}
}

func (g *Group) commitHeader(state State) error {
	h := state.toHeader(g.sig)
	data, err := vtree.EncodeHeader(h)
	if err != nil {
		return fmt.Errorf("spatialgroup: encode header: %w", err)
	}
	return g.af.WriteHeader(data)
}

// readCommittedSeq opens the database and reads its committed update
// sequence — a fresh handle each time; the updater's own handle is never
// shared with the group actor.
func (g *Group) readCommittedSeq(ctx context.Context) (uint64, error) {
	db, err := g.openDB(ctx, g.dbName)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return db.CommittedSeq(ctx)
}
