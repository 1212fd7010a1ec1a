package spatialgroup

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vtreedb/vtree/internal/docdb"
	"github.com/vtreedb/vtree/internal/idbtree"
	"github.com/vtreedb/vtree/internal/vtree"
)

// runUpdater is the change-stream updater, run as a goroutine supervised
// by the group actor: it reads changes since seed.CurrentSeq, diffs each
// document's emissions against the id-btree's record of what that
// document previously contributed, drives vtree.AddRemove per touched
// index, and reports progress back to the actor via partialCh,
// finishedCh, crashCh, or invalidSeqCh. ctx is canceled by the actor when
// the group is shutting down; a canceled updater simply
// returns without reporting, since its state is superseded.
func (g *Group) runUpdater(ctx context.Context, seed State) {
	db, err := g.openDB(ctx, g.dbName)
	if err != nil {
		g.sendCrash(ctx, err)
		return
	}
	defer db.Close()

	changes, err := db.ChangesSince(ctx, seed.CurrentSeq)
	if err != nil {
		if errors.Is(err, docdb.ErrInvalidViewSeq) {
			g.sendInvalidSeq(ctx, err)
			return
		}
		g.sendCrash(ctx, err)
		return
	}

	state := seed
	ticker := time.NewTicker(g.cfg.CheckpointInterval)
	defer ticker.Stop()

	processed := 0
	lastCheckpoint := time.Now()
	checkpoint := func() bool {
		if err := g.af.Sync(); err != nil {
			g.sendCrash(ctx, err)
			return false
		}
		g.metrics.observeLag(ctx, time.Since(lastCheckpoint).Seconds())
		lastCheckpoint = time.Now()
		select {
		case g.partialCh <- partialMsg{state: state.clone()}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if processed == 0 {
				continue
			}
			if !checkpoint() {
				return
			}
			processed = 0

		case change, ok := <-changes:
			if !ok {
				if err := g.af.Sync(); err != nil {
					g.sendCrash(ctx, err)
					return
				}
				select {
				case g.finishedCh <- finishedMsg{state: state.clone()}:
				case <-ctx.Done():
				}
				return
			}

			newState, err := g.applyChange(state, change)
			if err != nil {
				g.sendCrash(ctx, err)
				return
			}
			state = newState
			processed++

			if processed >= g.cfg.CheckpointDocs {
				if !checkpoint() {
					return
				}
				processed = 0
			}
		}
	}
}

func (g *Group) sendCrash(ctx context.Context, err error) {
	select {
	case g.crashCh <- err:
	case <-ctx.Done():
	}
}

func (g *Group) sendInvalidSeq(ctx context.Context, err error) {
	select {
	case g.invalidSeqCh <- err:
	case <-ctx.Done():
	}
}

// applyChange applies one database change to state, driving the id-btree
// diff and the per-index vtree.AddRemove calls: if the document was
// deleted, emit removals for all of its prior entries; otherwise diff old
// vs new emissions and call AddRemove once per touched index.
func (g *Group) applyChange(state State, change docdb.Change) (State, error) {
	if change.Deleted {
		old, err := g.idb.Get(change.DocID)
		if err != nil {
			return state, err
		}
		removesByIndex := groupByIndex(old)
		for idx, removes := range removesByIndex {
			if err := g.applyAddRemove(&state, int(idx), nil, removes, change.DocID); err != nil {
				return state, err
			}
		}
		if err := g.idb.Delete(change.DocID); err != nil {
			return state, err
		}
		state.CurrentSeq = change.Seq
		return state, nil
	}

	newEntries := make([]idbtree.Entry, len(change.Emissions))
	for i, em := range change.Emissions {
		newEntries[i] = idbtree.Entry{IndexID: em.IndexID, MBR: em.MBR}
	}
	adds, removes, err := g.idb.Diff(change.DocID, newEntries)
	if err != nil {
		return state, err
	}

	addsByIndex := groupByIndex(adds)
	removesByIndex := groupByIndex(removes)

	touched := map[uint32]struct{}{}
	for idx := range addsByIndex {
		touched[idx] = struct{}{}
	}
	for idx := range removesByIndex {
		touched[idx] = struct{}{}
	}
	for idx := range touched {
		if err := g.applyAddRemove(&state, int(idx), addsByIndex[idx], removesByIndex[idx], change.DocID); err != nil {
			return state, err
		}
	}

	if err := g.idb.Put(change.DocID, newEntries); err != nil {
		return state, err
	}
	state.CurrentSeq = change.Seq
	return state, nil
}

func (g *Group) applyAddRemove(state *State, idx int, adds, removes []idbtree.Entry, docID []byte) error {
	if idx < 0 || idx >= len(state.Roots) {
		// A malformed change stream can reference the same bad index id
		// on every document; rate-limit this warning so it degrades
		// gracefully instead of flooding the log.
		g.outOfRangeWarn.Do(func() {
			g.log.Warn("change referenced out-of-range index id, skipping", zap.Int("index_id", idx))
		})
		return nil
	}
	addEntries := make([]vtree.LeafEntry, len(adds))
	for i, a := range adds {
		addEntries[i] = vtree.LeafEntry{MBR: a.MBR, DocID: docID}
	}
	removeEntries := make([]vtree.LeafEntry, len(removes))
	for i, r := range removes {
		removeEntries[i] = vtree.LeafEntry{MBR: r.MBR, DocID: docID}
	}
	newRoot, err := g.tree.AddRemove(state.Roots[idx], addEntries, removeEntries)
	if err != nil {
		return err
	}
	state.Roots[idx] = newRoot
	return nil
}

func groupByIndex(entries []idbtree.Entry) map[uint32][]idbtree.Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[uint32][]idbtree.Entry)
	for _, e := range entries {
		out[e.IndexID] = append(out[e.IndexID], e)
	}
	return out
}
