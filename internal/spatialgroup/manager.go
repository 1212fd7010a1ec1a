package spatialgroup

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Manager is the registry side of a group's lifecycle: a group is
// created on first request for a design document, and destroyed when the
// database is closed (monitor down) or when the updater crashes fatally.
// Manager holds no spatial-tree state itself — it only owns the map from
// (design doc, signature) to a live *Group, and re-creates a fresh Group
// the next time one is requested after the old one terminated.
type Manager struct {
	rootDir string
	cfg     Config
	log     *zap.Logger
	openDB  OpenDB
	meter   metric.Meter

	mu     sync.Mutex
	groups map[string]*Group
}

// NewManager creates a Manager rooted at rootDir, the directory under
// which each design document gets its own subdirectory of *.spatial
// files.
func NewManager(rootDir string, cfg Config, log *zap.Logger, openDB OpenDB, meter metric.Meter) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		rootDir: rootDir,
		cfg:     cfg,
		log:     log,
		openDB:  openDB,
		meter:   meter,
		groups:  make(map[string]*Group),
	}
}

func groupKey(designDocID string, sig [16]byte) string {
	return designDocID + "/" + hex.EncodeToString(sig[:])
}

// Group returns the live Group for (dbName, designDocID, def), opening
// (or re-opening, if the previous instance terminated) one as needed.
func (m *Manager) Group(ctx context.Context, dbName, designDocID string, def *Definition) (*Group, error) {
	sig := def.Signature()
	key := groupKey(designDocID, sig)

	m.mu.Lock()
	if g, ok := m.groups[key]; ok {
		m.mu.Unlock()
		select {
		case <-g.Done():
			// Terminated since last lookup (crash or shutdown); fall
			// through to re-create it.
		default:
			return g, nil
		}
		m.mu.Lock()
		if cur, ok := m.groups[key]; ok && cur == g {
			delete(m.groups, key)
		}
	}
	m.mu.Unlock()

	idbtreeDir := filepath.Join(m.rootDir, designDocID, hex.EncodeToString(sig[:])+".idbtree")
	g, err := Open(dbName, designDocID, def, m.rootDir, idbtreeDir, m.cfg, m.log, m.openDB, m.meter)
	if err != nil {
		return nil, fmt.Errorf("spatialgroup: open group for %s: %w", designDocID, err)
	}

	m.mu.Lock()
	m.groups[key] = g
	m.mu.Unlock()

	go m.watch(ctx, key, g, dbName)
	return g, nil
}

// watch links the group's lifetime to the database's own: if the database
// reports itself closed, the group receives db_monitor_down; either way,
// once the group terminates it is dropped from the registry so the next
// request re-creates it.
func (m *Manager) watch(ctx context.Context, key string, g *Group, dbName string) {
	db, err := m.openDB(ctx, dbName)
	if err != nil {
		m.log.Warn("spatialgroup: could not open db monitor handle", zap.String("db", dbName), zap.Error(err))
	} else {
		defer db.Close()
		select {
		case <-db.Closed():
			g.signalDBDown()
		case <-g.Done():
		}
	}

	<-g.Done()
	m.mu.Lock()
	if cur, ok := m.groups[key]; ok && cur == g {
		delete(m.groups, key)
	}
	m.mu.Unlock()
}

// CloseAll requests an orderly shutdown of every live group, for use at
// process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	groups := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.Unlock()
	for _, g := range groups {
		g.Close()
	}
}
