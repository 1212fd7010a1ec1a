// Command vtreedemo wires together internal/docdb, internal/spatialgroup
// and internal/vtree end to end: it seeds an in-memory document database
// with a handful of documents, drives the spatial group coordinator to
// build an index from them, and runs a bounding-box query against the
// resulting snapshot. It is a local, in-process demonstration only — there
// is no CLI, environment variable surface, or wire protocol here; nothing
// in this package is meant to be a served API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vtreedb/vtree/internal/docdb"
	"github.com/vtreedb/vtree/internal/mbr"
	"github.com/vtreedb/vtree/internal/spatialgroup"
	"github.com/vtreedb/vtree/pkg/logger"
	"github.com/vtreedb/vtree/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vtreedemo:", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := logger.New(logger.Config{Level: "info", Format: "console", OutputFile: "stdout", Service: "vtreedemo"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	tel, shutdownTelemetry, err := telemetry.New(telemetry.Config{
		Enabled:          true,
		ServiceName:      "vtreedemo",
		PrometheusPort:   9464,
		TraceSampleRatio: 1.0,
	})
	if err != nil {
		return fmt.Errorf("build telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db := docdb.NewMemDB("cities")
	seedCities(db)

	def := spatialgroup.NewDefinition([]spatialgroup.IndexSpec{
		{Name: "by_bbox", FunctionBody: "function(doc) { emit(doc.bbox, doc.name); }"},
	}, "javascript", nil)

	rootDir, err := os.MkdirTemp("", "vtreedemo-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(rootDir)

	openDB := func(ctx context.Context, name string) (docdb.DB, error) {
		return db.Handle(), nil
	}

	mgr := spatialgroup.NewManager(rootDir, spatialgroup.DefaultConfig(), log, openDB, tel.Meter)
	defer mgr.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	group, err := mgr.Group(ctx, db.Name(), "design/cities", def)
	if err != nil {
		return fmt.Errorf("open group: %w", err)
	}

	current, err := db.CurrentSeq(ctx)
	if err != nil {
		return fmt.Errorf("read current seq: %w", err)
	}
	db.Commit(current)

	snap, err := group.RequestGroup(ctx, current)
	if err != nil {
		return fmt.Errorf("request group: %w", err)
	}
	defer snap.Release()

	query := mbr.Box{W: -10, S: 35, E: 25, N: 60}
	hits, err := snap.Lookup("by_bbox", query)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	log.Info("spatial query complete", zap.Int("hits", len(hits)))
	for _, h := range hits {
		fmt.Printf("%s\t%v\n", h.DocID, h.MBR)
	}
	return nil
}

func seedCities(db *docdb.MemDB) {
	type city struct {
		id  string
		box mbr.Box
	}
	cities := []city{
		{"london", mbr.Box{W: -0.51, S: 51.28, E: 0.33, N: 51.69}},
		{"paris", mbr.Box{W: 2.22, S: 48.81, E: 2.47, N: 48.90}},
		{"berlin", mbr.Box{W: 13.09, S: 52.34, E: 13.76, N: 52.68}},
		{"tokyo", mbr.Box{W: 139.56, S: 35.52, E: 139.92, N: 35.82}},
		{"lagos", mbr.Box{W: 3.05, S: 6.39, E: 3.63, N: 6.70}},
	}
	for _, c := range cities {
		db.Put([]byte(c.id), []docdb.Emission{{IndexID: 0, MBR: c.box}})
	}
}
