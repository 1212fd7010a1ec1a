package spatialgroup

import (
	"time"

	"github.com/vtreedb/vtree/internal/vtree"
)

// Config holds the tunables for a Group and its updater: the vtree fill
// factors, the delayed-commit cadence (roughly a one-second timer), and
// the checkpoint cadence at which the updater reports a partial update
// (every N documents or T seconds, whichever comes first).
type Config struct {
	VTree vtree.Config

	// CommitDelay is how long delayed_commit waits before re-checking the
	// database's committed sequence when it was not yet caught up.
	CommitDelay time.Duration

	// CheckpointDocs is the number of documents the updater processes
	// between partial_update reports.
	CheckpointDocs int

	// CheckpointInterval is the maximum time the updater runs between
	// partial_update reports, regardless of document count.
	CheckpointInterval time.Duration
}

// DefaultConfig returns 80/40 fill factors, a 1 second commit delay, and
// a checkpoint every 500 documents or 5 seconds.
func DefaultConfig() Config {
	return Config{
		VTree:              vtree.DefaultConfig(),
		CommitDelay:        time.Second,
		CheckpointDocs:     500,
		CheckpointInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.CommitDelay <= 0 {
		c.CommitDelay = time.Second
	}
	if c.CheckpointDocs <= 0 {
		c.CheckpointDocs = 500
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5 * time.Second
	}
	return c
}
