// Package spatialgroup implements the per-index-file state machine: the
// group coordinator that serializes reader requests against a background
// updater, and the updater itself that drives internal/vtree and
// internal/idbtree from an internal/docdb change stream. It follows a
// write-engine actor style — a background-goroutine-plus-channel
// handoff — generalized from a single mutex-guarded struct to a
// single-goroutine mailbox actor, so that one isolated task owns all
// mutable state for a given index.
package spatialgroup

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/vtreedb/vtree/internal/vtree"
)

// IndexSpec is one named spatial index declared by a design document. A
// design document yields a set of named spatial indices grouped by
// source function body.
type IndexSpec struct {
	Name         string
	FunctionBody string
}

// Definition is a spatial group's index definition: the set of declared
// indices plus the language and design options that feed the signature.
// Indices sharing an identical FunctionBody share storage — they are
// assigned the same id_num.
type Definition struct {
	Indices       []IndexSpec
	Language      string
	DesignOptions map[string]string

	bodies   []string       // deduplicated bodies, in id_num order
	idByName map[string]int // index name -> id_num
}

// NewDefinition builds a Definition, assigning each index an id_num by a
// stable sort over the deduplicated function bodies.
func NewDefinition(indices []IndexSpec, language string, designOptions map[string]string) *Definition {
	sorted := append([]IndexSpec{}, indices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FunctionBody < sorted[j].FunctionBody })

	var bodies []string
	idOf := map[string]int{}
	for _, idx := range sorted {
		if _, ok := idOf[idx.FunctionBody]; !ok {
			idOf[idx.FunctionBody] = len(bodies)
			bodies = append(bodies, idx.FunctionBody)
		}
	}

	idByName := make(map[string]int, len(indices))
	for _, idx := range indices {
		idByName[idx.Name] = idOf[idx.FunctionBody]
	}

	return &Definition{
		Indices:       indices,
		Language:      language,
		DesignOptions: designOptions,
		bodies:        bodies,
		idByName:      idByName,
	}
}

// NumRoots is the number of distinct tree roots this definition requires
// — one per deduplicated function body, not one per named index.
func (d *Definition) NumRoots() int { return len(d.bodies) }

// IndexID returns the id_num for a named index.
func (d *Definition) IndexID(name string) (int, bool) {
	id, ok := d.idByName[name]
	return id, ok
}

// Signature hashes (indices, language, design_options) into the 16-byte
// key that both validates an on-disk header and names the index file.
func (d *Definition) Signature() [16]byte {
	var buf bytes.Buffer
	buf.WriteString(d.Language)
	buf.WriteByte(0)

	keys := make([]string, 0, len(d.DesignOptions))
	for k := range d.DesignOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(d.DesignOptions[k])
		buf.WriteByte(0)
	}

	for _, idx := range d.Indices {
		buf.WriteString(idx.Name)
		buf.WriteByte(0)
		buf.WriteString(idx.FunctionBody)
		buf.WriteByte(0)
	}
	return vtree.Signature(buf.Bytes())
}

// FileName is the base name of this definition's index file,
// <hex(signature)>.spatial; Open places it at
// <root_dir>/<design_doc_id>/<FileName()>.
func (d *Definition) FileName() string {
	sig := d.Signature()
	return hex.EncodeToString(sig[:]) + ".spatial"
}
