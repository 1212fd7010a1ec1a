package vtree

import "errors"

// Error kinds returned by this package.
var (
	// ErrNotFound means a delete's (doc_id, mbr) target was absent.
	ErrNotFound = errors.New("vtree: entry not found for deletion")

	// ErrSignatureMismatch means the on-disk header does not match the
	// current index definition; recovered by truncating the file.
	ErrSignatureMismatch = errors.New("vtree: header signature mismatch")

	// ErrCorruptNode means a node record failed to decode.
	ErrCorruptNode = errors.New("vtree: corrupt node record")
)
