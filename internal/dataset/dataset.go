package dataset

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ArchiveExt is the file extension of dataset output archives.
const ArchiveExt = "mbtiles"

// DefaultReferenceColumn scopes single-entity queries when none is configured.
const DefaultReferenceColumn = "id"

// Dataset is a named tile archive kept in sync with a source query.
//
// A Dataset is declared once at startup and never mutated afterwards; the
// queue and the engine share the same pointer.
type Dataset struct {
	// Name identifies the dataset and names its archive and temp files.
	Name string

	// Channel is the notification channel that triggers updates.
	Channel string

	// SQL is the base query exported for a bulk rebuild.
	SQL string

	// ReferenceColumn holds the entity reference used to scope point adds.
	ReferenceColumn string

	// BuildParams are extra tile builder arguments.
	BuildParams []string

	// DebounceWait is the idle time enforced between two updates.
	DebounceWait time.Duration

	// Coalesce keeps only the most recent pending event.
	Coalesce bool

	// OutputPath is the archive location, see ArchivePath.
	OutputPath string
}

// ArchivePath returns <outputRoot>/<name>.mbtiles.
func ArchivePath(outputRoot, name string) string {
	return filepath.Join(outputRoot, name+"."+ArchiveExt)
}

// ScopedQuery narrows the base query to the single entity ref.
//
// The base query is wrapped as a subquery so that it may carry its own
// WHERE, GROUP BY or ORDER BY clauses.
func (d *Dataset) ScopedQuery(ref int64) string {
	base := strings.TrimRight(strings.TrimSpace(d.SQL), "; \n\t")
	col := d.ReferenceColumn
	if col == "" {
		col = DefaultReferenceColumn
	}
	return "SELECT * FROM (" + base + ") AS scoped WHERE scoped." +
		pq.QuoteIdentifier(col) + " = " + strconv.FormatInt(ref, 10)
}

// Params returns a copy of the build parameters.
func (d *Dataset) Params() []string {
	out := make([]string, len(d.BuildParams))
	copy(out, d.BuildParams)
	return out
}
