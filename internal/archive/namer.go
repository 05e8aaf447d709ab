package archive

import (
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
)

// Namer hands out collision-free temp artifact paths of the form
// <dir>/<dataset>_<ref>_<millis>.<ext>.
//
// The millisecond stamp is monotonic: when two calls land in the same
// millisecond (or the wall clock steps backwards) the stamp is bumped past
// the last one issued, so every path returned by a Namer is unique.
//
// Thread-safety: Namer is safe for concurrent use (atomic operations).
type Namer struct {
	dir  string
	now  func() time.Time
	last atomic.Int64
}

// NewNamer creates a Namer rooted at dir.
func NewNamer(dir string) *Namer {
	return &Namer{dir: dir, now: time.Now}
}

// NewNamerWithClock creates a Namer with an explicit time source.
// Used by tests to pin the generated names.
func NewNamerWithClock(dir string, now func() time.Time) *Namer {
	return &Namer{dir: dir, now: now}
}

// Path returns a fresh temp path for the given dataset, reference token and
// extension (without the leading dot).
func (n *Namer) Path(dataset, ref, ext string) string {
	stamp := n.stamp()
	return filepath.Join(n.dir, dataset+"_"+ref+"_"+strconv.FormatInt(stamp, 10)+"."+ext)
}

// Pattern returns a filepath.Match pattern covering every path Path can
// produce for the dataset and reference token.
func (n *Namer) Pattern(dataset, ref string) string {
	return filepath.Join(n.dir, dataset+"_"+ref+"_*")
}

func (n *Namer) stamp() int64 {
	for {
		now := n.now().UnixMilli()
		last := n.last.Load()
		if now <= last {
			now = last + 1
		}
		if n.last.CompareAndSwap(last, now) {
			return now
		}
	}
}
