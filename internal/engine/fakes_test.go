package engine

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/stage"
	"github.com/roach88/tilesync/internal/store"
)

// feature is one entry of the fake archive format: a JSON document listing
// the features per layer.
type feature struct {
	Layer string `json:"layer"`
	ID    int64  `json:"id"`
}

type fakeArchive struct {
	Features []feature `json:"features"`
}

func readArchive(path string) (fakeArchive, error) {
	var a fakeArchive
	data, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	err = json.Unmarshal(data, &a)
	return a, err
}

func writeArchive(path string, a fakeArchive) error {
	sort.Slice(a.Features, func(i, j int) bool {
		if a.Features[i].Layer != a.Features[j].Layer {
			return a.Features[i].Layer < a.Features[j].Layer
		}
		return a.Features[i].ID < a.Features[j].ID
	})
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ids returns the feature ids of layer in ascending order.
func (a fakeArchive) ids(layer string) []int64 {
	out := []int64{}
	for _, f := range a.Features {
		if f.Layer == layer {
			out = append(out, f.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fakeSource is an in-memory table queried through the dataset's base and
// scoped queries.
type fakeSource struct {
	mu   sync.Mutex
	ds   *dataset.Dataset
	rows map[int64]bool
	fail error

	queries []string
}

func newFakeSource(ds *dataset.Dataset, ids ...int64) *fakeSource {
	s := &fakeSource{ds: ds, rows: map[int64]bool{}}
	for _, id := range ids {
		s.rows[id] = true
	}
	return s
}

func (s *fakeSource) insert(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id] = true
}

func (s *fakeSource) delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
}

func (s *fakeSource) Export(_ context.Context, outputPath, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)

	if s.fail != nil {
		return s.fail
	}

	var matched []int64
	if query == s.ds.SQL {
		for id := range s.rows {
			matched = append(matched, id)
		}
	} else {
		for id := range s.rows {
			if query == s.ds.ScopedQuery(id) {
				matched = append(matched, id)
			}
		}
	}
	if len(matched) == 0 {
		return &stage.Error{Code: stage.CodeEmptyResult, Message: "query matched no features", Path: outputPath}
	}

	data, err := json.Marshal(matched)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

// fakeBuilder implements TileBuilder over the fake archive format.
type fakeBuilder struct {
	mu       sync.Mutex
	params   [][]string
	merges   int
	failOn   string
	tempSeen []string
}

func (b *fakeBuilder) failure(op string) error {
	if b.failOn == op {
		return &stage.Error{Code: stage.CodeBuild, Message: op + " failed", ExitCode: 1}
	}
	return nil
}

func layerParam(params []string) string {
	for i, p := range params {
		if p == "-l" && i+1 < len(params) {
			return params[i+1]
		}
	}
	return ""
}

func (b *fakeBuilder) Generate(_ context.Context, inputPath, outputPath string, params []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.params = append(b.params, params)
	b.tempSeen = append(b.tempSeen, inputPath, outputPath)
	if err := b.failure("generate"); err != nil {
		return err
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	var a fakeArchive
	for _, id := range ids {
		a.Features = append(a.Features, feature{Layer: layerParam(params), ID: id})
	}
	return writeArchive(outputPath, a)
}

func (b *fakeBuilder) Filter(_ context.Context, inputPath, outputPath, predicate string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tempSeen = append(b.tempSeen, outputPath)
	if err := b.failure("filter"); err != nil {
		return err
	}

	var pred map[string][]any
	if err := json.Unmarshal([]byte(predicate), &pred); err != nil {
		return err
	}
	clause := pred["*"]
	if len(clause) != 3 {
		return errors.New("unexpected predicate")
	}
	drop := int64(clause[2].(float64))

	a, err := readArchive(inputPath)
	if err != nil {
		return err
	}
	var kept fakeArchive
	for _, f := range a.Features {
		if f.ID != drop {
			kept.Features = append(kept.Features, f)
		}
	}
	return writeArchive(outputPath, kept)
}

func (b *fakeBuilder) Merge(_ context.Context, inputPaths []string, outputPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.merges++
	b.tempSeen = append(b.tempSeen, inputPaths...)
	b.tempSeen = append(b.tempSeen, outputPath)
	if err := b.failure("merge"); err != nil {
		return err
	}

	seen := map[feature]bool{}
	var out fakeArchive
	for _, in := range inputPaths {
		a, err := readArchive(in)
		if err != nil {
			return err
		}
		for _, f := range a.Features {
			if !seen[f] {
				seen[f] = true
				out.Features = append(out.Features, f)
			}
		}
	}
	return writeArchive(outputPath, out)
}

type notifyCall struct {
	image, signal string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, image, signal string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{image, signal})
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []store.UpdateRecord
}

func (r *fakeRecorder) RecordUpdate(_ context.Context, rec store.UpdateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}
