package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tilesync/internal/archive"
	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/stage"
	"github.com/roach88/tilesync/internal/store"
)

// Exporter writes the features matched by a query to a geometry file.
type Exporter interface {
	Export(ctx context.Context, outputPath, query string) error
}

// TileBuilder builds, filters and merges tile archives.
type TileBuilder interface {
	Generate(ctx context.Context, inputPath, outputPath string, params []string) error
	Filter(ctx context.Context, inputPath, outputPath, predicate string) error
	Merge(ctx context.Context, inputPaths []string, outputPath string) error
}

// Notifier delivers the reload signal to a downstream tile server.
type Notifier interface {
	Notify(ctx context.Context, image, signal string) error
}

// Recorder receives the outcome of every invocation.
type Recorder interface {
	RecordUpdate(ctx context.Context, rec store.UpdateRecord) error
}

// ReloadTarget names the container image and signal used after a commit.
type ReloadTarget struct {
	Image   string
	Signal  string
	Timeout time.Duration
}

// Engine applies update events to dataset archives.
type Engine struct {
	exporter  Exporter
	builder   TileBuilder
	namer     *archive.Namer
	notifier  Notifier
	reload    ReloadTarget
	recorders []Recorder
	runIDs    RunIDGenerator
	now       func() time.Time
}

// Option allows configuration of engine collaborators.
type Option func(*Engine)

// WithNotifier sends target's signal through n after every commit.
func WithNotifier(n Notifier, target ReloadTarget) Option {
	return func(e *Engine) {
		e.notifier = n
		e.reload = target
	}
}

// WithRecorders registers outcome recorders (journal, metrics).
func WithRecorders(rs ...Recorder) Option {
	return func(e *Engine) {
		e.recorders = append(e.recorders, rs...)
	}
}

// WithRunIDGenerator overrides the default UUIDv7 run ids.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithClock overrides the time source used for journal timestamps and
// durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine. Temp artifacts are named by namer.
func New(exporter Exporter, builder TileBuilder, namer *archive.Namer, opts ...Option) *Engine {
	e := &Engine{
		exporter: exporter,
		builder:  builder,
		namer:    namer,
		runIDs:   UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply realizes ev against ds's output archive.
//
// On failure the archive is left at its last committed state and the error
// is returned wrapped with the dataset and event; the caller decides how to
// report it. On success the reload signal is sent. Either way the outcome
// is handed to the recorders.
func (e *Engine) Apply(ctx context.Context, ds *dataset.Dataset, ev dataset.Event) error {
	runID := e.runIDs.Generate()
	start := e.now()

	slog.Info("update started",
		"dataset", ds.Name,
		"action", ev.Action().String(),
		"ref", ev.RefToken(),
		"run_id", runID,
	)

	var err error
	switch ev.Action() {
	case dataset.ActionBulk:
		err = e.bulk(ctx, ds)
	case dataset.ActionAdd:
		ref, _ := ev.Ref()
		err = e.add(ctx, ds, ref)
	case dataset.ActionRemove:
		ref, _ := ev.Ref()
		err = e.remove(ctx, ds, ref)
	default:
		err = fmt.Errorf("unknown action %s", ev.Action())
	}

	elapsed := e.now().Sub(start)
	e.record(ctx, runID, ds, ev, start, elapsed, err)

	if err != nil {
		return fmt.Errorf("dataset %s: %s: %w", ds.Name, ev, err)
	}

	slog.Info("update committed",
		"dataset", ds.Name,
		"action", ev.Action().String(),
		"ref", ev.RefToken(),
		"run_id", runID,
		"duration", elapsed.Round(time.Millisecond),
	)
	e.notify(ctx, ds)
	return nil
}

// buildParams returns the dataset build parameters with the layer pinned
// to the dataset name and feature ids taken from the reference column.
func buildParams(ds *dataset.Dataset) []string {
	col := ds.ReferenceColumn
	if col == "" {
		col = dataset.DefaultReferenceColumn
	}
	return stage.WithFeatureID(stage.WithLayer(ds.Params(), ds.Name), col)
}

func (e *Engine) notify(ctx context.Context, ds *dataset.Dataset) {
	if e.notifier == nil {
		return
	}
	if e.reload.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.reload.Timeout)
		defer cancel()
	}
	if err := e.notifier.Notify(ctx, e.reload.Image, e.reload.Signal); err != nil {
		slog.Warn("reload signal failed", "dataset", ds.Name, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, runID string, ds *dataset.Dataset, ev dataset.Event, start time.Time, elapsed time.Duration, err error) {
	if len(e.recorders) == 0 {
		return
	}

	rec := store.UpdateRecord{
		RunID:     runID,
		Dataset:   ds.Name,
		Action:    ev.Action().String(),
		Status:    store.StatusOK,
		StartedAt: start,
		Duration:  elapsed,
	}
	if ref, ok := ev.Ref(); ok {
		rec.Ref = &ref
	}
	if err != nil {
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
	}

	for _, r := range e.recorders {
		if rerr := r.RecordUpdate(ctx, rec); rerr != nil {
			slog.Warn("update outcome not recorded", "dataset", ds.Name, "run_id", runID, "error", rerr)
		}
	}
}
