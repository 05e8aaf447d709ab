package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/roach88/tilesync/internal/archive"
	"github.com/roach88/tilesync/internal/dataset"
	"github.com/roach88/tilesync/internal/stage"
)

const geometryExt = "geojson"

// bulk rebuilds the whole archive from the base query.
func (e *Engine) bulk(ctx context.Context, ds *dataset.Dataset) error {
	geometry := e.namer.Path(ds.Name, "bulk", geometryExt)
	staged := e.namer.Path(ds.Name, "bulk", dataset.ArchiveExt)
	defer cleanup(geometry, staged)

	if err := e.exporter.Export(ctx, geometry, ds.SQL); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := e.builder.Generate(ctx, geometry, staged, buildParams(ds)); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	return archive.Replace(staged, ds.OutputPath)
}

// add merges the single entity ref into the archive.
func (e *Engine) add(ctx context.Context, ds *dataset.Dataset, ref int64) error {
	token := strconv.FormatInt(ref, 10)
	geometry := e.namer.Path(ds.Name, token, geometryExt)
	single := e.namer.Path(ds.Name, token, dataset.ArchiveExt)
	snapshot := e.namer.Path(ds.Name, token, dataset.ArchiveExt)
	merged := e.namer.Path(ds.Name, token, dataset.ArchiveExt)
	defer cleanup(geometry, single, snapshot, merged)

	if err := e.exporter.Export(ctx, geometry, ds.ScopedQuery(ref)); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := e.builder.Generate(ctx, geometry, single, buildParams(ds)); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	exists, err := archive.Exists(ds.OutputPath)
	if err != nil {
		return err
	}
	if !exists {
		slog.Info("no archive yet, committing single entity archive", "dataset", ds.Name, "ref", ref)
		return archive.Replace(single, ds.OutputPath)
	}

	if err := archive.Copy(ds.OutputPath, snapshot); err != nil {
		return err
	}
	if err := e.builder.Merge(ctx, []string{single, snapshot}, merged); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return archive.Replace(merged, ds.OutputPath)
}

// remove filters the entity ref out of the archive.
func (e *Engine) remove(ctx context.Context, ds *dataset.Dataset, ref int64) error {
	filtered := e.namer.Path(ds.Name, strconv.FormatInt(ref, 10), dataset.ArchiveExt)
	defer cleanup(filtered)

	exists, err := archive.Exists(ds.OutputPath)
	if err != nil {
		return err
	}
	if !exists {
		return &archive.IOError{Op: "stat", Path: ds.OutputPath, Err: os.ErrNotExist}
	}

	if err := e.builder.Filter(ctx, ds.OutputPath, filtered, stage.ExcludeFeature(ref)); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	return archive.Replace(filtered, ds.OutputPath)
}

func cleanup(paths ...string) {
	_ = archive.Cleanup(paths...)
}
