package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// Default tool binaries looked up on PATH.
const (
	DefaultTippecanoe = "tippecanoe"
	DefaultTileJoin   = "tile-join"
)

// Tippecanoe builds, merges and filters .mbtiles archives.
//
// Generate runs tippecanoe; Merge and Filter run tile-join. All three
// overwrite their output path.
type Tippecanoe struct {
	runner    Runner
	generator string
	joiner    string
}

// NewTippecanoe creates a tile builder. Empty binary names fall back to the
// defaults.
func NewTippecanoe(r Runner, generator, joiner string) *Tippecanoe {
	if generator == "" {
		generator = DefaultTippecanoe
	}
	if joiner == "" {
		joiner = DefaultTileJoin
	}
	return &Tippecanoe{runner: r, generator: generator, joiner: joiner}
}

// GenerateArgs returns the tippecanoe argument vector for Generate.
func (t *Tippecanoe) GenerateArgs(inputPath, outputPath string, params []string) []string {
	args := []string{"--force", "--quiet", "-o", outputPath, inputPath}
	return append(args, params...)
}

// FilterArgs returns the tile-join argument vector for Filter.
func (t *Tippecanoe) FilterArgs(inputPath, outputPath, predicate string) []string {
	return []string{"--force", "--quiet", "--no-tile-size-limit", "-o", outputPath, "-j", predicate, inputPath}
}

// MergeArgs returns the tile-join argument vector for Merge.
func (t *Tippecanoe) MergeArgs(inputPaths []string, outputPath string) []string {
	args := []string{"--force", "--quiet", "--no-tile-size-limit", "-o", outputPath}
	return append(args, inputPaths...)
}

// Generate builds an archive at outputPath from the GeoJSON at inputPath.
// Fails with CodeBuild.
func (t *Tippecanoe) Generate(ctx context.Context, inputPath, outputPath string, params []string) error {
	if inputPath == "" || outputPath == "" {
		return invalidArgument("generate requires an input and an output path")
	}
	return t.run(ctx, CodeBuild, t.generator, outputPath, t.GenerateArgs(inputPath, outputPath, params))
}

// Filter copies the archive at inputPath to outputPath, keeping only the
// features matched by predicate (a tile-join feature filter). Fails with
// CodeFilter.
func (t *Tippecanoe) Filter(ctx context.Context, inputPath, outputPath, predicate string) error {
	if inputPath == "" || outputPath == "" {
		return invalidArgument("filter requires an input and an output path")
	}
	if predicate == "" {
		return invalidArgument("filter requires a predicate")
	}
	return t.run(ctx, CodeFilter, t.joiner, outputPath, t.FilterArgs(inputPath, outputPath, predicate))
}

// Merge joins the archives at inputPaths into outputPath. Fails with
// CodeMerge.
func (t *Tippecanoe) Merge(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 || outputPath == "" {
		return invalidArgument("merge requires input archives and an output path")
	}
	for _, p := range inputPaths {
		if p == "" {
			return invalidArgument("merge input path is empty")
		}
	}
	return t.run(ctx, CodeMerge, t.joiner, outputPath, t.MergeArgs(inputPaths, outputPath))
}

func (t *Tippecanoe) run(ctx context.Context, code Code, binary, outputPath string, args []string) error {
	out, err := t.runner.Run(ctx, binary, args...)
	if err != nil {
		return &Error{
			Code:     code,
			Message:  fmt.Sprintf("%s failed", binary),
			Path:     outputPath,
			ExitCode: ExitCode(err),
			Stderr:   out.Stderr,
			Err:      err,
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return &Error{Code: code, Message: "no archive produced", Path: outputPath, ExitCode: 0, Stderr: out.Stderr, Err: err}
	}
	if out.Stderr != "" {
		slog.Debug("tile builder diagnostics", "binary", binary, "stderr", out.Stderr)
	}
	slog.Debug("archive written", "binary", binary, "path", outputPath, "size", humanize.Bytes(uint64(info.Size())))
	return nil
}
