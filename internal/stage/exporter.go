package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultOGR2OGR is the exporter binary looked up on PATH.
const DefaultOGR2OGR = "ogr2ogr"

// Exporter turns a SQL query into a GeoJSON file with ogr2ogr.
type Exporter struct {
	runner Runner
	binary string
	source string
}

// NewExporter creates an Exporter reading from source, an OGR datasource
// string such as "PG:host=db dbname=gis".
func NewExporter(r Runner, binary, source string) *Exporter {
	if binary == "" {
		binary = DefaultOGR2OGR
	}
	return &Exporter{runner: r, binary: binary, source: source}
}

// Args returns the ogr2ogr argument vector for an export.
func (e *Exporter) Args(outputPath, query string) []string {
	return []string{
		"-f", "GeoJSON",
		outputPath,
		e.source,
		"-sql", strings.TrimSpace(query),
	}
}

// Export writes the features matched by query to outputPath.
//
// A stale file at outputPath is removed first; the GeoJSON driver refuses
// to overwrite. Fails with CodeEmptyResult when the query matched nothing,
// CodeExport on process failure and CodeInvalidArgument on empty input.
func (e *Exporter) Export(ctx context.Context, outputPath, query string) error {
	if outputPath == "" {
		return invalidArgument("export requires an output path")
	}
	if strings.TrimSpace(query) == "" {
		return invalidArgument("export requires a SQL query")
	}

	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Code: CodeExport, Message: "remove stale geometry file", Path: outputPath, ExitCode: -1, Err: err}
	}

	out, err := e.runner.Run(ctx, e.binary, e.Args(outputPath, query)...)
	if err != nil {
		return &Error{
			Code:     CodeExport,
			Message:  fmt.Sprintf("%s failed", e.binary),
			Path:     outputPath,
			ExitCode: ExitCode(err),
			Stderr:   out.Stderr,
			Err:      err,
		}
	}
	if out.Stderr != "" {
		slog.Warn("exporter reported diagnostics", "path", outputPath, "stderr", out.Stderr)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return &Error{Code: CodeExport, Message: "no geometry file produced", Path: outputPath, ExitCode: 0, Err: err}
	}

	if info.Size() < emptyProbeSize {
		n, err := featureCount(outputPath)
		if err != nil {
			return &Error{Code: CodeExport, Message: "unreadable geometry file", Path: outputPath, ExitCode: 0, Err: err}
		}
		if n == 0 {
			return &Error{Code: CodeEmptyResult, Message: "no matching feature, check the SQL query", Path: outputPath, ExitCode: 0}
		}
	}

	slog.Debug("geometry exported", "path", outputPath, "size", humanize.Bytes(uint64(info.Size())))
	return nil
}
