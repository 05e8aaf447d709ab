// Package stage wraps the external transformation tools used by the update
// engine:
//
//   - Exporter runs ogr2ogr to turn a SQL query into a GeoJSON file.
//   - Tippecanoe runs tippecanoe to build an .mbtiles archive from GeoJSON,
//     and tile-join to merge archives or filter features out of one.
//
// Every call is blocking and single-shot. A call either succeeds, leaving a
// complete output file behind, or fails with a *Error whose Code names the
// stage that failed. Commands are executed through a Runner so tests can
// substitute an in-process fake.
package stage
