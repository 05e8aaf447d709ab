// Package archive holds the file-system helpers shared by every update
// path: unique temp artifact naming, snapshot copies, atomic replacement of
// a dataset archive, and best-effort cleanup of temp artifacts.
package archive
