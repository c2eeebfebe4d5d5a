// Package sqlite stores authority sessions in SQLite.
//
// Each session is one JSON document guarded by an integer version column.
// Updates are compare-and-swap on that column, so concurrent submissions
// for the same session serialise without holding a lock across the
// action engine.
package sqlite
