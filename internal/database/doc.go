// Package database opens the embedded SQLite stores used by the pipeline and
// applies the content schema migrations.
//
// Every connection is opened in write-ahead-log mode with foreign keys
// enforced and a busy timeout, so concurrent workers read without blocking
// on an in-flight writer and writers queue instead of failing with
// SQLITE_BUSY.
package database
