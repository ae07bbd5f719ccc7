// Package ingest defines the domain types and collaborator contracts shared by
// the ingestion pipeline, its content writers, and its discovery sources.
// Implementations live in other packages; this package must not import
// database drivers or network clients.
package ingest
