// Package ingestion provides the entry point through which scraped
// questions and answers enter the archive.
//
// The Pipeline type validates each record, upserts it into storage and then
// hands it to the search index, so a record is only ever searchable once it
// is stored. Batches are processed concurrently on a worker pool; storage
// serializes the writes while normalization, hashing and tokenization run in
// parallel.
package ingestion
