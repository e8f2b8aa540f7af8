// Package reindex rebuilds a search index from the record store with
// progress reporting, for operators recovering or refreshing an archive.
//
// A Reindexer counts the stored records, streams them through the index's
// rebuild and reports progress as records are tokenized. Transient storage
// failures restart the rebuild under a bounded retry policy.
package reindex
