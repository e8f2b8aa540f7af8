// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the storage abstraction layer for qarchive.
//
// This package defines the Store interface that decouples the durable record
// store from ingestion and search, together with the value envelope used to
// persist records and the error taxonomy shared by every backend.
//
// # Architecture
//
//   - Store: keyed Question/Answer storage with flush/load lifecycle
//   - RecordSource: the read-only iteration slice used by index rebuilds
//   - Envelope: self-describing, checksummed value format
//   - RetryIO: bounded retry for transient I/O failures
//
// # Usage
//
// Open a store backed by BadgerDB:
//
//	store, err := badger.Open("/path/to/archive")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//
// # Errors
//
// ErrNotFound is recoverable and expected. ErrCorruptStore means the store
// refuses to serve any further reads: callers must not fall back to partial
// data. ErrIO is retried a bounded number of times before it is surfaced.
//
// # Thread Safety
//
// All Store implementations must be thread-safe: reads run concurrently,
// writes are serialized.
package storage
