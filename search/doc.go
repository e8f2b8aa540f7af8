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


// Package search provides full-text search over archived questions.
//
// The Index type maintains an in-memory inverted index from tokens to
// question ids. A question's document is its title, body and tags plus the
// bodies of all of its answers, so answers make their question findable but
// are never returned on their own.
//
// Ranking uses TF-IDF: every query token present in a question contributes
// tf * ln(N / (1 + df)), where N is the number of indexed questions. Ties
// are broken by the platform vote score, then by the number of distinct
// query tokens matched, then by ascending id.
//
// The index is kept current incrementally through Add and Remove and can be
// rebuilt from a storage.RecordSource at any time. A rebuild fills a fresh
// table off-lock and swaps it in atomically, so queries never observe a
// partially built index.
package search
