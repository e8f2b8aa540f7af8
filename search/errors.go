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


package search

import "errors"

var (
	// ErrIndexClosed is returned by every operation after Close.
	ErrIndexClosed = errors.New("search index closed")

	// ErrSourceRequired is returned when Rebuild is given no record source.
	ErrSourceRequired = errors.New("record source required")

	// ErrInvalidPoolSize is returned when a worker pool size is not positive.
	ErrInvalidPoolSize = errors.New("pool size must be positive")
)
