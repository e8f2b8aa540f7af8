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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidRecord indicates a record failed validation at the boundary.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptyID indicates a record carries the zero ID.
	ErrEmptyID = errors.New("id cannot be empty")

	// ErrEmptyQuestionID indicates an answer without a parent question.
	ErrEmptyQuestionID = errors.New("answer question id cannot be empty")

	// ErrDuplicateAnswerID indicates a question lists the same answer twice.
	ErrDuplicateAnswerID = errors.New("duplicate answer id")

	// ErrInvalidKind indicates an unknown record kind.
	ErrInvalidKind = errors.New("invalid record kind")

	// ErrUnsupportedRecord indicates a Record implementation the core does not know.
	ErrUnsupportedRecord = errors.New("unsupported record type")

	// ErrTrailingBytes is returned when a record decodes without consuming its input.
	ErrTrailingBytes = errors.New("trailing bytes after record")
)
