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

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidateRecord validates a Question or Answer according to domain rules.
func ValidateRecord(record Record) error {
	switch r := record.(type) {
	case *Question:
		return ValidateQuestion(r)
	case *Answer:
		return ValidateAnswer(r)
	case nil:
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	default:
		return fmt.Errorf("%w: %w: %T", ErrInvalidRecord, ErrUnsupportedRecord, record)
	}
}

// ValidateQuestion validates a Question according to domain rules.
//
// Validation rules:
//   - Id must not be zero
//   - AnswerIds must not contain zero or duplicate ids
//
// NOT validated:
//   - Title and Body (the platform allows sparse records)
//   - the back-reference invariant, which needs storage (see storage.Store.Verify)
func ValidateQuestion(q *Question) error {
	if q == nil {
		return fmt.Errorf("%w: question is nil", ErrInvalidRecord)
	}

	if q.Id == 0 {
		return fmt.Errorf("%w: question: %w", ErrInvalidRecord, ErrEmptyID)
	}

	seen := make(map[ID]struct{}, len(q.AnswerIds))
	for _, id := range q.AnswerIds {
		if id == 0 {
			return fmt.Errorf("%w: question %d: answer %w", ErrInvalidRecord, q.Id, ErrEmptyID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: question %d: %w %d", ErrInvalidRecord, q.Id, ErrDuplicateAnswerID, id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

// ValidateAnswer validates an Answer according to domain rules.
//
// Validation rules:
//   - Id must not be zero
//   - QuestionId must not be zero
func ValidateAnswer(a *Answer) error {
	if a == nil {
		return fmt.Errorf("%w: answer is nil", ErrInvalidRecord)
	}

	if a.Id == 0 {
		return fmt.Errorf("%w: answer: %w", ErrInvalidRecord, ErrEmptyID)
	}

	if a.QuestionId == 0 {
		return fmt.Errorf("%w: answer %d: %w", ErrInvalidRecord, a.Id, ErrEmptyQuestionID)
	}

	return nil
}

// Normalize validates record and returns a canonical copy of it.
// Tags are trimmed, de-duplicated and sorted with their case kept, and empty
// slices become nil. Timestamps are stored as UTC at microsecond precision;
// a record loaded back carries CreatedAt in UTC with sub-microsecond digits
// dropped. The argument is never modified.
func Normalize(record Record) (Record, error) {
	if err := ValidateRecord(record); err != nil {
		return nil, err
	}

	switch r := record.(type) {
	case *Question:
		q := *r
		q.Tags = NormalizeTags(r.Tags)
		if len(r.AnswerIds) == 0 {
			q.AnswerIds = nil
		} else {
			q.AnswerIds = slices.Clone(r.AnswerIds)
		}
		q.CreatedAt = normalizeTime(r.CreatedAt)
		return &q, nil
	case *Answer:
		a := *r
		a.CreatedAt = normalizeTime(r.CreatedAt)
		return &a, nil
	}

	return nil, fmt.Errorf("%w: %w: %T", ErrInvalidRecord, ErrUnsupportedRecord, record)
}

// NormalizeTags returns the canonical, sorted set form of tags. Tags that
// differ only in case are distinct; search matches them case-insensitively.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Microsecond)
}
