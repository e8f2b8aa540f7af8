package core

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// Digest returns a content hash of a record's canonical encoding.
// Two records have the same digest when every field is equal, which lets
// storage detect re-puts of an unchanged record.
func Digest(record Record) uint64 {
	return xxhash.Sum64(MarshalRecord(record))
}

// MarshalRecord encodes a *Question or *Answer with its MUS serializer.
// Unsupported record types encode to nil.
func MarshalRecord(record Record) []byte {
	switch r := record.(type) {
	case *Question:
		buf := make([]byte, QuestionMUS.Size(*r))
		QuestionMUS.Marshal(*r, buf)
		return buf
	case *Answer:
		buf := make([]byte, AnswerMUS.Size(*r))
		AnswerMUS.Marshal(*r, buf)
		return buf
	}
	return nil
}

// UnmarshalRecord decodes a record of the given kind. The result is in the
// form Normalize produces: empty collections are nil and CreatedAt is UTC.
func UnmarshalRecord(kind Kind, data []byte) (Record, error) {
	switch kind {
	case KindQuestion:
		q, n, err := QuestionMUS.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if n != len(data) {
			return nil, ErrTrailingBytes
		}
		if len(q.Tags) == 0 {
			q.Tags = nil
		}
		if len(q.AnswerIds) == 0 {
			q.AnswerIds = nil
		}
		q.CreatedAt = decodedTime(q.CreatedAt)
		return &q, nil
	case KindAnswer:
		a, n, err := AnswerMUS.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if n != len(data) {
			return nil, ErrTrailingBytes
		}
		a.CreatedAt = decodedTime(a.CreatedAt)
		return &a, nil
	}
	return nil, ErrInvalidKind
}

// decodedTime maps a decoded timestamp to UTC, keeping the zero time zero.
func decodedTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
