package core

//go:generate go run ../cmd/musgen

import (
	"fmt"
	"time"
)

// ID is the identifier assigned to a record by the source platform.
// IDs are only unique within a Kind; use Key to address a stored record.
type ID uint64

// Kind identifies which entity namespace an ID belongs to.
type Kind uint8

const (
	// KindQuestion is the namespace of question records.
	KindQuestion Kind = iota + 1
	// KindAnswer is the namespace of answer records.
	KindAnswer
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindQuestion:
		return "question"
	case KindAnswer:
		return "answer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind converts "question" or "answer" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "question", "questions", "q":
		return KindQuestion, nil
	case "answer", "answers", "a":
		return KindAnswer, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Key addresses a record by kind and id. A question and an answer sharing
// the same numeric id have different keys.
type Key struct {
	Kind Kind
	ID   ID
}

// QuestionKey returns the key of the question with the given id.
func QuestionKey(id ID) Key { return Key{Kind: KindQuestion, ID: id} }

// AnswerKey returns the key of the answer with the given id.
func AnswerKey(id ID) Key { return Key{Kind: KindAnswer, ID: id} }

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Record is implemented by *Question and *Answer.
type Record interface {
	Key() Key
}

// Question is a question harvested from the Q&A platform.
type Question struct {
	Id        ID
	Title     string
	Body      string
	Tags      []string  // Set semantics; canonicalized by Normalize
	Score     int64     // Vote score on the platform
	AnswerIds []ID      // Ordered; answers whose QuestionId is Id
	CreatedAt time.Time // When the question was posted on the platform
}

// Key returns the storage key of the question.
func (q *Question) Key() Key { return QuestionKey(q.Id) }

// Answer is an answer to a Question. QuestionId is a plain back-reference;
// it does not imply ownership.
type Answer struct {
	Id         ID
	QuestionId ID
	Body       string
	Score      int64
	Accepted   bool
	CreatedAt  time.Time
}

// Key returns the storage key of the answer.
func (a *Answer) Key() Key { return AnswerKey(a.Id) }

var (
	_ Record = (*Question)(nil)
	_ Record = (*Answer)(nil)
)
