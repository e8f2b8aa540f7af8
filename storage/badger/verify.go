package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/storage"
)

// Violation reasons reported by Verify.
const (
	ReasonAnswerMissing   = "answer not stored"
	ReasonAnswerMismatch  = "answer belongs to another question"
	ReasonQuestionMissing = "question not stored"
)

// Load verifies the format marker and every stored value. On failure the
// store becomes degraded and later reads fail with the returned error; a
// successful Load clears a previous degraded state.
func (s *Store) Load(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.backend.ensureFormat()
	if err == nil {
		err = s.verifyValues(ctx)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.degraded = err
		s.logger.Error("store load failed", "error", err)
		return err
	}
	s.degraded = nil
	return nil
}

// verifyValues decodes every record envelope and checks every index entry.
func (s *Store) verifyValues(ctx context.Context) error {
	questions, answers := 0, 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, kind := range []core.Kind{core.KindQuestion, core.KindAnswer} {
			prefix, _ := recordPrefix(kind)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := tx.NewIterator(opts)

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					it.Close()
					return err
				}
				item := it.Item()
				id, ok := parseRecordID(prefix, item.Key())
				if !ok {
					it.Close()
					return fmt.Errorf("%w: malformed key %x", storage.ErrCorruptStore, item.Key())
				}
				if _, err := decodeItem(item, core.Key{Kind: kind, ID: id}); err != nil {
					it.Close()
					return err
				}
				if kind == core.KindQuestion {
					questions++
				} else {
					answers++
				}
			}
			it.Close()
		}
		return s.verifyIndex(tx)
	}, false)
	if err != nil {
		return err
	}

	s.logger.Info("store loaded", "questions", questions, "answers", answers)
	return nil
}

// verifyIndex checks every answer-by-question entry holds the answer id its
// key names and points at an answer that names that question.
func (s *Store) verifyIndex(tx *badger.Txn) error {
	prefix := []byte(answerQuestionPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) != len(prefix)+2*idSize {
			return fmt.Errorf("%w: malformed index key %x", storage.ErrCorruptStore, key)
		}
		questionID, _ := parseRecordID(prefix, key[:len(prefix)+idSize])
		answerID, _ := parseRecordID(nil, key[len(prefix)+idSize:])

		value, err := item.ValueCopy(nil)
		if err != nil {
			return badgerError("read index", err)
		}
		stored, err := storage.UnmarshalID(value)
		if err != nil || stored != answerID {
			return fmt.Errorf("%w: index entry %x holds answer %d", storage.ErrCorruptStore, key, stored)
		}

		answerKey := core.AnswerKey(answerID)
		recordKey, _ := makeRecordKey(answerKey)
		env, err := readEnvelope(tx, recordKey, answerKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: index references missing %s", storage.ErrCorruptStore, answerKey)
			}
			return err
		}
		if env.Record.(*core.Answer).QuestionId != questionID {
			return fmt.Errorf("%w: index places %s under question %d", storage.ErrCorruptStore, answerKey, questionID)
		}
	}
	return nil
}

// Verify checks that every id in a question's AnswerIds names a stored
// answer pointing back at that question, and that every stored answer's
// question exists.
func (s *Store) Verify(ctx context.Context) ([]storage.Violation, error) {
	var violations []storage.Violation

	for q, err := range s.Questions(ctx) {
		if err != nil {
			return nil, err
		}
		for _, answerID := range q.AnswerIds {
			answer, err := s.GetAnswer(ctx, answerID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				violations = append(violations, storage.Violation{Question: q.Id, Answer: answerID, Reason: ReasonAnswerMissing})
			case err != nil:
				return nil, err
			case answer.QuestionId != q.Id:
				violations = append(violations, storage.Violation{Question: q.Id, Answer: answerID, Reason: ReasonAnswerMismatch})
			}
		}
	}

	for a, err := range s.Answers(ctx) {
		if err != nil {
			return nil, err
		}
		_, err := s.GetQuestion(ctx, a.QuestionId)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			violations = append(violations, storage.Violation{Question: a.QuestionId, Answer: a.Id, Reason: ReasonQuestionMissing})
		case err != nil:
			return nil, err
		}
	}

	return violations, nil
}
