package badger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/qarchive/core"
	"github.com/poiesic/qarchive/storage"
)

var errStopIteration = errors.New("iteration stopped")

// Put inserts or replaces a record under its key.
func (s *Store) Put(ctx context.Context, record core.Record) (storage.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.PutResult{}, err
	}
	normalized, err := core.Normalize(record)
	if err != nil {
		return storage.PutResult{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.checkReadable(); err != nil {
		return storage.PutResult{}, err
	}

	var result storage.PutResult
	err = storage.RetryIO(ctx, s.retry, func() error {
		var putErr error
		result, putErr = s.put(normalized)
		return putErr
	})
	if err != nil {
		s.noteFailure(err)
		return storage.PutResult{}, err
	}

	s.dirty.Store(true)
	s.logger.Debug("record stored", "key", normalized.Key(), "version", result.Version, "changed", result.Changed)
	return result, nil
}

// put writes one normalized record and its secondary index entries.
func (s *Store) put(record core.Record) (storage.PutResult, error) {
	key := record.Key()
	recordKey, err := makeRecordKey(key)
	if err != nil {
		return storage.PutResult{}, err
	}

	env := &storage.Envelope{
		Kind:     key.Kind,
		Version:  1,
		StoredAt: s.now().UTC().Truncate(time.Microsecond),
		Digest:   core.Digest(record),
		Record:   record,
	}
	result := storage.PutResult{Changed: true}

	err = s.backend.WithTx(func(tx *badger.Txn) error {
		prev, err := readEnvelope(tx, recordKey, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if prev != nil {
			env.Version = prev.Version + 1
			result.Previous = prev.Record
			result.Changed = prev.Digest != env.Digest
		}

		value, err := storage.MarshalEnvelope(env)
		if err != nil {
			return err
		}
		if err := tx.Set(recordKey, value); err != nil {
			return badgerError("set", err)
		}

		if answer, ok := record.(*core.Answer); ok {
			if prev != nil {
				if old, ok := prev.Record.(*core.Answer); ok && old.QuestionId != answer.QuestionId {
					if err := tx.Delete(makeAnswerQuestionKey(old.QuestionId, old.Id)); err != nil {
						return badgerError("delete index", err)
					}
				}
			}
			if err := tx.Set(makeAnswerQuestionKey(answer.QuestionId, answer.Id), storage.MarshalID(answer.Id)); err != nil {
				return badgerError("set index", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return badgerError("commit", err)
		}
		return nil
	}, true)
	if err != nil {
		return storage.PutResult{}, err
	}

	result.Version = env.Version
	result.StoredAt = env.StoredAt
	return result, nil
}

// Get retrieves a record by key.
func (s *Store) Get(ctx context.Context, key core.Key) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkReadable(); err != nil {
		return nil, err
	}
	recordKey, err := makeRecordKey(key)
	if err != nil {
		return nil, err
	}

	var record core.Record
	err = s.backend.WithTx(func(tx *badger.Txn) error {
		env, err := readEnvelope(tx, recordKey, key)
		if err != nil {
			return err
		}
		record = env.Record
		return nil
	}, false)
	if err != nil {
		s.noteFailure(err)
		return nil, err
	}
	return record, nil
}

// GetQuestion retrieves a question by id.
func (s *Store) GetQuestion(ctx context.Context, id core.ID) (*core.Question, error) {
	record, err := s.Get(ctx, core.QuestionKey(id))
	if err != nil {
		return nil, err
	}
	return record.(*core.Question), nil
}

// GetAnswer retrieves an answer by id.
func (s *Store) GetAnswer(ctx context.Context, id core.ID) (*core.Answer, error) {
	record, err := s.Get(ctx, core.AnswerKey(id))
	if err != nil {
		return nil, err
	}
	return record.(*core.Answer), nil
}

// Iterate lazily yields every record of kind in ascending id order.
// The pass runs inside one read transaction, so it sees a consistent
// snapshot even while writes continue.
func (s *Store) Iterate(ctx context.Context, kind core.Kind) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		prefix, err := recordPrefix(kind)
		if err != nil {
			yield(nil, err)
			return
		}
		if err := s.checkReadable(); err != nil {
			yield(nil, err)
			return
		}

		err = s.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := tx.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				id, ok := parseRecordID(prefix, item.Key())
				if !ok {
					return fmt.Errorf("%w: malformed key %x", storage.ErrCorruptStore, item.Key())
				}
				env, err := decodeItem(item, core.Key{Kind: kind, ID: id})
				if err != nil {
					return err
				}
				if !yield(env.Record, nil) {
					return errStopIteration
				}
			}
			return nil
		}, false)

		if err != nil && !errors.Is(err, errStopIteration) {
			s.noteFailure(err)
			yield(nil, err)
		}
	}
}

// Questions yields every stored question in ascending id order.
func (s *Store) Questions(ctx context.Context) iter.Seq2[*core.Question, error] {
	return func(yield func(*core.Question, error) bool) {
		for record, err := range s.Iterate(ctx, core.KindQuestion) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(record.(*core.Question), nil) {
				return
			}
		}
	}
}

// Answers yields every stored answer in ascending id order.
func (s *Store) Answers(ctx context.Context) iter.Seq2[*core.Answer, error] {
	return func(yield func(*core.Answer, error) bool) {
		for record, err := range s.Iterate(ctx, core.KindAnswer) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(record.(*core.Answer), nil) {
				return
			}
		}
	}
}

// Count returns the number of stored records of kind.
func (s *Store) Count(ctx context.Context, kind core.Kind) (int, error) {
	prefix, err := recordPrefix(kind)
	if err != nil {
		return 0, err
	}
	if err := s.checkReadable(); err != nil {
		return 0, err
	}

	count := 0
	err = s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	}, false)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AnswersFor returns the answers whose QuestionId is questionID, ordered by
// answer id, resolved through the answer-by-question index.
func (s *Store) AnswersFor(ctx context.Context, questionID core.ID) ([]*core.Answer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkReadable(); err != nil {
		return nil, err
	}

	var answers []*core.Answer
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialAnswerQuestionKey(questionID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			answerID, ok := parseRecordID(prefix, it.Item().Key())
			if !ok {
				return fmt.Errorf("%w: malformed index key %x", storage.ErrCorruptStore, it.Item().Key())
			}
			key := core.AnswerKey(answerID)
			recordKey, _ := makeRecordKey(key)
			env, err := readEnvelope(tx, recordKey, key)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: index references missing %s", storage.ErrCorruptStore, key)
				}
				return err
			}
			answers = append(answers, env.Record.(*core.Answer))
		}
		return nil
	}, false)
	if err != nil {
		s.noteFailure(err)
		return nil, err
	}
	return answers, nil
}

// Delete removes a record and its secondary index entries.
func (s *Store) Delete(ctx context.Context, key core.Key) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recordKey, err := makeRecordKey(key)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.checkReadable(); err != nil {
		return nil, err
	}

	var removed core.Record
	err = storage.RetryIO(ctx, s.retry, func() error {
		return s.backend.WithTx(func(tx *badger.Txn) error {
			env, err := readEnvelope(tx, recordKey, key)
			if err != nil {
				return err
			}
			if err := tx.Delete(recordKey); err != nil {
				return badgerError("delete", err)
			}
			if answer, ok := env.Record.(*core.Answer); ok {
				if err := tx.Delete(makeAnswerQuestionKey(answer.QuestionId, answer.Id)); err != nil {
					return badgerError("delete index", err)
				}
			}
			if err := tx.Commit(); err != nil {
				return badgerError("commit", err)
			}
			removed = env.Record
			return nil
		}, true)
	})
	if err != nil {
		s.noteFailure(err)
		return nil, err
	}

	s.dirty.Store(true)
	s.logger.Debug("record deleted", "key", key)
	return removed, nil
}

// readEnvelope reads and verifies the envelope stored under recordKey.
func readEnvelope(tx *badger.Txn, recordKey []byte, key core.Key) (*storage.Envelope, error) {
	item, err := tx.Get(recordKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, badgerError("get", err)
	}
	return decodeItem(item, key)
}

// decodeItem decodes an item's envelope and checks it belongs under key.
func decodeItem(item *badger.Item, key core.Key) (*storage.Envelope, error) {
	var env *storage.Envelope
	err := item.Value(func(val []byte) error {
		var err error
		env, err = storage.UnmarshalEnvelope(val)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrCorruptStore) {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return nil, badgerError("read value", err)
	}
	if env.Kind != key.Kind || env.Record.Key() != key {
		return nil, fmt.Errorf("%w: %s holds %s", storage.ErrCorruptStore, key, env.Record.Key())
	}
	return env, nil
}
