package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/qarchive/core"
)

// Key prefixes for different data types
const (
	questionPrefix       = "q:"
	answerPrefix         = "a:"
	answerQuestionPrefix = "aq:"
	formatKey            = "meta:format"
)

const idSize = 8

// recordPrefix returns the key prefix for records of a kind.
func recordPrefix(kind core.Kind) ([]byte, error) {
	switch kind {
	case core.KindQuestion:
		return []byte(questionPrefix), nil
	case core.KindAnswer:
		return []byte(answerPrefix), nil
	}
	return nil, fmt.Errorf("%w: %d", core.ErrInvalidKind, kind)
}

// makeRecordKey generates the primary key for a record.
// Format: prefix:id, with the id big-endian so iteration is ordered by id.
func makeRecordKey(key core.Key) ([]byte, error) {
	prefix, err := recordPrefix(key.Kind)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(prefix)+idSize)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(key.ID))
	return buf, nil
}

// parseRecordID extracts the id from a primary key with the given prefix.
func parseRecordID(prefix, key []byte) (core.ID, bool) {
	if len(key) != len(prefix)+idSize {
		return 0, false
	}
	return core.ID(binary.BigEndian.Uint64(key[len(prefix):])), true
}

// makeAnswerQuestionKey generates a composite key for the answer-by-question index.
// Format: prefix:questionID:answerID
func makeAnswerQuestionKey(questionID, answerID core.ID) []byte {
	buf := make([]byte, len(answerQuestionPrefix)+2*idSize)
	offset := copy(buf, answerQuestionPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(questionID))
	offset += idSize
	binary.BigEndian.PutUint64(buf[offset:], uint64(answerID))
	return buf
}

// makePartialAnswerQuestionKey generates a partial key for answer lookups.
// Format: prefix:questionID
func makePartialAnswerQuestionKey(questionID core.ID) []byte {
	buf := make([]byte, len(answerQuestionPrefix)+idSize)
	offset := copy(buf, answerQuestionPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(questionID))
	return buf
}
