package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr error
	}{
		{"valid question", &Question{Id: 1, Title: "t"}, nil},
		{"valid answer", &Answer{Id: 2, QuestionId: 1}, nil},
		{"nil record", nil, ErrInvalidRecord},
		{"nil question", (*Question)(nil), ErrInvalidRecord},
		{"nil answer", (*Answer)(nil), ErrInvalidRecord},
		{"question without id", &Question{Title: "t"}, ErrEmptyID},
		{"answer without id", &Answer{QuestionId: 1}, ErrEmptyID},
		{"answer without question", &Answer{Id: 2}, ErrEmptyQuestionID},
		{"zero answer id", &Question{Id: 1, AnswerIds: []ID{3, 0}}, ErrEmptyID},
		{"duplicate answer id", &Question{Id: 1, AnswerIds: []ID{3, 3}}, ErrDuplicateAnswerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.True(t, errors.Is(err, ErrInvalidRecord), "every validation error wraps ErrInvalidRecord")
		})
	}
}

type otherRecord struct{}

func (otherRecord) Key() Key { return Key{Kind: KindQuestion, ID: 1} }

func TestValidateRecord_UnsupportedType(t *testing.T) {
	err := ValidateRecord(otherRecord{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedRecord)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNormalize_Question(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.FixedZone("CET", 3600))
	original := &Question{
		Id:        1,
		Title:     "Rust ownership",
		Tags:      []string{" Rust ", "borrow-checker", "rust", ""},
		AnswerIds: []ID{},
		CreatedAt: created,
	}

	normalized, err := Normalize(original)
	require.NoError(t, err)

	q := normalized.(*Question)
	assert.Equal(t, []string{"Rust", "borrow-checker", "rust"}, q.Tags)
	assert.Nil(t, q.AnswerIds)
	assert.Equal(t, time.UTC, q.CreatedAt.Location())
	assert.Equal(t, 123456000, q.CreatedAt.Nanosecond())
	assert.True(t, q.CreatedAt.Equal(created.Truncate(time.Microsecond)))

	// Argument is left untouched
	assert.Equal(t, []string{" Rust ", "borrow-checker", "rust", ""}, original.Tags)
	assert.NotNil(t, original.AnswerIds)
}

func TestNormalize_Answer(t *testing.T) {
	a := &Answer{Id: 5, QuestionId: 1, Body: "use Rc", CreatedAt: time.Now()}
	normalized, err := Normalize(a)
	require.NoError(t, err)
	assert.NotSame(t, a, normalized)
	assert.Equal(t, a.Body, normalized.(*Answer).Body)
}

func TestNormalize_Invalid(t *testing.T) {
	_, err := Normalize(&Question{})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNormalizeTags(t *testing.T) {
	assert.Nil(t, NormalizeTags(nil))
	assert.Nil(t, NormalizeTags([]string{" ", ""}))
	assert.Equal(t, []string{"GO", "Go", "c++"}, NormalizeTags([]string{"Go", "c++", "GO", " Go"}))
}
