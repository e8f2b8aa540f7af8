package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/qarchive/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string) ([]core.Record, error) {
	t.Helper()
	var records []core.Record
	err := decodeRecords(strings.NewReader(input), func(_ int, record core.Record) error {
		records = append(records, record)
		return nil
	})
	return records, err
}

func TestDecodeRecords(t *testing.T) {
	records, err := collect(t, sampleJSONL)
	require.NoError(t, err)
	require.Len(t, records, 3)

	q := records[0].(*core.Question)
	assert.Equal(t, core.ID(100), q.Id)
	assert.Equal(t, []core.ID{200}, q.AnswerIds)

	a := records[1].(*core.Answer)
	assert.Equal(t, core.ID(100), a.QuestionId)
	assert.True(t, a.Accepted)
}

func TestDecodeRecords_Errors(t *testing.T) {
	_, err := collect(t, "{\"kind\":\"question\",\"id\":1}\n{\"kind\":\"comment\",\"id\":2}\n")
	assert.ErrorIs(t, err, core.ErrInvalidKind)
	assert.ErrorContains(t, err, "line 2")

	_, err = collect(t, "not json\n")
	assert.ErrorContains(t, err, "line 1")
}

func TestRecordEncoder(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	enc := newRecordEncoder(&buf)
	require.NoError(t, enc.Encode(&core.Question{Id: 1, Title: "a < b", CreatedAt: created}))
	require.NoError(t, enc.Encode(&core.Answer{Id: 2, QuestionId: 1}))

	assert.Equal(t,
		`{"kind":"question","id":1,"title":"a < b","created_at":"2024-03-01T12:00:00Z"}`+"\n"+
			`{"kind":"answer","id":2,"question_id":1}`+"\n",
		buf.String())

	records, err := collect(t, buf.String())
	require.NoError(t, err)
	assert.Equal(t, created, records[0].(*core.Question).CreatedAt)
}
