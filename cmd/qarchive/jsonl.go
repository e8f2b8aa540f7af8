package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/poiesic/qarchive/core"
)

const maxLineSize = 16 << 20

// jsonRecord is one line of the interchange format. Kind selects which of
// the fields apply.
type jsonRecord struct {
	Kind       string    `json:"kind"`
	ID         core.ID   `json:"id"`
	QuestionID core.ID   `json:"question_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Score      int64     `json:"score,omitempty"`
	AnswerIDs  []core.ID `json:"answer_ids,omitempty"`
	Accepted   bool      `json:"accepted,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

func toJSON(record core.Record) (jsonRecord, error) {
	switch r := record.(type) {
	case *core.Question:
		return jsonRecord{
			Kind:      core.KindQuestion.String(),
			ID:        r.Id,
			Title:     r.Title,
			Body:      r.Body,
			Tags:      r.Tags,
			Score:     r.Score,
			AnswerIDs: r.AnswerIds,
			CreatedAt: r.CreatedAt,
		}, nil
	case *core.Answer:
		return jsonRecord{
			Kind:       core.KindAnswer.String(),
			ID:         r.Id,
			QuestionID: r.QuestionId,
			Body:       r.Body,
			Score:      r.Score,
			Accepted:   r.Accepted,
			CreatedAt:  r.CreatedAt,
		}, nil
	}
	return jsonRecord{}, fmt.Errorf("%w: %T", core.ErrUnsupportedRecord, record)
}

func (j jsonRecord) record() (core.Record, error) {
	kind, err := core.ParseKind(j.Kind)
	if err != nil {
		return nil, err
	}
	if kind == core.KindQuestion {
		return &core.Question{
			Id:        j.ID,
			Title:     j.Title,
			Body:      j.Body,
			Tags:      j.Tags,
			Score:     j.Score,
			AnswerIds: j.AnswerIDs,
			CreatedAt: j.CreatedAt,
		}, nil
	}
	return &core.Answer{
		Id:         j.ID,
		QuestionId: j.QuestionID,
		Body:       j.Body,
		Score:      j.Score,
		Accepted:   j.Accepted,
		CreatedAt:  j.CreatedAt,
	}, nil
}

// decodeRecords calls fn for every record in r, one JSON object per line.
// Blank lines are skipped.
func decodeRecords(r io.Reader, fn func(line int, record core.Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var j jsonRecord
		if err := json.Unmarshal([]byte(text), &j); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		record, err := j.record()
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, record); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type recordEncoder struct {
	enc *json.Encoder
}

func newRecordEncoder(w io.Writer) *recordEncoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &recordEncoder{enc: enc}
}

// Encode writes record as a single line.
func (e *recordEncoder) Encode(record core.Record) error {
	j, err := toJSON(record)
	if err != nil {
		return err
	}
	return e.enc.Encode(j)
}
