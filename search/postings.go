package search

import (
	"cmp"
	"math"
	"slices"

	"github.com/poiesic/qarchive/core"
)

// update is one change to a postings table. Updates are computed outside
// any lock and replayed verbatim onto a rebuilt table.
type update struct {
	remove bool
	key    core.Key

	// question the part belongs to; set for answer adds
	questionID core.ID
	score      int64
	freqs      map[string]int
}

func newAddUpdate(record core.Record) update {
	u := update{key: record.Key(), freqs: termFrequencies(record)}
	switch r := record.(type) {
	case *core.Question:
		u.questionID = r.Id
		u.score = r.Score
	case *core.Answer:
		u.questionID = r.QuestionId
	}
	return u
}

func newRemoveUpdate(key core.Key) update {
	return update{remove: true, key: key}
}

// document is the aggregated text of one question: its own part plus one
// part per answer. Answer parts of a question that is not indexed yet are
// pending and contribute nothing to the postings.
type document struct {
	parts   map[core.Key]map[string]int
	score   int64
	indexed bool
}

// table is an inverted index from token to question id to term frequency.
// It is not safe for concurrent use.
type table struct {
	postings map[string]map[core.ID]int
	docs     map[core.ID]*document
	owners   map[core.ID]core.ID
	indexed  int
}

func newTable() *table {
	return &table{
		postings: make(map[string]map[core.ID]int),
		docs:     make(map[core.ID]*document),
		owners:   make(map[core.ID]core.ID),
	}
}

func (t *table) apply(u update) {
	switch {
	case u.remove && u.key.Kind == core.KindQuestion:
		t.removeQuestion(u.key.ID)
	case u.remove:
		t.removeAnswer(u.key.ID)
	case u.key.Kind == core.KindQuestion:
		t.addQuestion(u)
	default:
		t.addAnswer(u)
	}
}

func (t *table) document(id core.ID) *document {
	doc, ok := t.docs[id]
	if !ok {
		doc = &document{parts: make(map[core.Key]map[string]int)}
		t.docs[id] = doc
	}
	return doc
}

func (t *table) addQuestion(u update) {
	doc := t.document(u.key.ID)
	if old, ok := doc.parts[u.key]; ok && doc.indexed {
		t.contribute(u.key.ID, old, -1)
	}
	doc.parts[u.key] = u.freqs
	doc.score = u.score

	if doc.indexed {
		t.contribute(u.key.ID, u.freqs, 1)
		return
	}
	doc.indexed = true
	t.indexed++
	for _, freqs := range doc.parts {
		t.contribute(u.key.ID, freqs, 1)
	}
}

func (t *table) addAnswer(u update) {
	if owner, ok := t.owners[u.key.ID]; ok && owner != u.questionID {
		t.removeAnswer(u.key.ID)
	}
	doc := t.document(u.questionID)
	if old, ok := doc.parts[u.key]; ok && doc.indexed {
		t.contribute(u.questionID, old, -1)
	}
	doc.parts[u.key] = u.freqs
	t.owners[u.key.ID] = u.questionID
	if doc.indexed {
		t.contribute(u.questionID, u.freqs, 1)
	}
}

// removeQuestion drops a question's contribution. Its answers stay behind
// as pending parts.
func (t *table) removeQuestion(id core.ID) {
	doc, ok := t.docs[id]
	if !ok || !doc.indexed {
		return
	}
	for _, freqs := range doc.parts {
		t.contribute(id, freqs, -1)
	}
	delete(doc.parts, core.QuestionKey(id))
	doc.indexed = false
	doc.score = 0
	t.indexed--
	if len(doc.parts) == 0 {
		delete(t.docs, id)
	}
}

func (t *table) removeAnswer(id core.ID) {
	owner, ok := t.owners[id]
	if !ok {
		return
	}
	delete(t.owners, id)

	doc := t.docs[owner]
	key := core.AnswerKey(id)
	if doc.indexed {
		t.contribute(owner, doc.parts[key], -1)
	}
	delete(doc.parts, key)
	if len(doc.parts) == 0 && !doc.indexed {
		delete(t.docs, owner)
	}
}

// contribute adds sign times freqs to the postings of question id.
func (t *table) contribute(id core.ID, freqs map[string]int, sign int) {
	for term, n := range freqs {
		plist, ok := t.postings[term]
		if !ok {
			if sign < 0 {
				continue
			}
			plist = make(map[core.ID]int)
			t.postings[term] = plist
		}
		tf := plist[id] + sign*n
		if tf > 0 {
			plist[id] = tf
			continue
		}
		delete(plist, id)
		if len(plist) == 0 {
			delete(t.postings, term)
		}
	}
}

func (t *table) pending() int {
	n := 0
	for _, doc := range t.docs {
		if !doc.indexed {
			n += len(doc.parts)
		}
	}
	return n
}

// hit is a scored candidate.
type hit struct {
	id      core.ID
	score   float64
	matched int
	votes   int64
}

// search scores every question whose postings contain at least one term.
// Each matched term contributes tf * ln(N / (1 + df)).
func (t *table) search(terms []string) []hit {
	if t.indexed == 0 || len(terms) == 0 {
		return nil
	}
	n := float64(t.indexed)

	candidates := make(map[core.ID]*hit)
	for _, term := range terms {
		plist := t.postings[term]
		if len(plist) == 0 {
			continue
		}
		idf := math.Log(n / float64(1+len(plist)))
		for id, tf := range plist {
			h, ok := candidates[id]
			if !ok {
				h = &hit{id: id, votes: t.docs[id].score}
				candidates[id] = h
			}
			h.score += float64(tf) * idf
			h.matched++
		}
	}

	hits := make([]hit, 0, len(candidates))
	for _, h := range candidates {
		hits = append(hits, *h)
	}
	slices.SortFunc(hits, compareHits)
	return hits
}

// compareHits orders by score, then platform votes, then matched terms,
// each descending, then by ascending id.
func compareHits(a, b hit) int {
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.votes, a.votes); c != 0 {
		return c
	}
	if c := cmp.Compare(b.matched, a.matched); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}
