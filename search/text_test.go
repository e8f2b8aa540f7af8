package search

import (
	"testing"

	"github.com/poiesic/qarchive/core"
	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", []string{}},
		{"lowercases and splits on punctuation", "Hello, World!", []string{"hello", "world"}},
		{"drops single characters", "a b c++ GC", []string{"gc"}},
		{"drops stop words", "The borrow checker is strict", []string{"borrow", "checker", "strict"}},
		{"keeps digits", "utf8 in go1.22", []string{"utf8", "go1", "22"}},
		{"unicode letters", "Größe über alles", []string{"größe", "über", "alles"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.text)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTagTerms(t *testing.T) {
	assert.Equal(t, []string{"rust"}, tagTerms("rust"))
	assert.Equal(t, []string{"c++"}, tagTerms("c++"))
	assert.Equal(t, []string{"ruby", "rails", "ruby-on-rails"}, tagTerms("ruby-on-rails"))
	assert.Equal(t, []string{"node", "js", "node.js"}, tagTerms("Node.js"))
	assert.Empty(t, tagTerms("c"))
	assert.Empty(t, tagTerms("the"))
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"rust", "c++"}, queryTerms("Rust rust c++?"))
	assert.Equal(t, []string{"garbage", "collection"}, queryTerms("garbage  collection"))
	assert.Empty(t, queryTerms(""))
	assert.Empty(t, queryTerms("   "))
	assert.Empty(t, queryTerms("the of and"))
	assert.Empty(t, queryTerms("? !"))
}

func TestTermFrequencies(t *testing.T) {
	q := &core.Question{
		Id:    1,
		Title: "Rust ownership",
		Body:  "ownership and borrowing in rust",
		Tags:  []string{"rust", "Rust ", "c++"},
	}
	assert.Equal(t, map[string]int{
		"rust":      3,
		"ownership": 2,
		"borrowing": 1,
		"c++":       1,
	}, termFrequencies(q))

	a := &core.Answer{Id: 2, QuestionId: 1, Body: "Use Rc<RefCell<T>>"}
	assert.Equal(t, map[string]int{"use": 1, "rc": 1, "refcell": 1}, termFrequencies(a))
}
