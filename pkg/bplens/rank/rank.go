// Package rank scores topic keywords, either corpus-wide with TF-IDF or per
// topic with YAKE phrase extraction.
package rank

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Source tags which ranker produced a keyword set.
type Source string

const (
	SourceYAKE  Source = "yake"
	SourceTFIDF Source = "tfidf"
)

// Valid reports whether s names a known ranker.
func (s Source) Valid() bool {
	return s == SourceYAKE || s == SourceTFIDF
}

// Term is a ranked keyword. For YAKE a lower score is better, for TF-IDF a
// higher one.
type Term struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// TopicKeywords is the ordered keyword set of one topic.
type TopicKeywords struct {
	Source Source
	Terms  []Term
}

// MarshalJSON encodes the set as a {term: score} object, the shape the
// keyword columns store.
func (k TopicKeywords) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(k.Terms))
	for _, t := range k.Terms {
		m[t.Term] = t.Score
	}
	return json.Marshal(m)
}

// FromScores rebuilds a keyword set from its stored {term: score} form,
// best term first.
func FromScores(source Source, scores map[string]float64) TopicKeywords {
	k := TopicKeywords{Source: source, Terms: make([]Term, 0, len(scores))}
	for term, score := range scores {
		k.Terms = append(k.Terms, Term{Term: term, Score: score})
	}
	slices.SortFunc(k.Terms, func(a, b Term) int {
		if a.Score != b.Score {
			better := a.Score > b.Score
			if source == SourceYAKE {
				better = a.Score < b.Score
			}
			if better {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Term, b.Term)
	})
	return k
}

// Strings returns the terms without scores.
func (k TopicKeywords) Strings() []string {
	out := make([]string, len(k.Terms))
	for i, t := range k.Terms {
		out[i] = t.Term
	}
	return out
}

func (k TopicKeywords) String() string {
	return fmt.Sprintf("%s%v", k.Source, k.Terms)
}
