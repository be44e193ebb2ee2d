package rank

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

// Document is the text of one topic for corpus-wide weighting.
type Document struct {
	ID   string
	Text string
}

// TFIDFOptions bound the vocabulary by document frequency.
type TFIDFOptions struct {
	// MinDF drops terms found in fewer documents. Values below 1 mean 1.
	MinDF int
	// MaxDF drops terms found in more than this share of documents.
	// Values outside (0, 1] mean 1.
	MaxDF float64
}

// DefaultTFIDFOptions ignores terms seen in a single topic or in more than
// 95% of topics.
func DefaultTFIDFOptions() TFIDFOptions {
	return TFIDFOptions{MinDF: 2, MaxDF: 0.95}
}

// TFIDF fits term weights over all documents and returns the topN highest
// weighted terms of each document, keyed by document ID.
//
// Weights follow the usual smoothed scheme: raw term counts times
// ln((1+n)/(1+df))+1, each document vector scaled to unit length. Terms are
// lowercase runs of two or more letters, digits or underscores. Ties are
// broken by the term's position in the sorted vocabulary. Terms absent from
// a document are never returned for it.
//
// An empty corpus, or one whose vocabulary is empty after pruning, yields
// internalerr.ErrEmptyCorpus.
func TFIDF(docs []Document, topN int, opts TFIDFOptions) (map[string][]Term, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents", internalerr.ErrEmptyCorpus)
	}
	if topN <= 0 {
		return nil, fmt.Errorf("%w: topN must be positive, got %d", internalerr.ErrInvalidInput, topN)
	}

	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: duplicate document id %q", internalerr.ErrInvalidInput, d.ID)
		}
		seen[d.ID] = true

		tf := make(map[string]int)
		for _, tok := range analyze(d.Text) {
			tf[tok]++
		}
		for tok := range tf {
			df[tok]++
		}
		counts[i] = tf
	}

	vocab := pruneVocabulary(df, len(docs), opts)
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: no terms remain after document frequency pruning", internalerr.ErrEmptyCorpus)
	}

	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for j, term := range vocab {
		idf[j] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	out := make(map[string][]Term, len(docs))
	for i, d := range docs {
		type cell struct {
			index int
			score float64
		}
		var row []cell
		var norm float64
		for j, term := range vocab {
			c := counts[i][term]
			if c == 0 {
				continue
			}
			w := float64(c) * idf[j]
			row = append(row, cell{j, w})
			norm += w * w
		}
		norm = math.Sqrt(norm)

		slices.SortStableFunc(row, func(a, b cell) int {
			if a.score != b.score {
				if a.score > b.score {
					return -1
				}
				return 1
			}
			return a.index - b.index
		})
		if len(row) > topN {
			row = row[:topN]
		}

		terms := make([]Term, len(row))
		for k, c := range row {
			terms[k] = Term{Term: vocab[c.index], Score: c.score / norm}
		}
		out[d.ID] = terms
	}
	return out, nil
}

func pruneVocabulary(df map[string]int, nDocs int, opts TFIDFOptions) []string {
	minDF := opts.MinDF
	if minDF < 1 {
		minDF = 1
	}
	maxShare := opts.MaxDF
	if maxShare <= 0 || maxShare > 1 {
		maxShare = 1
	}
	maxDF := maxShare * float64(nDocs)

	vocab := make([]string, 0, len(df))
	for term, c := range df {
		if c < minDF || float64(c) > maxDF {
			continue
		}
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)
	return vocab
}

// analyze lowercases text and splits it into tokens of at least two word runes.
func analyze(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
