package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
)

// Helpers shared by the SQL backends. Keyword columns hold JSON objects,
// tags a JSON array.

// EncodeCounts returns the JSON form of counts, or nil for nil counts.
func EncodeCounts(c keywords.Counts) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// DecodeCounts parses a keyword count column. Empty input decodes to nil.
func DecodeCounts(data []byte) (keywords.Counts, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var c keywords.Counts
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode keyword counts: %w", err)
	}
	return c, nil
}

// DecodeTopicKeywords parses a {term: score} column.
func DecodeTopicKeywords(source rank.Source, data []byte) (rank.TopicKeywords, bool, error) {
	if len(data) == 0 || string(data) == "null" {
		return rank.TopicKeywords{}, false, nil
	}
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return rank.TopicKeywords{}, false, fmt.Errorf("decode %s keywords: %w", source, err)
	}
	return rank.FromScores(source, m), true, nil
}

// EncodeTags returns tags as a JSON array.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

// DecodeTags accepts a JSON array, or a bare tag for rows written by other
// tools.
func DecodeTags(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err == nil {
		return tags
	}
	return []string{s}
}

// KeywordColumn returns the blueprint/topic column holding a source's set.
func KeywordColumn(source rank.Source) (string, error) {
	switch source {
	case rank.SourceYAKE:
		return "keywords_yake", nil
	case rank.SourceTFIDF:
		return "keywords_tfidf", nil
	}
	return "", fmt.Errorf("%w: unknown keyword source %q", internalerr.ErrInvalidInput, source)
}

// SetTopicKeywords stores kw in m, allocating m when needed.
func SetTopicKeywords(m map[rank.Source]rank.TopicKeywords, kw rank.TopicKeywords) map[rank.Source]rank.TopicKeywords {
	if m == nil {
		m = make(map[rank.Source]rank.TopicKeywords)
	}
	m[kw.Source] = kw
	return m
}
