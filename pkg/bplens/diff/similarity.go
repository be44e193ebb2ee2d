package diff

import (
	"fmt"

	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

// Score is the similarity of two trees.
type Score struct {
	// Value is Raw clamped to [0, 1].
	Value float64
	// Raw is 1 - DiffSize / (len(a) + len(b)) before clamping. It can drop
	// below zero when the report renders longer than both trees.
	Raw      float64
	DiffSize int
}

// Similarity scores two normalized trees. Identical trees score 1.
func Similarity(a, b *blueprint.Node) Score {
	report := Compare(a, b)
	return score(report.Size(), len(render(a))+len(render(b)))
}

func score(size, total int) Score {
	if total == 0 || size == 0 {
		return Score{Value: 1, Raw: 1, DiffSize: size}
	}
	raw := 1 - float64(size)/float64(total)
	return Score{Value: min(1, max(0, raw)), Raw: raw, DiffSize: size}
}

func render(n *blueprint.Node) string {
	if n == nil {
		return "None"
	}
	return n.String()
}

// Result is the similarity of one pair of blueprints.
type Result struct {
	A          int64   `json:"a"`
	B          int64   `json:"b"`
	Similarity float64 `json:"similarity"`
	Raw        float64 `json:"raw"`
	DiffSize   int     `json:"diff_size"`
}

// CompareAll normalizes trees and scores every pair i < j. ids[i] names
// trees[i].
func CompareAll(ids []int64, trees []*blueprint.Node) ([]Result, error) {
	if len(ids) != len(trees) {
		return nil, fmt.Errorf("%w: %d ids for %d trees", internalerr.ErrInvalidInput, len(ids), len(trees))
	}
	normalized := make([]*blueprint.Node, len(trees))
	for i, t := range trees {
		normalized[i] = blueprint.Normalize(t)
	}

	var out []Result
	for i := 0; i < len(normalized); i++ {
		for j := i + 1; j < len(normalized); j++ {
			s := Similarity(normalized[i], normalized[j])
			out = append(out, Result{
				A:          ids[i],
				B:          ids[j],
				Similarity: s.Value,
				Raw:        s.Raw,
				DiffSize:   s.DiffSize,
			})
		}
	}
	return out, nil
}
