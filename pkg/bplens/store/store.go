package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
)

// Store is the main interface for persisting and querying the blueprint corpus
type Store interface {
	Close() error

	// Corpus
	UpsertTopic(ctx context.Context, t Topic) (int64, error)
	UpsertPost(ctx context.Context, p Post) (int64, error)
	UpsertBlueprint(ctx context.Context, b Blueprint) (int64, error)
	Topics(ctx context.Context) ([]Topic, error)
	Posts(ctx context.Context) ([]Post, error)
	PostsByTopicID(ctx context.Context, topicID string) ([]Post, error)
	BlueprintsByPostID(ctx context.Context, postID string) ([]Blueprint, error)
	AllBlueprints(ctx context.Context) ([]Blueprint, error)
	GetBlueprint(ctx context.Context, id int64) (Blueprint, error)

	// Keywords
	UpdateBlueprintKeywords(ctx context.Context, id int64, counts keywords.Counts) error
	UpdateTopicKeywords(ctx context.Context, topicID string, kw rank.TopicKeywords) error
	SearchByKeywordCount(ctx context.Context, q KeywordQuery) ([]Blueprint, error)

	// Full-text search
	UpsertBlueprintFTS(ctx context.Context, e FTSEntry) error
	SearchFTS(ctx context.Context, column FTSColumn, query string, limit int) ([]SearchHit, error)
	SearchSections(ctx context.Context, inputQuery, outputQuery string, limit int) ([]SearchHit, error)

	// Pass bookkeeping
	RecordRun(ctx context.Context, r Run) error
}

// Topic is a forum thread.
type Topic struct {
	ID       int64
	TopicID  string
	URL      string
	Title    string
	Tags     []string
	Keywords map[rank.Source]rank.TopicKeywords
}

// Post is one message of a topic. Cooked is its rendered HTML.
type Post struct {
	ID        int64
	PostID    string
	TopicID   string
	URL       string
	Username  string
	Cooked    string
	CreatedAt time.Time
}

// Blueprint is a blueprint posted in a forum post.
type Blueprint struct {
	ID          int64
	URL         string
	PostID      string
	Code        string
	Hash        string
	Name        string
	Description string

	// Keywords holds the per-blueprint keyword counts, nil until extracted.
	Keywords keywords.Counts
	// TopicKeywords holds the keyword sets of the blueprint's topic.
	TopicKeywords map[rank.Source]rank.TopicKeywords

	// Filled from the owning post and topic when loaded.
	TopicID     string
	TopicTitle  string
	Tags        []string
	PostContent string
	CreatedAt   time.Time
}

// FTSColumn names a searchable column of the full-text table.
type FTSColumn string

const (
	ColumnCode        FTSColumn = "blueprint_code"
	ColumnTopicTitle  FTSColumn = "topic_title"
	ColumnExpanded    FTSColumn = "blueprint_expanded"
	ColumnDeclaration FTSColumn = "blueprint_declaration"
	ColumnTrigger     FTSColumn = "blueprint_trigger"
	ColumnCondition   FTSColumn = "blueprint_condition"
	ColumnAction      FTSColumn = "blueprint_action"
	ColumnInput       FTSColumn = "blueprint_input"
	ColumnPostContent FTSColumn = "post_content"
)

// FTSColumns lists every searchable column in table order.
var FTSColumns = []FTSColumn{
	ColumnCode, ColumnTopicTitle, ColumnExpanded, ColumnDeclaration,
	ColumnTrigger, ColumnCondition, ColumnAction, ColumnInput, ColumnPostContent,
}

// Valid reports whether c is a searchable column.
func (c FTSColumn) Valid() bool {
	for _, col := range FTSColumns {
		if c == col {
			return true
		}
	}
	return false
}

// FTSEntry is the full-text row of one blueprint. Input is the trigger and
// condition text together.
type FTSEntry struct {
	BlueprintID int64
	Code        string
	TopicTitle  string
	Expanded    string
	Declaration string
	Trigger     string
	Condition   string
	Action      string
	Input       string
	PostContent string
}

// Values returns the column values in FTSColumns order.
func (e FTSEntry) Values() []any {
	return []any{e.Code, e.TopicTitle, e.Expanded, e.Declaration, e.Trigger, e.Condition, e.Action, e.Input, e.PostContent}
}

// SearchHit is one full-text match. Higher Rank is a better match.
type SearchHit struct {
	BlueprintID int64
	TopicTitle  string
	Code        string
	Rank        float64
}

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 20

// Operator compares a stored keyword count with a query count.
type Operator string

const (
	OpGreater Operator = ">"
	OpEqual   Operator = "=="
	OpLess    Operator = "<"
)

// SQL returns the SQL comparison operator.
func (o Operator) SQL() (string, error) {
	switch o {
	case OpGreater:
		return ">", nil
	case OpEqual:
		return "=", nil
	case OpLess:
		return "<", nil
	}
	return "", fmt.Errorf("%w: operator %q", internalerr.ErrInvalidInput, o)
}

// Match applies the operator to a stored count.
func (o Operator) Match(have, want int) bool {
	switch o {
	case OpGreater:
		return have > want
	case OpEqual:
		return have == want
	case OpLess:
		return have < want
	}
	return false
}

// KeywordQuery filters blueprints by keyword counts. An empty keyword
// disables its half of the query.
type KeywordQuery struct {
	InputKeyword  string
	InputOp       Operator
	InputCount    int
	OutputKeyword string
	OutputOp      Operator
	OutputCount   int
	Limit         int
}

// Condition is one half of a KeywordQuery.
type Condition struct {
	Key   string
	Op    Operator
	Count int
}

// Conditions validates q and returns its active conditions with keys in
// keyword-count form.
func (q KeywordQuery) Conditions() ([]Condition, error) {
	var out []Condition
	add := func(ns keywords.Namespace, kw string, op Operator, count int) error {
		if kw == "" {
			return nil
		}
		if _, err := op.SQL(); err != nil {
			return err
		}
		out = append(out, Condition{Key: keywords.Key(ns, kw), Op: op, Count: count})
		return nil
	}
	if err := add(keywords.Input, q.InputKeyword, q.InputOp, q.InputCount); err != nil {
		return nil, err
	}
	if err := add(keywords.Output, q.OutputKeyword, q.OutputOp, q.OutputCount); err != nil {
		return nil, err
	}
	return out, nil
}

// EffectiveLimit returns the limit or DefaultSearchLimit.
func (q KeywordQuery) EffectiveLimit() int {
	return Limit(q.Limit)
}

// Limit returns n, or DefaultSearchLimit when n is not positive.
func Limit(n int) int {
	if n <= 0 {
		return DefaultSearchLimit
	}
	return n
}

// Run records one execution of a batch pass.
type Run struct {
	ID         string
	Pass       string
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Failed     int
	Skipped    int
	Unresolved int
	Err        string
}
