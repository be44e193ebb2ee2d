package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	topics     map[string]store.Topic // by topic_id
	posts      map[string]store.Post  // by post_id
	blueprints map[int64]store.Blueprint
	hashIndex  map[string]int64
	fts        map[int64]store.FTSEntry
	runs       []store.Run
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		nextID:     1,
		topics:     make(map[string]store.Topic),
		posts:      make(map[string]store.Post),
		blueprints: make(map[int64]store.Blueprint),
		hashIndex:  make(map[string]int64),
		fts:        make(map[int64]store.FTSEntry),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// UpsertTopic inserts or updates a topic keyed by topic ID.
func (s *Store) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.TopicID == "" {
		return 0, fmt.Errorf("%w: topic without topic_id", internalerr.ErrInvalidInput)
	}
	if existing, ok := s.topics[t.TopicID]; ok {
		t.ID = existing.ID
		t.Keywords = existing.Keywords
	} else {
		t.ID = s.allocID()
		t.Keywords = nil
	}
	t.Tags = copyStrings(t.Tags)
	s.topics[t.TopicID] = t
	return t.ID, nil
}

// UpsertPost inserts or updates a post keyed by post ID.
func (s *Store) UpsertPost(ctx context.Context, p store.Post) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PostID == "" {
		return 0, fmt.Errorf("%w: post without post_id", internalerr.ErrInvalidInput)
	}
	if existing, ok := s.posts[p.PostID]; ok {
		p.ID = existing.ID
	} else {
		p.ID = s.allocID()
	}
	s.posts[p.PostID] = p
	return p.ID, nil
}

// UpsertBlueprint inserts or updates a blueprint keyed by hash, keeping
// stored keywords.
func (s *Store) UpsertBlueprint(ctx context.Context, b store.Blueprint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Hash == "" {
		return 0, fmt.Errorf("%w: blueprint without hash", internalerr.ErrInvalidInput)
	}
	stored := store.Blueprint{
		URL:         b.URL,
		PostID:      b.PostID,
		Code:        b.Code,
		Hash:        b.Hash,
		Name:        b.Name,
		Description: b.Description,
	}
	if id, ok := s.hashIndex[b.Hash]; ok {
		prev := s.blueprints[id]
		stored.ID = id
		stored.Keywords = prev.Keywords
		stored.TopicKeywords = prev.TopicKeywords
	} else {
		stored.ID = s.allocID()
		s.hashIndex[b.Hash] = stored.ID
	}
	s.blueprints[stored.ID] = stored
	return stored.ID, nil
}

// Topics returns every topic ordered by ID.
func (s *Store) Topics(ctx context.Context) ([]store.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		t.Tags = copyStrings(t.Tags)
		t.Keywords = copyKeywordSets(t.Keywords)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Posts returns every post ordered by ID.
func (s *Store) Posts(ctx context.Context) ([]store.Post, error) {
	return s.filterPosts(func(store.Post) bool { return true }), nil
}

// PostsByTopicID returns the posts of one topic.
func (s *Store) PostsByTopicID(ctx context.Context, topicID string) ([]store.Post, error) {
	return s.filterPosts(func(p store.Post) bool { return p.TopicID == topicID }), nil
}

func (s *Store) filterPosts(keep func(store.Post) bool) []store.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Post
	for _, p := range s.posts {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllBlueprints returns every blueprint with post and topic context.
func (s *Store) AllBlueprints(ctx context.Context) ([]store.Blueprint, error) {
	return s.filterBlueprints(func(store.Blueprint) bool { return true }, 0), nil
}

// BlueprintsByPostID returns the blueprints of one post.
func (s *Store) BlueprintsByPostID(ctx context.Context, postID string) ([]store.Blueprint, error) {
	return s.filterBlueprints(func(b store.Blueprint) bool { return b.PostID == postID }, 0), nil
}

// GetBlueprint returns one blueprint or internalerr.ErrNotFound.
func (s *Store) GetBlueprint(ctx context.Context, id int64) (store.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blueprints[id]
	if !ok {
		return store.Blueprint{}, fmt.Errorf("%w: blueprint %d", internalerr.ErrNotFound, id)
	}
	return s.withContext(b), nil
}

func (s *Store) filterBlueprints(keep func(store.Blueprint) bool, limit int) []store.Blueprint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.blueprints))
	for id := range s.blueprints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []store.Blueprint
	for _, id := range ids {
		b := s.blueprints[id]
		if !keep(b) {
			continue
		}
		out = append(out, s.withContext(b))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// withContext copies b and fills in its post and topic fields. The read
// lock must be held.
func (s *Store) withContext(b store.Blueprint) store.Blueprint {
	b.Keywords = copyCounts(b.Keywords)
	b.TopicKeywords = copyKeywordSets(b.TopicKeywords)
	if p, ok := s.posts[b.PostID]; ok {
		b.TopicID = p.TopicID
		b.PostContent = p.Cooked
		b.CreatedAt = p.CreatedAt
		if t, ok := s.topics[p.TopicID]; ok {
			b.TopicTitle = t.Title
			b.Tags = copyStrings(t.Tags)
		}
	}
	return b
}

// UpdateBlueprintKeywords replaces the keyword counts of one blueprint.
func (s *Store) UpdateBlueprintKeywords(ctx context.Context, id int64, counts keywords.Counts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blueprints[id]
	if !ok {
		return fmt.Errorf("%w: blueprint %d", internalerr.ErrNotFound, id)
	}
	b.Keywords = copyCounts(counts)
	s.blueprints[id] = b
	return nil
}

// UpdateTopicKeywords stores a keyword set on the topic and its blueprints.
func (s *Store) UpdateTopicKeywords(ctx context.Context, topicID string, kw rank.TopicKeywords) error {
	if _, err := store.KeywordColumn(kw.Source); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[topicID]
	if !ok {
		return fmt.Errorf("%w: topic %s", internalerr.ErrNotFound, topicID)
	}
	kw.Terms = append([]rank.Term(nil), kw.Terms...)
	t.Keywords = store.SetTopicKeywords(copyKeywordSets(t.Keywords), kw)
	s.topics[topicID] = t

	for id, b := range s.blueprints {
		p, ok := s.posts[b.PostID]
		if !ok || p.TopicID != topicID {
			continue
		}
		b.TopicKeywords = store.SetTopicKeywords(copyKeywordSets(b.TopicKeywords), kw)
		s.blueprints[id] = b
	}
	return nil
}

// SearchByKeywordCount filters blueprints on stored keyword counts.
func (s *Store) SearchByKeywordCount(ctx context.Context, q store.KeywordQuery) ([]store.Blueprint, error) {
	conds, err := q.Conditions()
	if err != nil {
		return nil, err
	}
	keep := func(b store.Blueprint) bool {
		for _, c := range conds {
			have, ok := b.Keywords[c.Key]
			if !ok || !c.Op.Match(have, c.Count) {
				return false
			}
		}
		return true
	}
	return s.filterBlueprints(keep, q.EffectiveLimit()), nil
}

// UpsertBlueprintFTS replaces the full-text row of a blueprint.
func (s *Store) UpsertBlueprintFTS(ctx context.Context, e store.FTSEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fts[e.BlueprintID] = e
	return nil
}

// SearchFTS returns rows whose column holds every query word, ranked by
// how often the words occur.
func (s *Store) SearchFTS(ctx context.Context, column store.FTSColumn, query string, limit int) ([]store.SearchHit, error) {
	if !column.Valid() {
		return nil, fmt.Errorf("%w: column %q", internalerr.ErrInvalidInput, column)
	}
	words := tokenize(query)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty search query", internalerr.ErrInvalidInput)
	}
	return s.search(limit, func(e store.FTSEntry) float64 {
		return matchScore(columnText(e, column), words)
	}), nil
}

// SearchSections matches input text against trigger and condition, output
// text against actions. Either side matching is enough.
func (s *Store) SearchSections(ctx context.Context, inputQuery, outputQuery string, limit int) ([]store.SearchHit, error) {
	in, out := tokenize(inputQuery), tokenize(outputQuery)
	if len(in) == 0 && len(out) == 0 {
		return nil, fmt.Errorf("%w: empty section query", internalerr.ErrInvalidInput)
	}
	return s.search(limit, func(e store.FTSEntry) float64 {
		var score float64
		if len(in) > 0 {
			score += matchScore(e.Input, in)
		}
		if len(out) > 0 {
			score += matchScore(e.Action, out)
		}
		return score
	}), nil
}

func (s *Store) search(limit int, score func(store.FTSEntry) float64) []store.SearchHit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []store.SearchHit
	for _, e := range s.fts {
		r := score(e)
		if r <= 0 {
			continue
		}
		hits = append(hits, store.SearchHit{BlueprintID: e.BlueprintID, TopicTitle: e.TopicTitle, Code: e.Code, Rank: r})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Rank != hits[j].Rank {
			return hits[i].Rank > hits[j].Rank
		}
		return hits[i].BlueprintID < hits[j].BlueprintID
	})
	if n := store.Limit(limit); len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

// RecordRun keeps the run in memory.
func (s *Store) RecordRun(ctx context.Context, r store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

// Runs returns the recorded runs in order.
func (s *Store) Runs() []store.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Run(nil), s.runs...)
}

func columnText(e store.FTSEntry, column store.FTSColumn) string {
	for i, c := range store.FTSColumns {
		if c == column {
			return e.Values()[i].(string)
		}
	}
	return ""
}

// matchScore is 0 unless every word occurs in text, otherwise the total
// number of occurrences.
func matchScore(text string, words []string) float64 {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	total := 0
	for _, w := range words {
		if counts[w] == 0 {
			return 0
		}
		total += counts[w]
	}
	return float64(total)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyCounts(in keywords.Counts) keywords.Counts {
	if in == nil {
		return nil
	}
	out := make(keywords.Counts, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyKeywordSets(in map[rank.Source]rank.TopicKeywords) map[rank.Source]rank.TopicKeywords {
	if in == nil {
		return nil
	}
	out := make(map[rank.Source]rank.TopicKeywords, len(in))
	for k, v := range in {
		v.Terms = append([]rank.Term(nil), v.Terms...)
		out[k] = v
	}
	return out
}
