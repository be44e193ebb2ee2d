// Package postgres stores the blueprint corpus in PostgreSQL. Keyword columns
// are JSONB and full-text search uses tsvector ranking.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

// minRank drops weak tsvector matches.
const minRank = 0.001

type pgStore struct {
	db *sql.DB
}

// Open connects to dsn through the pgx driver and creates missing tables.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if err := InitSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &pgStore{db: db}, nil
}

// New wraps an open database whose schema is already in place.
func New(db *sql.DB) store.Store {
	return &pgStore{db: db}
}

func (s *pgStore) Close() error {
	return s.db.Close()
}

// InitSchema creates tables and adds keyword columns missing from older
// databases.
func InitSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id BIGSERIAL PRIMARY KEY,
	topic_id TEXT UNIQUE NOT NULL,
	topic_url TEXT,
	title TEXT,
	tags TEXT,
	keywords_yake JSONB,
	keywords_tfidf JSONB
);

CREATE TABLE IF NOT EXISTS posts (
	id BIGSERIAL PRIMARY KEY,
	post_id TEXT UNIQUE NOT NULL,
	topic_id TEXT REFERENCES topics(topic_id),
	post_url TEXT,
	username TEXT,
	cooked TEXT,
	created_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS blueprints (
	id BIGSERIAL PRIMARY KEY,
	blueprint_url TEXT,
	blueprint_code TEXT,
	blueprint_hash TEXT UNIQUE NOT NULL,
	post_id TEXT REFERENCES posts(post_id),
	name TEXT,
	description TEXT,
	extracted_keywords JSONB
);

ALTER TABLE blueprints ADD COLUMN IF NOT EXISTS topic_keywords JSONB;
ALTER TABLE blueprints ADD COLUMN IF NOT EXISTS keywords_yake JSONB;
ALTER TABLE blueprints ADD COLUMN IF NOT EXISTS keywords_tfidf JSONB;

CREATE TABLE IF NOT EXISTS blueprints_fts (
	blueprint_id BIGINT PRIMARY KEY,
	blueprint_code TEXT,
	topic_title TEXT,
	blueprint_expanded TEXT,
	blueprint_declaration TEXT,
	blueprint_trigger TEXT,
	blueprint_condition TEXT,
	blueprint_action TEXT,
	blueprint_input TEXT,
	post_content TEXT
);

CREATE TABLE IF NOT EXISTS keyword_runs (
	id TEXT PRIMARY KEY,
	pass TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	unresolved INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *pgStore) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	if t.TopicID == "" {
		return 0, fmt.Errorf("%w: topic without topic_id", internalerr.ErrInvalidInput)
	}
	const stmt = `
INSERT INTO topics (topic_id, topic_url, title, tags)
VALUES ($1, $2, $3, $4)
ON CONFLICT (topic_id) DO UPDATE SET
	topic_url = EXCLUDED.topic_url,
	title = EXCLUDED.title,
	tags = EXCLUDED.tags
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, stmt, t.TopicID, t.URL, t.Title, store.EncodeTags(t.Tags)).Scan(&id)
	return id, err
}

func (s *pgStore) UpsertPost(ctx context.Context, p store.Post) (int64, error) {
	if p.PostID == "" {
		return 0, fmt.Errorf("%w: post without post_id", internalerr.ErrInvalidInput)
	}
	const stmt = `
INSERT INTO posts (post_id, topic_id, post_url, username, cooked, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (post_id) DO UPDATE SET
	topic_id = EXCLUDED.topic_id,
	post_url = EXCLUDED.post_url,
	username = EXCLUDED.username,
	cooked = EXCLUDED.cooked,
	created_at = EXCLUDED.created_at
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, stmt,
		p.PostID, p.TopicID, p.URL, p.Username, p.Cooked, nullTime(p.CreatedAt),
	).Scan(&id)
	return id, err
}

func (s *pgStore) UpsertBlueprint(ctx context.Context, b store.Blueprint) (int64, error) {
	if b.Hash == "" {
		return 0, fmt.Errorf("%w: blueprint without hash", internalerr.ErrInvalidInput)
	}
	const stmt = `
INSERT INTO blueprints (blueprint_url, blueprint_code, blueprint_hash, post_id, name, description)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (blueprint_hash) DO UPDATE SET
	blueprint_url = EXCLUDED.blueprint_url,
	blueprint_code = EXCLUDED.blueprint_code,
	post_id = EXCLUDED.post_id,
	name = EXCLUDED.name,
	description = EXCLUDED.description
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, stmt, b.URL, b.Code, b.Hash, b.PostID, b.Name, b.Description).Scan(&id)
	return id, err
}

func (s *pgStore) Topics(ctx context.Context) ([]store.Topic, error) {
	const q = `
SELECT id, topic_id, COALESCE(topic_url, ''), COALESCE(title, ''), COALESCE(tags, ''),
	COALESCE(keywords_yake::text, ''), COALESCE(keywords_tfidf::text, '')
FROM topics
ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Topic
	for rows.Next() {
		var (
			t                 store.Topic
			tags, yake, tfidf string
		)
		if err := rows.Scan(&t.ID, &t.TopicID, &t.URL, &t.Title, &tags, &yake, &tfidf); err != nil {
			return nil, err
		}
		t.Tags = store.DecodeTags(tags)
		if t.Keywords, err = decodeKeywordSets(yake, tfidf); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const postColumns = `id, post_id, COALESCE(topic_id, ''), COALESCE(post_url, ''),
	COALESCE(username, ''), COALESCE(cooked, ''), created_at`

func (s *pgStore) Posts(ctx context.Context) ([]store.Post, error) {
	return s.queryPosts(ctx, "SELECT "+postColumns+" FROM posts ORDER BY id")
}

func (s *pgStore) PostsByTopicID(ctx context.Context, topicID string) ([]store.Post, error) {
	return s.queryPosts(ctx, "SELECT "+postColumns+" FROM posts WHERE topic_id = $1 ORDER BY id", topicID)
}

func (s *pgStore) queryPosts(ctx context.Context, query string, args ...any) ([]store.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Post
	for rows.Next() {
		var (
			p       store.Post
			created sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.PostID, &p.TopicID, &p.URL, &p.Username, &p.Cooked, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = created.Time
		out = append(out, p)
	}
	return out, rows.Err()
}

const blueprintQuery = `
SELECT b.id, COALESCE(b.blueprint_url, ''), COALESCE(b.post_id, ''), COALESCE(b.blueprint_code, ''),
	b.blueprint_hash, COALESCE(b.name, ''), COALESCE(b.description, ''),
	COALESCE(b.extracted_keywords::text, ''), COALESCE(b.keywords_yake::text, ''), COALESCE(b.keywords_tfidf::text, ''),
	COALESCE(p.topic_id, ''), COALESCE(t.title, ''), COALESCE(t.tags, ''),
	COALESCE(p.cooked, ''), p.created_at
FROM blueprints b
LEFT JOIN posts p ON p.post_id = b.post_id
LEFT JOIN topics t ON t.topic_id = p.topic_id`

func (s *pgStore) AllBlueprints(ctx context.Context) ([]store.Blueprint, error) {
	return s.queryBlueprints(ctx, blueprintQuery+" ORDER BY b.id")
}

func (s *pgStore) BlueprintsByPostID(ctx context.Context, postID string) ([]store.Blueprint, error) {
	return s.queryBlueprints(ctx, blueprintQuery+" WHERE b.post_id = $1 ORDER BY b.id", postID)
}

func (s *pgStore) GetBlueprint(ctx context.Context, id int64) (store.Blueprint, error) {
	bps, err := s.queryBlueprints(ctx, blueprintQuery+" WHERE b.id = $1", id)
	if err != nil {
		return store.Blueprint{}, err
	}
	if len(bps) == 0 {
		return store.Blueprint{}, fmt.Errorf("%w: blueprint %d", internalerr.ErrNotFound, id)
	}
	return bps[0], nil
}

func (s *pgStore) queryBlueprints(ctx context.Context, query string, args ...any) ([]store.Blueprint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Blueprint
	for rows.Next() {
		var (
			b                         store.Blueprint
			counts, yake, tfidf, tags string
			created                   sql.NullTime
		)
		err := rows.Scan(
			&b.ID, &b.URL, &b.PostID, &b.Code, &b.Hash, &b.Name, &b.Description,
			&counts, &yake, &tfidf,
			&b.TopicID, &b.TopicTitle, &tags, &b.PostContent, &created,
		)
		if err != nil {
			return nil, err
		}
		if b.Keywords, err = store.DecodeCounts([]byte(counts)); err != nil {
			return nil, fmt.Errorf("blueprint %d: %w", b.ID, err)
		}
		if b.TopicKeywords, err = decodeKeywordSets(yake, tfidf); err != nil {
			return nil, fmt.Errorf("blueprint %d: %w", b.ID, err)
		}
		b.Tags = store.DecodeTags(tags)
		b.CreatedAt = created.Time
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateBlueprintKeywords(ctx context.Context, id int64, counts keywords.Counts) error {
	data, err := store.EncodeCounts(counts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE blueprints SET extracted_keywords = $1::jsonb WHERE id = $2", nullJSON(data), id)
	if err != nil {
		return err
	}
	return expectRow(res, "blueprint", id)
}

func (s *pgStore) UpdateTopicKeywords(ctx context.Context, topicID string, kw rank.TopicKeywords) error {
	col, err := store.KeywordColumn(kw.Source)
	if err != nil {
		return err
	}
	data, err := kw.MarshalJSON()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE topics SET "+col+" = $1::jsonb WHERE topic_id = $2", string(data), topicID)
	if err != nil {
		return err
	}
	if err := expectRow(res, "topic", topicID); err != nil {
		return err
	}

	propagate := "UPDATE blueprints SET " + col + " = $1::jsonb, topic_keywords = $1::jsonb " +
		"WHERE post_id IN (SELECT post_id FROM posts WHERE topic_id = $2)"
	if _, err := tx.ExecContext(ctx, propagate, string(data), topicID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgStore) SearchByKeywordCount(ctx context.Context, q store.KeywordQuery) ([]store.Blueprint, error) {
	conds, err := q.Conditions()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	for _, c := range conds {
		op, _ := c.Op.SQL()
		where = append(where, fmt.Sprintf("(b.extracted_keywords->>$%d)::int %s $%d", len(args)+1, op, len(args)+2))
		args = append(args, c.Key, c.Count)
	}

	query := blueprintQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY b.id LIMIT $%d", len(args)+1)
	args = append(args, q.EffectiveLimit())
	return s.queryBlueprints(ctx, query, args...)
}

func (s *pgStore) UpsertBlueprintFTS(ctx context.Context, e store.FTSEntry) error {
	cols := make([]string, len(store.FTSColumns))
	sets := make([]string, len(store.FTSColumns))
	marks := make([]string, len(store.FTSColumns))
	for i, c := range store.FTSColumns {
		cols[i] = string(c)
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		marks[i] = fmt.Sprintf("$%d", i+2)
	}
	stmt := fmt.Sprintf(
		"INSERT INTO blueprints_fts (blueprint_id, %s) VALUES ($1, %s) ON CONFLICT (blueprint_id) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(sets, ", "),
	)
	args := append([]any{e.BlueprintID}, e.Values()...)
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

func tsMatch(column store.FTSColumn, param int) (match, score string) {
	vec := fmt.Sprintf("to_tsvector('english', COALESCE(%s, ''))", column)
	query := fmt.Sprintf("plainto_tsquery('english', $%d)", param)
	return vec + " @@ " + query, "ts_rank(" + vec + ", " + query + ")"
}

func (s *pgStore) SearchFTS(ctx context.Context, column store.FTSColumn, query string, limit int) ([]store.SearchHit, error) {
	if !column.Valid() {
		return nil, fmt.Errorf("%w: column %q", internalerr.ErrInvalidInput, column)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty search query", internalerr.ErrInvalidInput)
	}
	match, score := tsMatch(column, 1)
	q := fmt.Sprintf(`
SELECT blueprint_id, COALESCE(topic_title, ''), COALESCE(blueprint_code, ''), %s AS rank
FROM blueprints_fts
WHERE %s
ORDER BY rank DESC
LIMIT $2`, score, match)
	return s.queryHits(ctx, q, query, store.Limit(limit))
}

func (s *pgStore) SearchSections(ctx context.Context, inputQuery, outputQuery string, limit int) ([]store.SearchHit, error) {
	var (
		matches, scores []string
		args            []any
	)
	add := func(column store.FTSColumn, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		args = append(args, text)
		m, sc := tsMatch(column, len(args))
		matches = append(matches, m)
		scores = append(scores, sc)
	}
	add(store.ColumnInput, inputQuery)
	add(store.ColumnAction, outputQuery)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: empty section query", internalerr.ErrInvalidInput)
	}

	q := fmt.Sprintf(`
SELECT blueprint_id, COALESCE(topic_title, ''), COALESCE(blueprint_code, ''), %s AS rank
FROM blueprints_fts
WHERE %s
ORDER BY rank DESC
LIMIT $%d`, strings.Join(scores, " + "), strings.Join(matches, " OR "), len(args)+1)
	args = append(args, store.Limit(limit))
	return s.queryHits(ctx, q, args...)
}

func (s *pgStore) queryHits(ctx context.Context, query string, args ...any) ([]store.SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SearchHit
	for rows.Next() {
		var h store.SearchHit
		if err := rows.Scan(&h.BlueprintID, &h.TopicTitle, &h.Code, &h.Rank); err != nil {
			return nil, err
		}
		if h.Rank < minRank {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *pgStore) RecordRun(ctx context.Context, r store.Run) error {
	const stmt = `
INSERT INTO keyword_runs (id, pass, started_at, finished_at, processed, failed, skipped, unresolved, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, stmt,
		r.ID, r.Pass, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		r.Processed, r.Failed, r.Skipped, r.Unresolved, r.Err,
	)
	return err
}

func decodeKeywordSets(yake, tfidf string) (map[rank.Source]rank.TopicKeywords, error) {
	var out map[rank.Source]rank.TopicKeywords
	for _, src := range []struct {
		source rank.Source
		data   string
	}{{rank.SourceYAKE, yake}, {rank.SourceTFIDF, tfidf}} {
		kw, ok, err := store.DecodeTopicKeywords(src.source, []byte(src.data))
		if err != nil {
			return nil, err
		}
		if ok {
			out = store.SetTopicKeywords(out, kw)
		}
	}
	return out, nil
}

func expectRow(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", internalerr.ErrNotFound, kind, id)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func nullJSON(data []byte) sql.NullString {
	return sql.NullString{String: string(data), Valid: data != nil}
}
