package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled, creates missing
// tables and adds keyword columns that older databases lack.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", withPragmas(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateKeywordColumns(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// withPragmas adds WAL mode and foreign key enforcement to the DSN. The
// driver applies DSN pragmas to every pooled connection, a PRAGMA statement
// only to the connection that ran it.
func withPragmas(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id TEXT UNIQUE NOT NULL,
	topic_url TEXT,
	title TEXT,
	tags TEXT,
	keywords_yake TEXT,
	keywords_tfidf TEXT
);

CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id TEXT UNIQUE NOT NULL,
	topic_id TEXT,
	post_url TEXT,
	username TEXT,
	cooked TEXT,
	created_at TEXT,
	FOREIGN KEY(topic_id) REFERENCES topics(topic_id)
);

CREATE INDEX IF NOT EXISTS posts_topic_id ON posts(topic_id);

CREATE TABLE IF NOT EXISTS blueprints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	blueprint_url TEXT,
	blueprint_code TEXT,
	blueprint_hash TEXT UNIQUE NOT NULL,
	post_id TEXT,
	name TEXT,
	description TEXT,
	extracted_keywords TEXT,
	FOREIGN KEY(post_id) REFERENCES posts(post_id)
);

CREATE INDEX IF NOT EXISTS blueprints_post_id ON blueprints(post_id);

CREATE VIRTUAL TABLE IF NOT EXISTS blueprints_fts USING fts5(
	blueprint_id UNINDEXED,
	blueprint_code,
	topic_title,
	blueprint_expanded,
	blueprint_declaration,
	blueprint_trigger,
	blueprint_condition,
	blueprint_action,
	blueprint_input,
	post_content
);

CREATE TABLE IF NOT EXISTS keyword_runs (
	id TEXT PRIMARY KEY,
	pass TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	unresolved INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// keyword columns added to blueprints after the first schema version
var keywordColumns = []string{"topic_keywords", "keywords_yake", "keywords_tfidf"}

func migrateKeywordColumns(ctx context.Context, db *sql.DB) error {
	have, err := tableColumns(ctx, db, "blueprints")
	if err != nil {
		return err
	}
	for _, col := range keywordColumns {
		if have[col] {
			continue
		}
		if _, err := db.ExecContext(ctx, "ALTER TABLE blueprints ADD COLUMN "+col+" TEXT"); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// UpsertTopic inserts or updates a topic keyed by its forum topic ID.
func (s *sqliteStore) UpsertTopic(ctx context.Context, t store.Topic) (int64, error) {
	if t.TopicID == "" {
		return 0, fmt.Errorf("%w: topic without topic_id", internalerr.ErrInvalidInput)
	}
	const stmt = `
INSERT INTO topics (topic_id, topic_url, title, tags)
VALUES (?, ?, ?, ?)
ON CONFLICT(topic_id) DO UPDATE SET
	topic_url=excluded.topic_url,
	title=excluded.title,
	tags=excluded.tags
RETURNING id;
`
	var id int64
	err := s.db.QueryRowContext(ctx, stmt, t.TopicID, t.URL, t.Title, store.EncodeTags(t.Tags)).Scan(&id)
	return id, err
}

// UpsertPost inserts or updates a post keyed by its forum post ID.
func (s *sqliteStore) UpsertPost(ctx context.Context, p store.Post) (int64, error) {
	if p.PostID == "" {
		return 0, fmt.Errorf("%w: post without post_id", internalerr.ErrInvalidInput)
	}
	const stmt = `
INSERT INTO posts (post_id, topic_id, post_url, username, cooked, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(post_id) DO UPDATE SET
	topic_id=excluded.topic_id,
	post_url=excluded.post_url,
	username=excluded.username,
	cooked=excluded.cooked,
	created_at=excluded.created_at
RETURNING id;
`
	var id int64
	err := s.db.QueryRowContext(ctx, stmt,
		p.PostID, p.TopicID, p.URL, p.Username, p.Cooked, formatTime(p.CreatedAt),
	).Scan(&id)
	return id, err
}

// UpsertBlueprint inserts or updates a blueprint keyed by its code hash.
// Stored keyword columns are left untouched.
func (s *sqliteStore) UpsertBlueprint(ctx context.Context, b store.Blueprint) (int64, error) {
	if b.Hash == "" {
		return 0, fmt.Errorf("%w: blueprint without hash", internalerr.ErrInvalidInput)
	}
	const stmt = `
INSERT INTO blueprints (blueprint_url, blueprint_code, blueprint_hash, post_id, name, description)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(blueprint_hash) DO UPDATE SET
	blueprint_url=excluded.blueprint_url,
	blueprint_code=excluded.blueprint_code,
	post_id=excluded.post_id,
	name=excluded.name,
	description=excluded.description
RETURNING id;
`
	var id int64
	err := s.db.QueryRowContext(ctx, stmt,
		b.URL, b.Code, b.Hash, b.PostID, b.Name, b.Description,
	).Scan(&id)
	return id, err
}

// Topics returns every topic in insertion order.
func (s *sqliteStore) Topics(ctx context.Context) ([]store.Topic, error) {
	const q = `
SELECT id, topic_id, COALESCE(topic_url, ''), COALESCE(title, ''), COALESCE(tags, ''),
	COALESCE(keywords_yake, ''), COALESCE(keywords_tfidf, '')
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
	COALESCE(username, ''), COALESCE(cooked, ''), COALESCE(created_at, '')`

// Posts returns every post in insertion order.
func (s *sqliteStore) Posts(ctx context.Context) ([]store.Post, error) {
	return s.queryPosts(ctx, "SELECT "+postColumns+" FROM posts ORDER BY id")
}

// PostsByTopicID returns the posts of one topic.
func (s *sqliteStore) PostsByTopicID(ctx context.Context, topicID string) ([]store.Post, error) {
	return s.queryPosts(ctx, "SELECT "+postColumns+" FROM posts WHERE topic_id = ? ORDER BY id", topicID)
}

func (s *sqliteStore) queryPosts(ctx context.Context, query string, args ...any) ([]store.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Post
	for rows.Next() {
		var (
			p       store.Post
			created string
		)
		if err := rows.Scan(&p.ID, &p.PostID, &p.TopicID, &p.URL, &p.Username, &p.Cooked, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

const blueprintQuery = `
SELECT b.id, COALESCE(b.blueprint_url, ''), COALESCE(b.post_id, ''), COALESCE(b.blueprint_code, ''),
	b.blueprint_hash, COALESCE(b.name, ''), COALESCE(b.description, ''),
	COALESCE(b.extracted_keywords, ''), COALESCE(b.keywords_yake, ''), COALESCE(b.keywords_tfidf, ''),
	COALESCE(p.topic_id, ''), COALESCE(t.title, ''), COALESCE(t.tags, ''),
	COALESCE(p.cooked, ''), COALESCE(p.created_at, '')
FROM blueprints b
LEFT JOIN posts p ON p.post_id = b.post_id
LEFT JOIN topics t ON t.topic_id = p.topic_id`

// AllBlueprints returns every blueprint with its post and topic context.
func (s *sqliteStore) AllBlueprints(ctx context.Context) ([]store.Blueprint, error) {
	return s.queryBlueprints(ctx, blueprintQuery+" ORDER BY b.id")
}

// BlueprintsByPostID returns the blueprints posted in one post.
func (s *sqliteStore) BlueprintsByPostID(ctx context.Context, postID string) ([]store.Blueprint, error) {
	return s.queryBlueprints(ctx, blueprintQuery+" WHERE b.post_id = ? ORDER BY b.id", postID)
}

// GetBlueprint returns one blueprint or internalerr.ErrNotFound.
func (s *sqliteStore) GetBlueprint(ctx context.Context, id int64) (store.Blueprint, error) {
	bps, err := s.queryBlueprints(ctx, blueprintQuery+" WHERE b.id = ?", id)
	if err != nil {
		return store.Blueprint{}, err
	}
	if len(bps) == 0 {
		return store.Blueprint{}, fmt.Errorf("%w: blueprint %d", internalerr.ErrNotFound, id)
	}
	return bps[0], nil
}

func (s *sqliteStore) queryBlueprints(ctx context.Context, query string, args ...any) ([]store.Blueprint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Blueprint
	for rows.Next() {
		var (
			b                               store.Blueprint
			counts, yake, tfidf, tags, when string
		)
		err := rows.Scan(
			&b.ID, &b.URL, &b.PostID, &b.Code, &b.Hash, &b.Name, &b.Description,
			&counts, &yake, &tfidf,
			&b.TopicID, &b.TopicTitle, &tags, &b.PostContent, &when,
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
		b.CreatedAt = parseTime(when)
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBlueprintKeywords replaces the keyword counts of one blueprint.
func (s *sqliteStore) UpdateBlueprintKeywords(ctx context.Context, id int64, counts keywords.Counts) error {
	data, err := store.EncodeCounts(counts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE blueprints SET extracted_keywords = ? WHERE id = ?", string(data), id)
	if err != nil {
		return err
	}
	return expectRow(res, "blueprint", id)
}

// UpdateTopicKeywords stores a topic keyword set on the topic and on every
// blueprint posted in it.
func (s *sqliteStore) UpdateTopicKeywords(ctx context.Context, topicID string, kw rank.TopicKeywords) error {
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

	res, err := tx.ExecContext(ctx, "UPDATE topics SET "+col+" = ? WHERE topic_id = ?", string(data), topicID)
	if err != nil {
		return err
	}
	if err := expectRow(res, "topic", topicID); err != nil {
		return err
	}

	const propagate = `
UPDATE blueprints SET %s = ?, topic_keywords = ?
WHERE post_id IN (SELECT post_id FROM posts WHERE topic_id = ?)`
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(propagate, col), string(data), string(data), topicID); err != nil {
		return err
	}
	return tx.Commit()
}

// SearchByKeywordCount filters blueprints on their stored keyword counts.
// Blueprints lacking a queried keyword never match.
func (s *sqliteStore) SearchByKeywordCount(ctx context.Context, q store.KeywordQuery) ([]store.Blueprint, error) {
	conds, err := q.Conditions()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	for _, c := range conds {
		if strings.ContainsAny(c.Key, `"\`) {
			return nil, fmt.Errorf("%w: keyword %q", internalerr.ErrInvalidInput, c.Key)
		}
		op, _ := c.Op.SQL()
		where = append(where, "CAST(json_extract(b.extracted_keywords, ?) AS INTEGER) "+op+" ?")
		args = append(args, `$."`+c.Key+`"`, c.Count)
	}

	query := blueprintQuery
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.id LIMIT ?"
	args = append(args, q.EffectiveLimit())
	return s.queryBlueprints(ctx, query, args...)
}

// UpsertBlueprintFTS replaces the full-text row of a blueprint.
func (s *sqliteStore) UpsertBlueprintFTS(ctx context.Context, e store.FTSEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM blueprints_fts WHERE blueprint_id = ?", e.BlueprintID); err != nil {
		return err
	}

	cols := make([]string, len(store.FTSColumns))
	for i, c := range store.FTSColumns {
		cols[i] = string(c)
	}
	stmt := fmt.Sprintf("INSERT INTO blueprints_fts (blueprint_id, %s) VALUES (?%s)",
		strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)))
	args := append([]any{e.BlueprintID}, e.Values()...)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return err
	}
	return tx.Commit()
}

const searchQuery = `
SELECT blueprint_id, topic_title, blueprint_code, rank
FROM blueprints_fts
WHERE blueprints_fts MATCH ?
ORDER BY rank
LIMIT ?`

// SearchFTS matches every word of query against one column, best first.
func (s *sqliteStore) SearchFTS(ctx context.Context, column store.FTSColumn, query string, limit int) ([]store.SearchHit, error) {
	if !column.Valid() {
		return nil, fmt.Errorf("%w: column %q", internalerr.ErrInvalidInput, column)
	}
	expr, err := matchExpr(query)
	if err != nil {
		return nil, err
	}
	return s.queryHits(ctx, searchQuery, string(column)+" : ("+expr+")", store.Limit(limit))
}

// SearchSections matches the input query against trigger and condition text
// and the output query against action text. A blueprint matching either
// side is returned.
func (s *sqliteStore) SearchSections(ctx context.Context, inputQuery, outputQuery string, limit int) ([]store.SearchHit, error) {
	var parts []string
	if strings.TrimSpace(inputQuery) != "" {
		expr, err := matchExpr(inputQuery)
		if err != nil {
			return nil, err
		}
		parts = append(parts, string(store.ColumnInput)+" : ("+expr+")")
	}
	if strings.TrimSpace(outputQuery) != "" {
		expr, err := matchExpr(outputQuery)
		if err != nil {
			return nil, err
		}
		parts = append(parts, string(store.ColumnAction)+" : ("+expr+")")
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty section query", internalerr.ErrInvalidInput)
	}
	return s.queryHits(ctx, searchQuery, strings.Join(parts, " OR "), store.Limit(limit))
}

func (s *sqliteStore) queryHits(ctx context.Context, query string, args ...any) ([]store.SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.SearchHit
	for rows.Next() {
		var (
			h    store.SearchHit
			bm25 float64
		)
		if err := rows.Scan(&h.BlueprintID, &h.TopicTitle, &h.Code, &bm25); err != nil {
			return nil, err
		}
		// bm25 is negative, lower is better
		h.Rank = -bm25
		out = append(out, h)
	}
	return out, rows.Err()
}

// matchExpr turns free text into an FTS5 expression requiring every word.
func matchExpr(text string) (string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", fmt.Errorf("%w: empty search query", internalerr.ErrInvalidInput)
	}
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " "), nil
}

// RecordRun stores the outcome of a batch pass.
func (s *sqliteStore) RecordRun(ctx context.Context, r store.Run) error {
	const stmt = `
INSERT INTO keyword_runs (id, pass, started_at, finished_at, processed, failed, skipped, unresolved, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		r.ID, r.Pass, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.Processed, r.Failed, r.Skipped, r.Unresolved, r.Err,
	)
	return err
}

func decodeKeywordSets(yake, tfidf string) (map[rank.Source]rank.TopicKeywords, error) {
	var out map[rank.Source]rank.TopicKeywords
	for source, data := range map[rank.Source]string{rank.SourceYAKE: yake, rank.SourceTFIDF: tfidf} {
		kw, ok, err := store.DecodeTopicKeywords(source, []byte(data))
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

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
