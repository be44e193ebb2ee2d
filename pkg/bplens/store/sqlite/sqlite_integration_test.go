package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// seed inserts one topic with one post carrying two blueprints.
func seed(t *testing.T, st store.Store) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.UpsertTopic(ctx, store.Topic{TopicID: "t1", Title: "Motion light", Tags: []string{"lights", "zha"}}); err != nil {
		t.Fatalf("UpsertTopic: %v", err)
	}
	post := store.Post{
		PostID:    "p1",
		TopicID:   "t1",
		Cooked:    "<p>Turns on the light</p>",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if _, err := st.UpsertPost(ctx, post); err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
	a, err := st.UpsertBlueprint(ctx, store.Blueprint{PostID: "p1", Code: "a: 1", Hash: "h1", Name: "A"})
	if err != nil {
		t.Fatalf("UpsertBlueprint: %v", err)
	}
	b, err := st.UpsertBlueprint(ctx, store.Blueprint{PostID: "p1", Code: "b: 2", Hash: "h2", Name: "B"})
	if err != nil {
		t.Fatalf("UpsertBlueprint: %v", err)
	}
	return a, b
}

func TestSQLiteCorpusRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	a, _ := seed(t, st)

	topics, err := st.Topics(ctx)
	if err != nil {
		t.Fatalf("Topics: %v", err)
	}
	if len(topics) != 1 || topics[0].Title != "Motion light" || len(topics[0].Tags) != 2 {
		t.Fatalf("unexpected topics %+v", topics)
	}

	posts, err := st.PostsByTopicID(ctx, "t1")
	if err != nil {
		t.Fatalf("PostsByTopicID: %v", err)
	}
	if len(posts) != 1 || posts[0].CreatedAt.Year() != 2024 {
		t.Fatalf("unexpected posts %+v", posts)
	}

	bps, err := st.BlueprintsByPostID(ctx, "p1")
	if err != nil {
		t.Fatalf("BlueprintsByPostID: %v", err)
	}
	if len(bps) != 2 {
		t.Fatalf("expected 2 blueprints, got %d", len(bps))
	}
	if bps[0].TopicID != "t1" || bps[0].TopicTitle != "Motion light" || bps[0].PostContent == "" {
		t.Errorf("blueprint missing topic context: %+v", bps[0])
	}
	if bps[0].Keywords != nil {
		t.Errorf("keywords should be nil before extraction, got %v", bps[0].Keywords)
	}

	got, err := st.GetBlueprint(ctx, a)
	if err != nil || got.Name != "A" {
		t.Fatalf("GetBlueprint: %+v, %v", got, err)
	}
	if _, err := st.GetBlueprint(ctx, 999); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteUpsertDedupesByHash(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	a, _ := seed(t, st)

	again, err := st.UpsertBlueprint(ctx, store.Blueprint{PostID: "p1", Code: "a: 1", Hash: "h1", Name: "A renamed"})
	if err != nil {
		t.Fatal(err)
	}
	if again != a {
		t.Fatalf("expected same id %d, got %d", a, again)
	}
	all, err := st.AllBlueprints(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "A renamed" {
		t.Fatalf("unexpected blueprints %+v", all)
	}

	if _, err := st.UpsertBlueprint(ctx, store.Blueprint{Code: "x"}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing hash, got %v", err)
	}
}

func TestSQLiteKeywordCounts(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	a, b := seed(t, st)

	if err := st.UpdateBlueprintKeywords(ctx, a, keywords.Counts{"input__state": 2, "output__light_turn_on": 1}); err != nil {
		t.Fatalf("UpdateBlueprintKeywords: %v", err)
	}
	if err := st.UpdateBlueprintKeywords(ctx, b, keywords.Counts{"input__state": 1}); err != nil {
		t.Fatalf("UpdateBlueprintKeywords: %v", err)
	}
	if err := st.UpdateBlueprintKeywords(ctx, 999, keywords.Counts{}); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := st.GetBlueprint(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if got.Keywords["input__state"] != 2 {
		t.Errorf("counts not stored: %v", got.Keywords)
	}

	tests := []struct {
		name string
		q    store.KeywordQuery
		want int
	}{
		{"greater", store.KeywordQuery{InputKeyword: "state", InputOp: store.OpGreater, InputCount: 1}, 1},
		{"equal", store.KeywordQuery{InputKeyword: "state", InputOp: store.OpEqual, InputCount: 1}, 1},
		{"less", store.KeywordQuery{InputKeyword: "state", InputOp: store.OpLess, InputCount: 3}, 2},
		{"both", store.KeywordQuery{
			InputKeyword: "state", InputOp: store.OpGreater, InputCount: 0,
			OutputKeyword: "light_turn_on", OutputOp: store.OpEqual, OutputCount: 1,
		}, 1},
		{"missing keyword never matches", store.KeywordQuery{OutputKeyword: "notify", OutputOp: store.OpLess, OutputCount: 5}, 0},
		{"no conditions", store.KeywordQuery{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.SearchByKeywordCount(ctx, tt.q)
			if err != nil {
				t.Fatalf("SearchByKeywordCount: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d results, got %d", tt.want, len(got))
			}
		})
	}

	bad := store.KeywordQuery{InputKeyword: "state", InputOp: ">="}
	if _, err := st.SearchByKeywordCount(ctx, bad); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad operator, got %v", err)
	}
}

func TestSQLiteTopicKeywordsPropagate(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	a, b := seed(t, st)

	kw := rank.TopicKeywords{Source: rank.SourceYAKE, Terms: []rank.Term{{Term: "motion", Score: 0.02}, {Term: "sensor", Score: 0.05}}}
	if err := st.UpdateTopicKeywords(ctx, "t1", kw); err != nil {
		t.Fatalf("UpdateTopicKeywords: %v", err)
	}

	topics, err := st.Topics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := topics[0].Keywords[rank.SourceYAKE].Strings(); len(got) != 2 || got[0] != "motion" {
		t.Errorf("topic keywords not stored: %v", topics[0].Keywords)
	}

	for _, id := range []int64{a, b} {
		bp, err := st.GetBlueprint(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(bp.TopicKeywords[rank.SourceYAKE].Terms) != 2 {
			t.Errorf("blueprint %d missing topic keywords: %v", id, bp.TopicKeywords)
		}
		if _, ok := bp.TopicKeywords[rank.SourceTFIDF]; ok {
			t.Errorf("blueprint %d has unexpected tfidf keywords", id)
		}
	}

	if err := st.UpdateTopicKeywords(ctx, "nope", kw); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.UpdateTopicKeywords(ctx, "t1", rank.TopicKeywords{Source: "bm25"}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown source, got %v", err)
	}
}

func TestSQLiteFullTextSearch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	a, b := seed(t, st)

	entries := []store.FTSEntry{
		{BlueprintID: a, TopicTitle: "Motion light", Expanded: "motion sensor turns light on", Trigger: "state motion", Input: "state motion", Action: "light turn_on"},
		{BlueprintID: b, TopicTitle: "Door notify", Expanded: "door opened send notification", Trigger: "state door", Input: "state door", Action: "notify mobile_app"},
	}
	for _, e := range entries {
		if err := st.UpsertBlueprintFTS(ctx, e); err != nil {
			t.Fatalf("UpsertBlueprintFTS: %v", err)
		}
	}
	// replacing a row must not duplicate it
	if err := st.UpsertBlueprintFTS(ctx, entries[0]); err != nil {
		t.Fatal(err)
	}

	hits, err := st.SearchFTS(ctx, store.ColumnExpanded, "motion light", 0)
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(hits) != 1 || hits[0].BlueprintID != a {
		t.Fatalf("unexpected hits %+v", hits)
	}

	hits, err = st.SearchSections(ctx, "door", "light", 10)
	if err != nil {
		t.Fatalf("SearchSections: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected both blueprints, got %+v", hits)
	}

	hits, err = st.SearchSections(ctx, "", "notify", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].BlueprintID != b {
		t.Fatalf("unexpected output-only hits %+v", hits)
	}

	if _, err := st.SearchFTS(ctx, "rank", "x", 1); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown column, got %v", err)
	}
	if _, err := st.SearchSections(ctx, " ", "", 1); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty query, got %v", err)
	}
}

func TestSQLiteRecordRun(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	st, err := OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	now := time.Now()
	run := store.Run{ID: "01HZX", Pass: "keywords", StartedAt: now, FinishedAt: now.Add(time.Second), Processed: 3, Failed: 1}
	if err := st.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var processed, failed int
	if err := db.QueryRowContext(ctx, "SELECT processed, failed FROM keyword_runs WHERE id = ?", "01HZX").Scan(&processed, &failed); err != nil {
		t.Fatal(err)
	}
	if processed != 3 || failed != 1 {
		t.Errorf("unexpected run row %d/%d", processed, failed)
	}
}

func TestSQLiteForeignKeysOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t).(*sqliteStore)

	// Hold two connections at once so the pool must open a second one.
	first, err := st.db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := st.db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	for i, conn := range []*sql.Conn{first, second} {
		var on int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatal(err)
		}
		if on != 1 {
			t.Errorf("connection %d: foreign_keys = %d", i, on)
		}
	}

	_, err = second.ExecContext(ctx,
		`INSERT INTO posts (post_id, topic_id, cooked) VALUES ('orphan', 'no-such-topic', '')`)
	if err == nil {
		t.Fatal("post referencing a missing topic was accepted")
	}
}

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"bp.db", "bp.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"},
		{"file:bp.db?cache=shared", "file:bp.db?cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		if got := withPragmas(tt.path); got != tt.want {
			t.Errorf("withPragmas(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
