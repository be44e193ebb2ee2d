package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

func seeded(t *testing.T) (*Store, int64, int64) {
	t.Helper()
	ctx := context.Background()
	s := New()
	if _, err := s.UpsertTopic(ctx, store.Topic{TopicID: "t1", Title: "Doorbell", Tags: []string{"zha"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPost(ctx, store.Post{PostID: "p1", TopicID: "t1", Cooked: "<p>ring</p>"}); err != nil {
		t.Fatal(err)
	}
	a, err := s.UpsertBlueprint(ctx, store.Blueprint{PostID: "p1", Hash: "h1", Code: "a: 1"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.UpsertBlueprint(ctx, store.Blueprint{PostID: "p1", Hash: "h2", Code: "b: 1"})
	if err != nil {
		t.Fatal(err)
	}
	return s, a, b
}

func TestBlueprintContextAndCopies(t *testing.T) {
	ctx := context.Background()
	s, a, _ := seeded(t)

	if err := s.UpdateBlueprintKeywords(ctx, a, keywords.Counts{"input__state": 1}); err != nil {
		t.Fatal(err)
	}
	bp, err := s.GetBlueprint(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if bp.TopicTitle != "Doorbell" || bp.TopicID != "t1" || len(bp.Tags) != 1 {
		t.Fatalf("missing context: %+v", bp)
	}

	bp.Keywords["input__state"] = 99
	again, _ := s.GetBlueprint(ctx, a)
	if again.Keywords["input__state"] != 1 {
		t.Fatal("store leaked internal keyword map")
	}

	if _, err := s.GetBlueprint(ctx, 42); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertKeepsKeywords(t *testing.T) {
	ctx := context.Background()
	s, a, _ := seeded(t)
	if err := s.UpdateBlueprintKeywords(ctx, a, keywords.Counts{"output__notify": 2}); err != nil {
		t.Fatal(err)
	}
	id, err := s.UpsertBlueprint(ctx, store.Blueprint{PostID: "p1", Hash: "h1", Code: "a: 1", Name: "renamed"})
	if err != nil || id != a {
		t.Fatalf("expected id %d, got %d (%v)", a, id, err)
	}
	bp, _ := s.GetBlueprint(ctx, a)
	if bp.Name != "renamed" || bp.Keywords["output__notify"] != 2 {
		t.Fatalf("unexpected blueprint after re-import: %+v", bp)
	}
}

func TestTopicKeywordsPropagate(t *testing.T) {
	ctx := context.Background()
	s, a, b := seeded(t)

	kw := rank.TopicKeywords{Source: rank.SourceTFIDF, Terms: []rank.Term{{Term: "doorbell", Score: 0.8}}}
	if err := s.UpdateTopicKeywords(ctx, "t1", kw); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{a, b} {
		bp, _ := s.GetBlueprint(ctx, id)
		if got := bp.TopicKeywords[rank.SourceTFIDF].Strings(); len(got) != 1 || got[0] != "doorbell" {
			t.Errorf("blueprint %d: unexpected topic keywords %v", id, bp.TopicKeywords)
		}
	}
	topics, _ := s.Topics(ctx)
	if _, ok := topics[0].Keywords[rank.SourceTFIDF]; !ok {
		t.Error("topic keywords not stored on topic")
	}
	if err := s.UpdateTopicKeywords(ctx, "missing", kw); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchByKeywordCount(t *testing.T) {
	ctx := context.Background()
	s, a, b := seeded(t)
	_ = s.UpdateBlueprintKeywords(ctx, a, keywords.Counts{"input__state": 3, "output__notify": 1})
	_ = s.UpdateBlueprintKeywords(ctx, b, keywords.Counts{"input__state": 1})

	got, err := s.SearchByKeywordCount(ctx, store.KeywordQuery{InputKeyword: "state", InputOp: store.OpGreater, InputCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("unexpected results %+v", got)
	}
	got, _ = s.SearchByKeywordCount(ctx, store.KeywordQuery{OutputKeyword: "notify", OutputOp: store.OpLess, OutputCount: 5})
	if len(got) != 1 {
		t.Fatalf("blueprint without the keyword must not match, got %d results", len(got))
	}
	if _, err := s.SearchByKeywordCount(ctx, store.KeywordQuery{InputKeyword: "x", InputOp: "!="}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSearchFTS(t *testing.T) {
	ctx := context.Background()
	s, a, b := seeded(t)
	_ = s.UpsertBlueprintFTS(ctx, store.FTSEntry{BlueprintID: a, Expanded: "motion light motion", Input: "state motion", Action: "light.turn_on"})
	_ = s.UpsertBlueprintFTS(ctx, store.FTSEntry{BlueprintID: b, Expanded: "motion door", Input: "state door", Action: "notify.mobile_app"})

	hits, err := s.SearchFTS(ctx, store.ColumnExpanded, "Motion", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].BlueprintID != a {
		t.Fatalf("expected a ranked first, got %+v", hits)
	}

	hits, _ = s.SearchSections(ctx, "door", "", 10)
	if len(hits) != 1 || hits[0].BlueprintID != b {
		t.Fatalf("unexpected section hits %+v", hits)
	}
	if _, err := s.SearchFTS(ctx, "nope", "motion", 1); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
