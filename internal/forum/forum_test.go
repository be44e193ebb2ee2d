package forum

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

const dump = `{"topic_id":"1","topic_url":"https://community.home-assistant.io/t/1","title":"Motion light","tags":["zha"],"posts":[{"post_id":"10","username":"ann","created_at":"2024-03-01T10:00:00Z","cooked":"<p>hi</p>","blueprints":[{"blueprint_url":"https://gist.example/x","blueprint_code":"blueprint:\n  name: x\n"}]}]}
not json
{"topic_id":"","title":"no id"}
{"topic_id":"2","title":"Bad post","posts":[{"post_id":"11","blueprints":[{"blueprint_code":"  "}]}]}

{"topic_id":"3","title":"Question only","posts":[{"post_id":"12","cooked":"<p>how?</p>"}]}
`

func TestDecodeSkipsBadLines(t *testing.T) {
	topics, err := Decode([]byte(dump), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].TopicID != "1" || topics[1].TopicID != "3" {
		t.Errorf("unexpected topics %q %q", topics[0].TopicID, topics[1].TopicID)
	}
	if topics[0].BlueprintCount() != 1 || topics[1].BlueprintCount() != 0 {
		t.Errorf("unexpected blueprint counts")
	}
	if got := topics[0].Posts[0].CreatedAt.Year(); got != 2024 {
		t.Errorf("created_at not decoded, year %d", got)
	}
}

func TestDecodeNothingValid(t *testing.T) {
	_, err := Decode([]byte("{}\nnope\n"), nil)
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRecords(t *testing.T) {
	topics, err := Decode([]byte(dump), nil)
	if err != nil {
		t.Fatal(err)
	}
	topic := topics[0]
	post := topic.Posts[0]
	bp := post.Blueprints[0]

	if rec := topic.Record(); rec.TopicID != "1" || len(rec.Tags) != 1 {
		t.Errorf("topic record %+v", rec)
	}
	if rec := post.Record(topic.TopicID); rec.TopicID != "1" || rec.Username != "ann" {
		t.Errorf("post record %+v", rec)
	}
	rec := bp.Record(post.PostID)
	if rec.PostID != "10" || rec.Hash != blueprint.Hash(bp.Code) {
		t.Errorf("blueprint record %+v", rec)
	}
}

func TestLoadFromJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.jsonl")
	if err := os.WriteFile(path, []byte(dump), 0o644); err != nil {
		t.Fatal(err)
	}
	topics, err := LoadFromJSONL(path, nil)
	if err != nil || len(topics) != 2 {
		t.Fatalf("LoadFromJSONL = %d topics, %v", len(topics), err)
	}
	if _, err := LoadFromJSONL(filepath.Join(t.TempDir(), "missing.jsonl"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
