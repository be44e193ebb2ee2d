package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/cognicore/bplens/internal/metrics"
	"github.com/cognicore/bplens/pkg/bplens"
	"github.com/cognicore/bplens/pkg/bplens/cache"
	"github.com/cognicore/bplens/pkg/bplens/config"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

const topicsJSONL = `{"topic_id":"1","title":"Motion light","tags":["motion"],"posts":[{"post_id":"10","cooked":"<p>Turns the hallway lamp on.</p>","blueprints":[{"blueprint_code":"blueprint:\n  name: Motion light\n  domain: automation\ntrigger:\n  - platform: state\n    domain: binary_sensor\naction:\n  - domain: light\n"}]}]}
{"topic_id":"2","title":"Doorbell","posts":[{"post_id":"20","cooked":"<p>Rings in the hallway.</p>"}]}
{"topic_id":"3","title":"Sunset lamp","posts":[{"post_id":"30","cooked":"<p>A lamp at sunset.</p>"}]}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCommandInMemory(t *testing.T) {
	data := writeFile(t, "topics.jsonl", topicsJSONL)
	metricsFile := filepath.Join(t.TempDir(), "bplens.prom")

	out, err := execute(t, "--db-driver", "memory", "--metrics-file", metricsFile, "run", "--data", data)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	var stats []bplens.PassStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("output is not pass stats: %v\n%s", err, out)
	}
	if len(stats) != 4 {
		t.Fatalf("expected import plus 3 passes, got %d", len(stats))
	}
	if stats[0].Pass != bplens.PassImport || stats[0].Processed != 1 {
		t.Errorf("unexpected import stats %+v", stats[0])
	}
	if stats[1].Pass != bplens.PassKeywords || stats[1].Processed != 1 {
		t.Errorf("unexpected keyword stats %+v", stats[1])
	}

	prom, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(prom), `bplens_items_processed_total{pass="keywords"} 1`) {
		t.Errorf("unexpected metrics:\n%s", prom)
	}
}

func TestSQLiteCommandsShareDatabase(t *testing.T) {
	data := writeFile(t, "topics.jsonl", topicsJSONL)
	db := filepath.Join(t.TempDir(), "bplens.db")

	steps := [][]string{
		{"import", "--data", data},
		{"keywords"},
		{"index"},
	}
	for _, step := range steps {
		if out, err := execute(t, append([]string{"--db", db}, step...)...); err != nil {
			t.Fatalf("%s: %v\n%s", step[0], err, out)
		}
	}

	out, err := execute(t, "--db", db, "search", "keywords", "--input", "binary_sensor", "--input-op", "==", "--input-count", "1")
	if err != nil {
		t.Fatalf("search keywords: %v\n%s", err, out)
	}
	var hits []keywordHit
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatalf("bad output: %v\n%s", err, out)
	}
	if len(hits) != 1 || hits[0].Name != "Motion light" || hits[0].Keywords["output__light"] != 1 {
		t.Errorf("unexpected hits %+v", hits)
	}

	out, err = execute(t, "--db", db, "search", "text", "--column", "blueprint_action", "light")
	if err != nil {
		t.Fatalf("search text: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Motion light") {
		t.Errorf("expected a hit in topic Motion light, got %s", out)
	}
}

func TestValidateFiles(t *testing.T) {
	good := writeFile(t, "good.yaml", "blueprint:\n  name: x\n  domain: automation\ntrigger: []\naction: []\n")
	bad := writeFile(t, "bad.yaml", "blueprint:\n  domain: automation\ntrigger: []\naction: []\n")

	out, err := execute(t, "--db-driver", "memory", "validate", good)
	if err != nil {
		t.Fatalf("validate good: %v\n%s", err, out)
	}

	out, err = execute(t, "--db-driver", "memory", "validate", good, bad)
	if err == nil {
		t.Fatal("expected error for an invalid blueprint")
	}
	var results []fileValidation
	if jsonErr := json.Unmarshal([]byte(out[:strings.LastIndex(out, "]")+1]), &results); jsonErr != nil {
		t.Fatalf("bad output: %v\n%s", jsonErr, out)
	}
	if len(results) != 2 || !results[0].Valid || results[1].Valid {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestInvalidSettings(t *testing.T) {
	if _, err := execute(t, "--db-driver", "oracle", "keywords"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()

	c, closeFn, err := openCache(ctx, config.CacheSettings{Backend: "none"})
	if err != nil {
		t.Fatal(err)
	}
	closeFn()
	if _, ok := c.(cache.Nop); !ok {
		t.Errorf("expected Nop cache, got %T", c)
	}

	mr := miniredis.RunT(t)
	c, closeFn, err = openCache(ctx, config.CacheSettings{Backend: "redis", Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	defer closeFn()
	if err := c.Set(ctx, "h", map[string]int{"input__sun": 1}); err != nil {
		t.Fatal(err)
	}
	if got, ok, err := c.Get(ctx, "h"); err != nil || !ok || got["input__sun"] != 1 {
		t.Errorf("redis round trip = %v %v %v", got, ok, err)
	}

	if _, _, err := openCache(ctx, config.CacheSettings{Backend: "redis", Addr: "127.0.0.1:1"}); err == nil {
		t.Error("expected ping failure")
	}
}

func TestBuildEngineMissingStoplist(t *testing.T) {
	s := config.Settings{
		Database:     config.DatabaseSettings{Driver: "memory"},
		StoplistPath: filepath.Join(t.TempDir(), "missing.yaml"),
		Workers:      1,
	}
	if _, _, err := buildEngine(context.Background(), s, zaptest.NewLogger(t), metrics.New()); err == nil {
		t.Fatal("expected error for missing stoplist")
	}
}

func TestSearchLimitsAreIndependent(t *testing.T) {
	root := newRootCmd()
	text, _, err := root.Find([]string{"search", "text"})
	if err != nil {
		t.Fatal(err)
	}
	sections, _, err := root.Find([]string{"search", "sections"})
	if err != nil {
		t.Fatal(err)
	}

	if err := text.Flags().Set("limit", "3"); err != nil {
		t.Fatal(err)
	}
	if got := text.Flags().Lookup("limit").Value.String(); got != "3" {
		t.Errorf("text limit = %s, want 3", got)
	}
	want := strconv.Itoa(store.DefaultSearchLimit)
	if got := sections.Flags().Lookup("limit").Value.String(); got != want {
		t.Errorf("sections limit = %s after setting text limit, want %s", got, want)
	}
}
