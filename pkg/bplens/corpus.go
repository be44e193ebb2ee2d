package bplens

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/bplens/internal/forum"
	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/diff"
	"github.com/cognicore/bplens/pkg/bplens/store"
	"github.com/cognicore/bplens/pkg/bplens/textclean"
)

// Import stores scraped topics with their posts and blueprints. Blueprint
// name and description are read from the code; code that does not parse is
// still stored so the keyword pass can report it.
func (e *Engine) Import(ctx context.Context, topics []forum.Topic) (PassStats, error) {
	return e.runPass(ctx, PassImport, func(stats *PassStats) error {
		for i := range topics {
			t := &topics[i]
			if _, err := e.store.UpsertTopic(ctx, t.Record()); err != nil {
				return fmt.Errorf("topic %s: %w", t.TopicID, err)
			}
			for j := range t.Posts {
				p := &t.Posts[j]
				if _, err := e.store.UpsertPost(ctx, p.Record(t.TopicID)); err != nil {
					return fmt.Errorf("post %s: %w", p.PostID, err)
				}
				for k := range p.Blueprints {
					rec := p.Blueprints[k].Record(p.PostID)
					if err := e.describe(&rec); err != nil {
						e.logger.Debug("blueprint metadata unavailable",
							zap.String("post_id", p.PostID), zap.Error(err))
					}
					if _, err := e.store.UpsertBlueprint(ctx, rec); err != nil {
						return fmt.Errorf("blueprint of post %s: %w", p.PostID, err)
					}
					stats.Processed++
				}
			}
		}
		return nil
	})
}

// describe fills name and description from the blueprint block.
func (e *Engine) describe(bp *store.Blueprint) error {
	tree, err := e.parser.Parse(bp.Code)
	if err != nil {
		return err
	}
	meta, ok := tree.Get(blueprint.KeyBlueprint)
	if !ok {
		return nil
	}
	if v, ok := meta.Get("name"); ok {
		bp.Name = v.Text()
	}
	if v, ok := meta.Get("description"); ok {
		bp.Description = v.Text()
	}
	return nil
}

// IndexFTS writes the full-text row of every blueprint that parses.
func (e *Engine) IndexFTS(ctx context.Context) (PassStats, error) {
	return e.runPass(ctx, PassFTS, func(stats *PassStats) error {
		bps, err := e.store.AllBlueprints(ctx)
		if err != nil {
			return fmt.Errorf("load blueprints: %w", err)
		}
		for _, bp := range bps {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, unresolved, err := e.ftsEntry(bp)
			if err != nil {
				stats.Failed++
				e.countFailure(PassFTS, err)
				e.logger.Warn("fts indexing failed", zap.Int64("blueprint_id", bp.ID), zap.Error(err))
				continue
			}
			if err := e.store.UpsertBlueprintFTS(ctx, entry); err != nil {
				return fmt.Errorf("index blueprint %d: %w", bp.ID, err)
			}
			stats.Processed++
			stats.Unresolved += unresolved
		}
		return nil
	})
}

func (e *Engine) ftsEntry(bp store.Blueprint) (store.FTSEntry, int, error) {
	tree, err := e.parser.Parse(bp.Code)
	if err != nil {
		return store.FTSEntry{}, 0, err
	}
	resolved, report, err := blueprint.Resolve(tree)
	if err != nil {
		return store.FTSEntry{}, 0, err
	}

	section := func(key string) string {
		n, ok := resolved.Get(key)
		if !ok {
			return ""
		}
		return yamlText(n)
	}
	entry := store.FTSEntry{
		BlueprintID: bp.ID,
		Code:        bp.Code,
		TopicTitle:  bp.TopicTitle,
		Expanded:    yamlText(resolved),
		Trigger:     section(blueprint.KeyTrigger),
		Condition:   section(blueprint.KeyCondition),
		Action:      section(blueprint.KeyAction),
		PostContent: textclean.StripHTML(bp.PostContent),
	}
	if meta, ok := tree.Get(blueprint.KeyBlueprint); ok {
		entry.Declaration = yamlText(meta)
	}
	entry.Input = strings.TrimSpace(entry.Trigger + "\n" + entry.Condition)
	return entry, report.Unresolved, nil
}

func yamlText(n *blueprint.Node) string {
	out, err := yaml.Marshal(n.Plain())
	if err != nil {
		return n.String()
	}
	return string(out)
}

// CompareTopic scores every pair of blueprints posted in a topic by
// structural similarity. Blueprints that do not parse are left out.
func (e *Engine) CompareTopic(ctx context.Context, topicID string) ([]diff.Result, error) {
	posts, err := e.store.PostsByTopicID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	var (
		ids   []int64
		trees []*blueprint.Node
	)
	for _, p := range posts {
		bps, err := e.store.BlueprintsByPostID(ctx, p.PostID)
		if err != nil {
			return nil, err
		}
		for _, bp := range bps {
			tree, err := e.parser.Parse(bp.Code)
			if err != nil {
				e.logger.Warn("skipping blueprint in comparison",
					zap.Int64("blueprint_id", bp.ID), zap.String("topic_id", topicID), zap.Error(err))
				continue
			}
			ids = append(ids, bp.ID)
			trees = append(trees, tree)
		}
	}
	return diff.CompareAll(ids, trees)
}

// Validation is the schema check of one stored blueprint.
type Validation struct {
	BlueprintID int64
	Name        string
	Language    string
	Result      blueprint.ValidationResult
}

// ValidateBlueprints checks every stored blueprint against the blueprint
// schema and guesses the language of its text. Code that does not parse is
// reported as invalid.
func (e *Engine) ValidateBlueprints(ctx context.Context) ([]Validation, error) {
	bps, err := e.store.AllBlueprints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Validation, 0, len(bps))
	for _, bp := range bps {
		v := Validation{BlueprintID: bp.ID, Name: bp.Name}
		tree, err := e.parser.Parse(bp.Code)
		if err != nil {
			v.Result = blueprint.ValidationResult{Errors: []string{err.Error()}}
		} else {
			v.Result = blueprint.Validate(tree)
			v.Language = blueprint.Language(tree)
		}
		out = append(out, v)
	}
	return out, nil
}
