package bplens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/stoplist"
	"github.com/cognicore/bplens/pkg/bplens/store"
	"github.com/cognicore/bplens/pkg/bplens/textclean"
)

// topicCorpus is one topic with its posts and the blueprints posted in them.
type topicCorpus struct {
	topic      store.Topic
	posts      []store.Post
	blueprints []store.Blueprint
}

// structuralTokens are the keyword words already counted from the topic's
// blueprint structure.
func (c topicCorpus) structuralTokens() []string {
	all := keywords.Counts{}
	for _, bp := range c.blueprints {
		all.Merge(bp.Keywords)
	}
	return all.Tokens()
}

func (e *Engine) loadTopic(ctx context.Context, t store.Topic) (topicCorpus, error) {
	c := topicCorpus{topic: t}
	posts, err := e.store.PostsByTopicID(ctx, t.TopicID)
	if err != nil {
		return c, fmt.Errorf("posts of topic %s: %w", t.TopicID, err)
	}
	c.posts = posts
	for _, p := range posts {
		bps, err := e.store.BlueprintsByPostID(ctx, p.PostID)
		if err != nil {
			return c, fmt.Errorf("blueprints of post %s: %w", p.PostID, err)
		}
		c.blueprints = append(c.blueprints, bps...)
	}
	return c, nil
}

// UpdateTopicKeywordsExtractive ranks the phrases of each topic's own text
// and stores the best ones for the topic and its blueprints. Words of the
// topic's tags, forum-generic words and keywords already extracted from the
// blueprints are never returned. Topics without posts are skipped.
func (e *Engine) UpdateTopicKeywordsExtractive(ctx context.Context) (PassStats, error) {
	return e.runPass(ctx, PassExtractive, func(stats *PassStats) error {
		topics, err := e.store.Topics(ctx)
		if err != nil {
			return fmt.Errorf("load topics: %w", err)
		}

		for _, t := range topics {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := e.loadTopic(ctx, t)
			if err != nil {
				return err
			}
			if len(c.posts) == 0 {
				stats.Skipped++
				continue
			}

			terms := rank.Extract(extractiveText(c), e.extractOptions(c))
			if len(terms) == 0 {
				e.logger.Debug("no phrases found", zap.String("topic_id", t.TopicID))
				stats.Skipped++
				continue
			}
			kw := rank.TopicKeywords{Source: rank.SourceYAKE, Terms: terms}
			if err := e.storeTopicKeywords(ctx, t.TopicID, kw, PassExtractive, stats); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) extractOptions(c topicCorpus) rank.ExtractOptions {
	stops := e.stops.Clone()
	stops.Add(stoplist.Domain, e.vocab.ExtractiveStops...)
	stops.Add(stoplist.Tag, c.topic.Tags...)
	stops.Add(stoplist.Structural, c.structuralTokens()...)

	opts := rank.DefaultExtractOptions()
	opts.TopN = e.ranking.ExtractiveTopN
	opts.MaxPhraseLen = e.ranking.MaxPhraseLen
	opts.Stopwords = stops.Set()
	return opts
}

// extractiveText joins the cleaned title, post bodies and blueprint
// descriptions into sentences.
func extractiveText(c topicCorpus) string {
	parts := []string{textclean.ForExtractive(c.topic.Title)}
	for _, p := range c.posts {
		parts = append(parts, textclean.ForExtractive(p.Cooked))
	}
	for _, bp := range c.blueprints {
		parts = append(parts, textclean.ForExtractive(bp.Description))
	}
	return textclean.JoinSentences(parts...)
}

// UpdateTopicKeywordsTFIDF weighs the terms of every topic against the whole
// corpus and stores each topic's highest weighted terms. A corpus with no
// usable terms fails the pass with internalerr.ErrEmptyCorpus.
func (e *Engine) UpdateTopicKeywordsTFIDF(ctx context.Context) (PassStats, error) {
	return e.runPass(ctx, PassTFIDF, func(stats *PassStats) error {
		topics, err := e.store.Topics(ctx)
		if err != nil {
			return fmt.Errorf("load topics: %w", err)
		}

		tok := e.corpusTokenizer()

		var docs []rank.Document
		for _, t := range topics {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := e.loadTopic(ctx, t)
			if err != nil {
				return err
			}
			if len(c.posts) == 0 {
				stats.Skipped++
				continue
			}
			docs = append(docs, rank.Document{ID: t.TopicID, Text: corpusDocument(tok, c)})
		}

		ranked, err := rank.TFIDF(docs, e.ranking.TFIDFTopN, e.ranking.TFIDF)
		if err != nil {
			return err
		}

		for _, d := range docs {
			terms := ranked[d.ID]
			if len(terms) == 0 {
				stats.Skipped++
				continue
			}
			kw := rank.TopicKeywords{Source: rank.SourceTFIDF, Terms: terms}
			if err := e.storeTopicKeywords(ctx, d.ID, kw, PassTFIDF, stats); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) corpusTokenizer() *textclean.Tokenizer {
	tok := textclean.NewTokenizer(e.stops.All())
	tok.SetStemming(!e.ranking.NoStemming)
	tok.Ignore(e.vocab.CorpusIgnore...)
	return tok
}

// corpusDocument is the stemmed, stopword-free text of a topic: title, post
// bodies and blueprint names and descriptions. Tag words and keywords
// already counted from the blueprints are dropped.
func corpusDocument(tok *textclean.Tokenizer, c topicCorpus) string {
	ignore := append(append([]string{}, c.topic.Tags...), c.structuralTokens()...)

	parts := []string{strings.Join(tok.Tokenize(c.topic.Title, ignore...), " ")}
	for _, p := range c.posts {
		parts = append(parts, tok.Document(p.Cooked, ignore...))
	}
	for _, bp := range c.blueprints {
		parts = append(parts, strings.Join(tok.Tokenize(bp.Name, ignore...), " "))
		parts = append(parts, strings.Join(tok.Tokenize(bp.Description, ignore...), " "))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// storeTopicKeywords writes kw and counts the outcome. A topic deleted
// meanwhile is a per-item failure; any other store error ends the pass.
func (e *Engine) storeTopicKeywords(ctx context.Context, topicID string, kw rank.TopicKeywords, pass string, stats *PassStats) error {
	err := e.store.UpdateTopicKeywords(ctx, topicID, kw)
	switch {
	case err == nil:
		stats.Processed++
		return nil
	case errors.Is(err, internalerr.ErrNotFound):
		stats.Failed++
		e.countFailure(pass, err)
		e.logger.Warn("topic vanished before keywords were stored", zap.String("topic_id", topicID))
		return nil
	default:
		return fmt.Errorf("update topic %s: %w", topicID, err)
	}
}
