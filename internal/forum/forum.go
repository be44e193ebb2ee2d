// Package forum reads scraped blueprint-exchange topics from JSONL dumps.
//
// Each line holds one topic with its posts, and each post the blueprints
// pasted into it:
//
//	{"topic_id":"1","title":"...","tags":["zha"],"posts":[{"post_id":"10","cooked":"<p>..</p>","blueprints":[{"blueprint_code":"blueprint: ..."}]}]}
package forum

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

// Topic is a forum thread as scraped.
type Topic struct {
	TopicID string   `json:"topic_id"`
	URL     string   `json:"topic_url"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
	Posts   []Post   `json:"posts"`
}

// Post is one message of a topic.
type Post struct {
	PostID     string      `json:"post_id"`
	URL        string      `json:"post_url"`
	Username   string      `json:"username"`
	CreatedAt  time.Time   `json:"created_at"`
	Cooked     string      `json:"cooked"`
	Blueprints []Blueprint `json:"blueprints"`
}

// Blueprint is blueprint source found in a post.
type Blueprint struct {
	URL  string `json:"blueprint_url"`
	Code string `json:"blueprint_code"`
}

// Validate checks that the topic and everything below it carries the
// fields the store keys on.
func (t *Topic) Validate() error {
	if strings.TrimSpace(t.TopicID) == "" {
		return errors.New("topic_id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("title is required")
	}
	for i, p := range t.Posts {
		if strings.TrimSpace(p.PostID) == "" {
			return fmt.Errorf("post %d: post_id is required", i)
		}
		for j, b := range p.Blueprints {
			if strings.TrimSpace(b.Code) == "" {
				return fmt.Errorf("post %s blueprint %d: blueprint_code is required", p.PostID, j)
			}
		}
	}
	return nil
}

// BlueprintCount is the number of blueprints across all posts.
func (t *Topic) BlueprintCount() int {
	n := 0
	for _, p := range t.Posts {
		n += len(p.Blueprints)
	}
	return n
}

// Record converts the topic to its store row.
func (t *Topic) Record() store.Topic {
	return store.Topic{TopicID: t.TopicID, URL: t.URL, Title: t.Title, Tags: t.Tags}
}

// Record converts the post to its store row.
func (p *Post) Record(topicID string) store.Post {
	return store.Post{
		PostID:    p.PostID,
		TopicID:   topicID,
		URL:       p.URL,
		Username:  p.Username,
		Cooked:    p.Cooked,
		CreatedAt: p.CreatedAt,
	}
}

// Record converts the blueprint to its store row. The hash identifies
// identical code pasted in several posts.
func (b *Blueprint) Record(postID string) store.Blueprint {
	return store.Blueprint{
		URL:    b.URL,
		PostID: postID,
		Code:   b.Code,
		Hash:   blueprint.Hash(b.Code),
	}
}

// LoadFromJSONL loads topics from a JSONL file. Malformed and invalid lines
// are logged and skipped.
func LoadFromJSONL(path string, logger *zap.Logger) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	topics, err := Decode(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topics, nil
}

// Decode parses JSONL data. It fails only when no line holds a valid topic.
func Decode(data []byte, logger *zap.Logger) ([]Topic, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var topics []Topic
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var t Topic
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			logger.Warn("skipping malformed topic", zap.Int("line", i+1), zap.Error(err))
			continue
		}
		if err := t.Validate(); err != nil {
			logger.Warn("skipping invalid topic", zap.Int("line", i+1), zap.Error(err))
			continue
		}
		topics = append(topics, t)
	}

	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: no valid topics found", internalerr.ErrInvalidInput)
	}
	return topics, nil
}
