package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed stopwords_en.yaml
var defaultStopwords []byte

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseStoplist(data)
}

// DefaultStoplist returns the built-in English stopwords.
func DefaultStoplist() *Stoplist {
	sl, err := parseStoplist(defaultStopwords)
	if err != nil {
		panic(fmt.Sprintf("embedded stoplist: %v", err))
	}
	return sl
}

func parseStoplist(data []byte) (*Stoplist, error) {
	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

// Vocabulary holds the word lists the ranking passes exclude on top of the
// English stopwords.
type Vocabulary struct {
	// ExtractiveStops are never returned as topic phrases.
	ExtractiveStops []string `yaml:"extractive_stops"`
	// CorpusIgnore are generic forum words dropped from TF-IDF documents.
	CorpusIgnore []string `yaml:"corpus_ignore"`
}

// DefaultVocabulary returns the domain word lists for Home Assistant forums.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		ExtractiveStops: []string{"blueprint", "home", "assistant", "automation"},
		CorpusIgnore:    []string{"blueprint", "automation", "entity", "work"},
	}
}

// LoadVocabulary reads a vocabulary file. Lists missing from the file keep
// their defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	data, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	var file Vocabulary
	if err := yaml.Unmarshal(data, &file); err != nil {
		return v, err
	}
	if file.ExtractiveStops != nil {
		v.ExtractiveStops = file.ExtractiveStops
	}
	if file.CorpusIgnore != nil {
		v.CorpusIgnore = file.CorpusIgnore
	}
	return v, nil
}
