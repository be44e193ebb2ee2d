package rank

import (
	"math"
	"slices"
	"sort"
	"strings"
	"unicode"
)

// ExtractOptions configure phrase extraction.
type ExtractOptions struct {
	TopN         int
	MaxPhraseLen int
	// Stopwords are lowercase words that may not start or end a phrase.
	Stopwords map[string]bool
	// DedupThreshold drops a phrase whose similarity ratio to an already
	// selected phrase is above it. Values of 1 or more disable the check.
	DedupThreshold float64
	// WindowSize is how many preceding words count as co-occurring.
	WindowSize int
}

// DefaultExtractOptions returns single-word extraction of the top 3 terms.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{TopN: 3, MaxPhraseLen: 1, DedupThreshold: 0.9, WindowSize: 1}
}

type word struct {
	lower   string
	digit   bool
	stop    bool
	acronym bool
	capital bool // capitalized but not the first word of its sentence
}

type termStats struct {
	tf        int
	tfAcronym int
	tfCapital int
	sentences map[int]bool
	left      map[string]int
	right     map[string]int
	h         float64
	stop      bool
}

type candidate struct {
	phrase string
	words  []string
	tf     int
	score  float64
}

// Extract returns the most representative phrases of text using YAKE, an
// unsupervised scorer built from per-word casing, position, frequency,
// context relatedness and sentence spread. Lower scores are better; the
// result is sorted ascending and holds at most opts.TopN phrases.
//
// Sentences end at '.', '!', '?' and newlines; other punctuation splits a
// sentence into blocks that phrases do not cross. Words shorter than three
// runes count as stopwords.
func Extract(text string, opts ExtractOptions) []Term {
	if opts.TopN <= 0 {
		return nil
	}
	if opts.MaxPhraseLen <= 0 {
		opts.MaxPhraseLen = 1
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 1
	}

	sentences := splitSentences(text, opts.Stopwords)
	if len(sentences) == 0 {
		return nil
	}

	stats := make(map[string]*termStats)
	pairs := make(map[[2]string]int)
	for si, blocks := range sentences {
		for _, block := range blocks {
			for i, w := range block {
				if w.digit {
					continue
				}
				st := stats[w.lower]
				if st == nil {
					st = &termStats{
						sentences: make(map[int]bool),
						left:      make(map[string]int),
						right:     make(map[string]int),
						stop:      w.stop,
					}
					stats[w.lower] = st
				}
				st.tf++
				st.sentences[si] = true
				if w.acronym {
					st.tfAcronym++
				} else if w.capital {
					st.tfCapital++
				}
				for j := max(0, i-opts.WindowSize); j < i; j++ {
					prev := block[j]
					if prev.digit {
						continue
					}
					st.left[prev.lower]++
					stats[prev.lower].right[w.lower]++
					pairs[[2]string{prev.lower, w.lower}]++
				}
			}
		}
	}
	if len(stats) == 0 {
		return nil
	}

	scoreWords(stats, len(sentences))

	cands := make(map[string]*candidate)
	for _, blocks := range sentences {
		for _, block := range blocks {
			for i := range block {
				for n := 1; n <= opts.MaxPhraseLen && i+n <= len(block); n++ {
					gram := block[i : i+n]
					if !validPhrase(gram) {
						continue
					}
					words := make([]string, n)
					for k, w := range gram {
						words[k] = w.lower
					}
					key := strings.Join(words, " ")
					c := cands[key]
					if c == nil {
						c = &candidate{phrase: key, words: words}
						cands[key] = c
					}
					c.tf++
				}
			}
		}
	}

	ranked := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		c.score = phraseScore(c, stats, pairs)
		ranked = append(ranked, c)
	}
	slices.SortFunc(ranked, func(a, b *candidate) int {
		if a.score != b.score {
			if a.score < b.score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.phrase, b.phrase)
	})

	out := make([]Term, 0, min(opts.TopN, len(ranked)))
	for _, c := range ranked {
		if len(out) == opts.TopN {
			break
		}
		if opts.DedupThreshold < 1 && isDuplicate(c.phrase, out, opts.DedupThreshold) {
			continue
		}
		out = append(out, Term{Term: c.phrase, Score: c.score})
	}
	return out
}

func scoreWords(stats map[string]*termStats, nSentences int) {
	maxTF := 0
	var valid []float64
	for _, st := range stats {
		maxTF = max(maxTF, st.tf)
		if !st.stop {
			valid = append(valid, float64(st.tf))
		}
	}
	meanTF, stdTF := meanStd(valid)

	for _, st := range stats {
		tf := float64(st.tf)
		relTF := tf / float64(maxTF)

		wRel := (0.5 + ratio(len(st.left), sum(st.left))*relTF) +
			(0.5 + ratio(len(st.right), sum(st.right))*relTF)

		wFreq := tf
		if meanTF+stdTF > 0 {
			wFreq = tf / (meanTF + stdTF)
		}
		wSpread := float64(len(st.sentences)) / float64(nSentences)
		wCase := float64(max(st.tfAcronym, st.tfCapital)) / (1 + math.Log(tf))
		wPos := math.Log(math.Log(3 + median(st.sentences)))

		st.h = (wPos * wRel) / (wCase + wFreq/wRel + wSpread/wRel)
	}
}

// phraseScore combines word scores. Stopwords inside a phrase weigh in by
// how strongly they bind to their neighbours.
func phraseScore(c *candidate, stats map[string]*termStats, pairs map[[2]string]int) float64 {
	prod, total := 1.0, 0.0
	for i, w := range c.words {
		st := stats[w]
		if !st.stop {
			prod *= st.h
			total += st.h
			continue
		}
		if i == 0 || i == len(c.words)-1 {
			continue
		}
		prev, next := c.words[i-1], c.words[i+1]
		p1 := float64(pairs[[2]string{prev, w}]) / float64(stats[prev].tf)
		p2 := float64(pairs[[2]string{w, next}]) / float64(stats[next].tf)
		p := p1 * p2
		prod *= 1 + (1 - p)
		total -= 1 - p
	}
	denom := (total + 1) * float64(c.tf)
	if denom == 0 {
		denom = math.SmallestNonzeroFloat64
	}
	return prod / denom
}

func validPhrase(gram []word) bool {
	for _, w := range gram {
		if w.digit {
			return false
		}
	}
	return !gram[0].stop && !gram[len(gram)-1].stop
}

func splitSentences(text string, stopwords map[string]bool) [][][]word {
	var sentences [][][]word
	var blocks [][]word
	var block []word
	var cur strings.Builder
	first := true

	endWord := func() {
		if cur.Len() == 0 {
			return
		}
		if w, ok := newWord(cur.String(), first, stopwords); ok {
			block = append(block, w)
			first = false
		}
		cur.Reset()
	}
	endBlock := func() {
		endWord()
		if len(block) > 0 {
			blocks = append(blocks, block)
			block = nil
		}
	}
	endSentence := func() {
		endBlock()
		if len(blocks) > 0 {
			sentences = append(sentences, blocks)
			blocks = nil
		}
		first = true
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '\'':
			cur.WriteRune(r)
		case r == '.' || r == '!' || r == '?' || r == '\n':
			endSentence()
		case unicode.IsSpace(r):
			endWord()
		default:
			endBlock()
		}
	}
	endSentence()
	return sentences
}

func newWord(raw string, firstInSentence bool, stopwords map[string]bool) (word, bool) {
	raw = strings.Trim(raw, "'")
	if raw == "" {
		return word{}, false
	}
	lower := strings.ToLower(raw)
	w := word{lower: lower}
	w.digit = strings.IndexFunc(raw, func(r rune) bool { return !unicode.IsDigit(r) }) == -1
	w.stop = stopwords[lower] || len([]rune(lower)) < 3
	runes := []rune(raw)
	if len(runes) > 1 && strings.ToUpper(raw) == raw && strings.IndexFunc(raw, unicode.IsLetter) >= 0 {
		w.acronym = true
	} else if len(runes) > 0 && unicode.IsUpper(runes[0]) && !firstInSentence {
		w.capital = true
	}
	return w, true
}

func isDuplicate(phrase string, selected []Term, threshold float64) bool {
	for _, t := range selected {
		if similarity(phrase, t.Term) > threshold {
			return true
		}
	}
	return false
}

// similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func ratio(distinct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(distinct) / float64(total)
}

func sum(m map[string]int) int {
	s := 0
	for _, v := range m {
		s += v
	}
	return s
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(variance / float64(len(xs)))
}

func median(set map[int]bool) float64 {
	xs := make([]int, 0, len(set))
	for k := range set {
		xs = append(xs, k)
	}
	sort.Ints(xs)
	mid := len(xs) / 2
	if len(xs)%2 == 1 {
		return float64(xs[mid])
	}
	return float64(xs[mid-1]+xs[mid]) / 2
}
