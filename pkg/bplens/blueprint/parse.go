package blueprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

// InputTag is the YAML tag marking a reference to a declared blueprint input.
const InputTag = "!input"

// Parser turns blueprint YAML text into a Node tree. The `!input name` tag
// decodes to an InputRef node; everything else decodes to plain scalars,
// mappings and sequences. A Parser is safe for concurrent use.
type Parser struct {
	cache  *lru.Cache[string, *Node]
	logger *zap.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser) error

// WithCache memoizes up to size parsed trees keyed by the hash of their source.
func WithCache(size int) ParserOption {
	return func(p *Parser) error {
		c, err := lru.New[string, *Node](size)
		if err != nil {
			return fmt.Errorf("parser cache: %w", err)
		}
		p.cache = c
		return nil
	}
}

// WithLogger sets the logger used to report parse failures.
func WithLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) error {
		if l != nil {
			p.logger = l
		}
		return nil
	}
}

// NewParser creates a parser with the given options.
func NewParser(opts ...ParserOption) (*Parser, error) {
	p := &Parser{logger: zap.NewNop()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Hash returns the hex SHA-256 of blueprint source text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Parse decodes text into a tree. Invalid YAML is logged at debug level and
// reported as internalerr.ErrParse so callers can skip the item.
// The returned tree is owned by the caller.
func (p *Parser) Parse(text string) (*Node, error) {
	var key string
	if p.cache != nil {
		key = Hash(text)
		if cached, ok := p.cache.Get(key); ok {
			return cached.Clone(), nil
		}
	}

	root, err := decode(text)
	if err != nil {
		p.logger.Debug("invalid blueprint yaml", zap.Error(err))
		return nil, err
	}

	if p.cache != nil {
		p.cache.Add(key, root.Clone())
	}
	return root, nil
}

func decode(text string) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrParse, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", internalerr.ErrParse)
	}
	root, err := newDecoder(len(text)).convert(doc.Content[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrParse, err)
	}
	return root, nil
}

// maxDepth bounds alias expansion so self-referencing documents fail instead of looping.
const maxDepth = 512

// Aliases are expanded into fresh subtrees, so the converted tree can be far
// larger than the source. minNodeBudget and nodesPerByte cap that growth.
const (
	minNodeBudget = 100_000
	nodesPerByte  = 16
)

var (
	errTooDeep      = errors.New("document nesting too deep")
	errTooManyNodes = errors.New("excessive aliasing")
)

// decoder converts one yaml.Node tree and counts every node it produces.
type decoder struct {
	nodes  int
	budget int
}

func newDecoder(textLen int) *decoder {
	return &decoder{budget: max(minNodeBudget, nodesPerByte*textLen)}
}

func (d *decoder) spend(n int) error {
	d.nodes += n
	if d.nodes > d.budget {
		return fmt.Errorf("%w: more than %d nodes", errTooManyNodes, d.budget)
	}
	return nil
}

func (d *decoder) convert(n *yaml.Node, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Scalar(nil), nil
		}
		return d.convert(n.Content[0], depth+1)
	case yaml.AliasNode:
		if n.Alias == nil {
			return Scalar(nil), nil
		}
		return d.convert(n.Alias, depth+1)
	case yaml.SequenceNode:
		if n.Tag == InputTag {
			return nil, fmt.Errorf("line %d: %s expects a scalar input name", n.Line, InputTag)
		}
		if err := d.spend(1); err != nil {
			return nil, err
		}
		seq := &Node{Kind: KindSequence, Items: make([]*Node, 0, len(n.Content))}
		for _, child := range n.Content {
			item, err := d.convert(child, depth+1)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, item)
		}
		return seq, nil
	case yaml.MappingNode:
		if n.Tag == InputTag {
			return nil, fmt.Errorf("line %d: %s expects a scalar input name", n.Line, InputTag)
		}
		if err := d.spend(1); err != nil {
			return nil, err
		}
		return d.convertMapping(n, depth)
	case yaml.ScalarNode:
		if err := d.spend(1); err != nil {
			return nil, err
		}
		return convertScalar(n), nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
	}
}

func (d *decoder) convertMapping(n *yaml.Node, depth int) (*Node, error) {
	m := Mapping()
	var merges []*Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		val, err := d.convert(valNode, depth+1)
		if err != nil {
			return nil, err
		}
		if keyNode.Tag == "!!merge" || (keyNode.Kind == yaml.ScalarNode && keyNode.Value == "<<" && keyNode.Style == 0) {
			merges = append(merges, val)
			continue
		}
		m.Set(keyNode.Value, val)
	}
	// Explicit keys win over merged ones.
	for _, src := range merges {
		for _, part := range mergeSources(src) {
			for _, k := range part.Keys {
				if _, exists := m.Fields[k]; !exists {
					if err := d.spend(part.Fields[k].size()); err != nil {
						return nil, err
					}
					m.Set(k, part.Fields[k].Clone())
				}
			}
		}
	}
	return m, nil
}

func mergeSources(n *Node) []*Node {
	switch n.Kind {
	case KindMapping:
		return []*Node{n}
	case KindSequence:
		var out []*Node
		for _, item := range n.Items {
			if item.Kind == KindMapping {
				out = append(out, item)
			}
		}
		return out
	default:
		return nil
	}
}

func convertScalar(n *yaml.Node) *Node {
	if n.Tag == InputTag {
		return InputRef(strings.TrimSpace(n.Value))
	}
	// Other local tags (!secret, !include_dir_named, ...) keep their text.
	if strings.HasPrefix(n.Tag, "!") && !strings.HasPrefix(n.Tag, "!!") {
		return Scalar(n.Value)
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return Scalar(n.Value)
	}
	return Scalar(v)
}
