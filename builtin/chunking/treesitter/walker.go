package treesitter

import (
	"iter"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/spetr/mcp-codechunk/pkg/types"
)

// Node is the read-only view of a syntax tree node the walker needs.
type Node interface {
	Kind() string
	StartPoint() types.Point
	EndPoint() types.Point
	ChildCount() int
	Child(i int) Node
}

// NamedNode is implemented by nodes that can locate their identifier.
type NamedNode interface {
	NameRange() (start, end types.Point, ok bool)
}

// sitterNode adapts *sitter.Node to Node.
type sitterNode struct {
	n *sitter.Node
}

// WrapNode adapts a tree-sitter node for Walk.
func WrapNode(n *sitter.Node) Node {
	return sitterNode{n: n}
}

func (s sitterNode) Kind() string { return s.n.Type() }

func (s sitterNode) StartPoint() types.Point { return toPoint(s.n.StartPoint()) }

func (s sitterNode) EndPoint() types.Point { return toPoint(s.n.EndPoint()) }

func (s sitterNode) ChildCount() int { return int(s.n.ChildCount()) }

func (s sitterNode) Child(i int) Node {
	c := s.n.Child(i)
	if c == nil {
		return nil
	}
	return sitterNode{n: c}
}

func (s sitterNode) NameRange() (types.Point, types.Point, bool) {
	name := s.n.ChildByFieldName("name")
	if name == nil {
		return types.Point{}, types.Point{}, false
	}
	return toPoint(name.StartPoint()), toPoint(name.EndPoint()), true
}

func toPoint(p sitter.Point) types.Point {
	return types.Point{Row: int(p.Row), Column: int(p.Column)}
}

// LineSpan returns the number of rows a node covers, counting both ends.
func LineSpan(n Node) int {
	return n.EndPoint().Row - n.StartPoint().Row + 1
}

// WalkOptions tune chunk metadata. They never change which nodes match.
type WalkOptions struct {
	FilePath  string // Recorded on every chunk and used for its ID
	FullRange bool   // Record the node end in Range.End instead of its start
}

// Walk yields chunks for node and its descendants in pre-order.
//
// depth is the distance of node from the tree root. Nodes deeper than
// cfg.MaxDepth are not visited. A node matching cfg produces a chunk before
// any of its children, and children are always visited so nested
// definitions are found too. An extraction error is yielded once and ends
// the walk.
func Walk(buf *TextBuffer, cfg LanguageConfig, depth int, node Node, opts WalkOptions) iter.Seq2[*types.Chunk, error] {
	return func(yield func(*types.Chunk, error) bool) {
		w := &walker{buf: buf, cfg: &cfg, opts: opts, yield: yield}
		w.walk(depth, node)
	}
}

type walker struct {
	buf   *TextBuffer
	cfg   *LanguageConfig
	opts  WalkOptions
	yield func(*types.Chunk, error) bool
}

// walk returns false once the consumer stops or an error was yielded.
func (w *walker) walk(depth int, node Node) bool {
	if node == nil || depth > w.cfg.MaxDepth {
		return true
	}

	kind := node.Kind()
	if w.cfg.Matches(kind) && LineSpan(node) >= w.cfg.MinLines {
		chunk, err := w.chunk(node, kind)
		if err != nil {
			w.yield(nil, err)
			return false
		}
		if !w.yield(chunk, nil) {
			return false
		}
	}

	for i := 0; i < node.ChildCount(); i++ {
		if !w.walk(depth+1, node.Child(i)) {
			return false
		}
	}
	return true
}

func (w *walker) chunk(node Node, kind string) (*types.Chunk, error) {
	start, end := node.StartPoint(), node.EndPoint()
	code, err := w.buf.TextInRange(start, end)
	if err != nil {
		return nil, err
	}

	rangeEnd := start
	if w.opts.FullRange {
		rangeEnd = end
	}

	chunk := &types.Chunk{
		FilePath: w.opts.FilePath,
		Language: w.cfg.Label,
		Kind:     kind,
		Code:     code,
		Range:    types.Range{Start: start, End: rangeEnd},
	}
	if named, ok := node.(NamedNode); ok {
		if ns, ne, ok := named.NameRange(); ok {
			if name, err := w.buf.TextInRange(ns, ne); err == nil {
				chunk.Name = name
			}
		}
	}
	chunk.ID = chunk.GenerateID()
	return chunk, nil
}
