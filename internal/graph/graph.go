// Package graph is the node-level program representation shared by traced modules,
// captured programs and lowering passes.
//
// Values are referenced by name. A name is defined exactly once: as a graph input, a
// module parameter, or a node output.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDuplicateValue = errors.New("graph: value defined twice")
	ErrUndefinedValue = errors.New("graph: value used before definition")
	ErrBlockArity     = errors.New("graph: block output arity mismatch")
)

type AttrKind uint8

const (
	AttrInt AttrKind = iota + 1
	AttrInts
	AttrFloat
	AttrString
)

type Attr struct {
	Kind  AttrKind
	Int   int64
	Ints  []int64
	Float float64
	Str   string
}

func Int(v int64) Attr     { return Attr{Kind: AttrInt, Int: v} }
func Ints(v ...int64) Attr { return Attr{Kind: AttrInts, Ints: v} }
func Float(v float64) Attr { return Attr{Kind: AttrFloat, Float: v} }
func String(v string) Attr { return Attr{Kind: AttrString, Str: v} }

func (a Attr) clone() Attr {
	if a.Ints != nil {
		a.Ints = append([]int64(nil), a.Ints...)
	}
	return a
}

func (a Attr) isList() bool { return a.Kind == AttrInts }

func (a Attr) Equal(b Attr) bool {
	if a.Kind != b.Kind || a.Int != b.Int || a.Float != b.Float || a.Str != b.Str {
		return false
	}
	if len(a.Ints) != len(b.Ints) {
		return false
	}
	for i := range a.Ints {
		if a.Ints[i] != b.Ints[i] {
			return false
		}
	}
	return true
}

// Attrs maps attribute names to values.
type Attrs map[string]Attr

func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v.clone()
	}
	return out
}

// Keys returns attribute names in sorted order.
func (a Attrs) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a Attrs) Int(name string, def int) int {
	v, ok := a[name]
	if !ok {
		return def
	}
	switch v.Kind {
	case AttrInt:
		return int(v.Int)
	case AttrInts:
		if len(v.Ints) > 0 {
			return int(v.Ints[0])
		}
	case AttrFloat:
		return int(v.Float)
	}
	return def
}

// Ints returns a list attribute of length n. A scalar or single-element list is
// broadcast to n entries.
func (a Attrs) Ints(name string, n int, def int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = def
	}
	v, ok := a[name]
	if !ok {
		return out
	}
	switch {
	case v.Kind == AttrInt:
		for i := range out {
			out[i] = int(v.Int)
		}
	case v.isList() && len(v.Ints) == 1:
		for i := range out {
			out[i] = int(v.Ints[0])
		}
	case v.isList():
		for i := 0; i < n && i < len(v.Ints); i++ {
			out[i] = int(v.Ints[i])
		}
	}
	return out
}

func (a Attrs) Float(name string, def float64) float64 {
	v, ok := a[name]
	if !ok {
		return def
	}
	switch v.Kind {
	case AttrFloat:
		return v.Float
	case AttrInt:
		return float64(v.Int)
	}
	return def
}

func (a Attrs) String(name, def string) string {
	v, ok := a[name]
	if !ok || v.Kind != AttrString {
		return def
	}
	return v.Str
}

// Node is one operator application.
type Node struct {
	Kind    string
	Inputs  []string
	Outputs []string
	Attrs   Attrs
	// Blocks holds nested bodies for control-flow nodes (prim::If: then, else).
	Blocks []*Block
}

// Block is a nested node list whose Outputs bind to the parent node's outputs.
type Block struct {
	Nodes   []*Node
	Outputs []string
}

// Graph is a top-level node list with named inputs and outputs.
type Graph struct {
	Inputs  []string
	Outputs []string
	Nodes   []*Node
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Kind:    n.Kind,
		Inputs:  append([]string(nil), n.Inputs...),
		Outputs: append([]string(nil), n.Outputs...),
		Attrs:   n.Attrs.Clone(),
	}
	for _, b := range n.Blocks {
		out.Blocks = append(out.Blocks, b.Clone())
	}
	return out
}

func (b *Block) Clone() *Block {
	out := &Block{Outputs: append([]string(nil), b.Outputs...)}
	for _, n := range b.Nodes {
		out.Nodes = append(out.Nodes, n.Clone())
	}
	return out
}

func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{
		Inputs:  append([]string(nil), g.Inputs...),
		Outputs: append([]string(nil), g.Outputs...),
	}
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, n.Clone())
	}
	return out
}

// Validate checks single definition and def-before-use for the graph, treating
// params as defined on entry. Block-local values are visible only inside the block.
func (g *Graph) Validate(params []string) error {
	defined := make(map[string]struct{}, len(g.Inputs)+len(params))
	for _, name := range append(append([]string(nil), params...), g.Inputs...) {
		if _, dup := defined[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateValue, name)
		}
		defined[name] = struct{}{}
	}
	if err := validateNodes(g.Nodes, defined); err != nil {
		return err
	}
	for _, out := range g.Outputs {
		if _, ok := defined[out]; !ok {
			return fmt.Errorf("%w: graph output %q", ErrUndefinedValue, out)
		}
	}
	return nil
}

func validateNodes(nodes []*Node, defined map[string]struct{}) error {
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if _, ok := defined[in]; !ok {
				return fmt.Errorf("%w: %q (node %s)", ErrUndefinedValue, in, n.Kind)
			}
		}
		for _, b := range n.Blocks {
			scope := make(map[string]struct{}, len(defined))
			for k := range defined {
				scope[k] = struct{}{}
			}
			if err := validateNodes(b.Nodes, scope); err != nil {
				return err
			}
			if len(b.Outputs) != len(n.Outputs) {
				return fmt.Errorf("%w: node %s has %d outputs, block yields %d", ErrBlockArity, n.Kind, len(n.Outputs), len(b.Outputs))
			}
			for _, out := range b.Outputs {
				if _, ok := scope[out]; !ok {
					return fmt.Errorf("%w: block output %q", ErrUndefinedValue, out)
				}
			}
		}
		for _, out := range n.Outputs {
			if _, dup := defined[out]; dup {
				return fmt.Errorf("%w: %q (node %s)", ErrDuplicateValue, out, n.Kind)
			}
			defined[out] = struct{}{}
		}
	}
	return nil
}

// Uses counts how often each value is consumed, including graph outputs.
func Uses(nodes []*Node, outputs []string) map[string]int {
	uses := make(map[string]int)
	for _, n := range nodes {
		for _, in := range n.Inputs {
			uses[in]++
		}
	}
	for _, out := range outputs {
		uses[out]++
	}
	return uses
}
