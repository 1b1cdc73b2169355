package graph

import (
	"errors"
	"testing"
)

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	g := &Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []*Node{
			{Kind: "aten::conv2d", Inputs: []string{"x", "w"}, Outputs: []string{"c"}},
			{Kind: "aten::relu", Inputs: []string{"c"}, Outputs: []string{"y"}},
		},
	}
	if err := g.Validate([]string{"w"}); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsUseBeforeDefinition(t *testing.T) {
	g := &Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []*Node{
			{Kind: "aten::relu", Inputs: []string{"c"}, Outputs: []string{"y"}},
		},
	}
	if err := g.Validate(nil); !errors.Is(err, ErrUndefinedValue) {
		t.Fatalf("expected ErrUndefinedValue, got %v", err)
	}
}

func TestValidateRejectsDuplicateDefinition(t *testing.T) {
	g := &Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"x"},
		Nodes: []*Node{
			{Kind: "aten::relu", Inputs: []string{"x"}, Outputs: []string{"x"}},
		},
	}
	if err := g.Validate(nil); !errors.Is(err, ErrDuplicateValue) {
		t.Fatalf("expected ErrDuplicateValue, got %v", err)
	}
}

func TestValidateBlockScopeAndArity(t *testing.T) {
	ifNode := &Node{
		Kind:    "prim::If",
		Inputs:  []string{"cond"},
		Outputs: []string{"y"},
		Blocks: []*Block{
			{Nodes: []*Node{{Kind: "aten::relu", Inputs: []string{"x"}, Outputs: []string{"a"}}}, Outputs: []string{"a"}},
			{Outputs: []string{"x"}},
		},
	}
	g := &Graph{
		Inputs:  []string{"x", "cond"},
		Outputs: []string{"y"},
		Nodes:   []*Node{ifNode},
	}
	if err := g.Validate(nil); err != nil {
		t.Fatalf("validate: %v", err)
	}

	leaky := g.Clone()
	leaky.Outputs = []string{"a"}
	if err := leaky.Validate(nil); !errors.Is(err, ErrUndefinedValue) {
		t.Fatalf("block-local value must not escape, got %v", err)
	}

	bad := g.Clone()
	bad.Nodes[0].Blocks[1].Outputs = nil
	if err := bad.Validate(nil); !errors.Is(err, ErrBlockArity) {
		t.Fatalf("expected ErrBlockArity, got %v", err)
	}
}

func TestAttrsAccessors(t *testing.T) {
	a := Attrs{
		"stride":  Ints(2),
		"padding": Ints(1, 3),
		"groups":  Int(4),
		"eps":     Float(1e-5),
		"mode":    String("same"),
	}
	if got := a.Ints("stride", 2, 1); got[0] != 2 || got[1] != 2 {
		t.Fatalf("single-element list must broadcast: %v", got)
	}
	if got := a.Ints("padding", 2, 0); got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected padding: %v", got)
	}
	if got := a.Ints("dilation", 2, 1); got[0] != 1 || got[1] != 1 {
		t.Fatalf("missing attr must use default: %v", got)
	}
	if a.Int("groups", 1) != 4 || a.Int("missing", 7) != 7 {
		t.Fatalf("unexpected int accessors")
	}
	if a.Float("eps", 0) != 1e-5 || a.String("mode", "") != "same" {
		t.Fatalf("unexpected float/string accessors")
	}
	if got := a.Keys(); len(got) != 5 || got[0] != "eps" {
		t.Fatalf("keys must be sorted: %v", got)
	}

	c := a.Clone()
	c["padding"].Ints[0] = 9
	if a["padding"].Ints[0] != 1 {
		t.Fatalf("clone aliases list storage")
	}
}

func TestUsesCountsOutputs(t *testing.T) {
	nodes := []*Node{
		{Kind: "aten::add", Inputs: []string{"a", "a"}, Outputs: []string{"b"}},
	}
	uses := Uses(nodes, []string{"b"})
	if uses["a"] != 2 || uses["b"] != 1 {
		t.Fatalf("unexpected uses: %v", uses)
	}
}
