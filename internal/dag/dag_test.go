package dag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testNode struct {
	id        string
	neighbors []Node
}

func (n *testNode) Identifier() string { return n.id }
func (n *testNode) Neighbors() []Node  { return n.neighbors }
func (n *testNode) AddNeighbors(ns ...Node) error {
	n.neighbors = append(n.neighbors, ns...)
	return nil
}

func TestSortLinearChain(t *testing.T) {
	// c depends on b depends on a: a must come before b before c.
	a := &testNode{id: "a"}
	b := &testNode{id: "b"}
	c := &testNode{id: "c"}

	g := NewMapDag()
	if err := g.AddNodes(a, b, c); err != nil {
		t.Fatalf("AddNodes(...): unexpected error: %v", err)
	}
	if _, err := g.AddEdge("b", a); err != nil {
		t.Fatalf("AddEdge(...): unexpected error: %v", err)
	}
	if _, err := g.AddEdge("c", b); err != nil {
		t.Fatalf("AddEdge(...): unexpected error: %v", err)
	}

	got, err := g.Sort()
	if err != nil {
		t.Fatalf("Sort(): unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sort(): -want, +got:\n%s", diff)
	}
}

func TestSortReproducibleForSameInsertionOrder(t *testing.T) {
	build := func() *MapDag {
		a := &testNode{id: "a"}
		b := &testNode{id: "b"}
		c := &testNode{id: "c"}
		g := NewMapDag()
		_ = g.AddNodes(a, b, c)
		_, _ = g.AddEdge("c", a)
		_, _ = g.AddEdge("c", b)
		return g
	}

	first, err := build().Sort()
	if err != nil {
		t.Fatalf("Sort(): unexpected error: %v", err)
	}
	second, err := build().Sort()
	if err != nil {
		t.Fatalf("Sort(): unexpected error: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Sort() is not reproducible across equivalent builds: -first, +second:\n%s", diff)
	}
}

func TestSortDetectsCycle(t *testing.T) {
	a := &testNode{id: "a"}
	b := &testNode{id: "b"}
	c := &testNode{id: "c"}

	g := NewMapDag()
	_ = g.AddNodes(a, b, c)
	_, _ = g.AddEdge("a", b)
	_, _ = g.AddEdge("b", c)
	_, _ = g.AddEdge("c", a)

	_, err := g.Sort()
	if err == nil {
		t.Fatal("Sort(): expected a cycle error, got none")
	}
	var cerr *CycleError
	if !asCycleError(err, &cerr) {
		t.Fatalf("Sort(): expected a *CycleError, got %T: %v", err, err)
	}
	if len(cerr.Chain) < 2 || cerr.Chain[0] != cerr.Chain[len(cerr.Chain)-1] {
		t.Errorf("Sort(): cycle chain should start and end on the same node, got %v", cerr.Chain)
	}
}

func asCycleError(err error, target **CycleError) bool {
	c, ok := err.(*CycleError)
	if !ok {
		return false
	}
	*target = c
	return true
}
