/*
Copyright 2020 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dag implements a directed acyclic graph over package names, used
// by the resolver to linearize the build order and to detect circular
// dependencies.
package dag

import (
	"strings"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

// Node is a node in the graph.
type Node interface {
	Identifier() string
	Neighbors() []Node

	// AddNeighbors should establish uniqueness of neighbors or risk
	// counting one multiple times.
	AddNeighbors(ns ...Node) error
}

// DAG is a directed acyclic graph.
type DAG interface {
	AddNode(n Node) error
	AddNodes(ns ...Node) error
	GetNode(identifier string) (Node, error)
	AddEdge(from string, to Node) (bool, error)
	NodeExists(identifier string) bool
	Sort() ([]string, error)
}

// MapDag is a DAG implementation backed by a map. It additionally tracks
// insertion order so that Sort is reproducible across runs over the same
// input, independent of Go's randomized map iteration.
type MapDag struct {
	nodes map[string]Node
	order []string
}

// NewMapDag creates an empty MapDag.
func NewMapDag() *MapDag {
	return &MapDag{nodes: map[string]Node{}}
}

// AddNodes adds nodes to the graph.
func (d *MapDag) AddNodes(nodes ...Node) error {
	for _, n := range nodes {
		if err := d.AddNode(n); err != nil {
			return err
		}
	}
	return nil
}

// AddNode adds a node to the graph.
func (d *MapDag) AddNode(node Node) error {
	if _, ok := d.nodes[node.Identifier()]; ok {
		return errors.Errorf("node %s already exists", node.Identifier())
	}
	d.nodes[node.Identifier()] = node
	d.order = append(d.order, node.Identifier())
	return nil
}

// NodeExists checks whether a node exists.
func (d *MapDag) NodeExists(identifier string) bool {
	_, exists := d.nodes[identifier]
	return exists
}

// GetNode returns a node in the dag.
func (d *MapDag) GetNode(identifier string) (Node, error) {
	n, ok := d.nodes[identifier]
	if !ok {
		return nil, errors.Errorf("node %s does not exist", identifier)
	}
	return n, nil
}

// AddEdge adds an edge to the graph. The destination node is implied (added
// to the graph) if it doesn't already exist; the bool return reports whether
// that happened.
func (d *MapDag) AddEdge(from string, to Node) (bool, error) {
	if _, ok := d.nodes[from]; !ok {
		return false, errors.Errorf("node %s does not exist", from)
	}
	implied := false
	if _, ok := d.nodes[to.Identifier()]; !ok {
		implied = true
		if err := d.AddNode(to); err != nil {
			return implied, err
		}
	}
	return implied, d.nodes[from].AddNeighbors(to)
}

// CycleError is returned by Sort when the graph contains a circular
// dependency. Chain lists every package in the cycle, starting and ending
// on the same name, in the order the cycle was walked.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "circular dependency: " + strings.Join(e.Chain, " -> ")
}

// Sort performs a topological sort on the graph, visiting nodes in a
// deterministic order (the order they were added) so that Sort is
// reproducible across runs of the same resolution. It returns a *CycleError
// (use errors.As) naming every node on the offending cycle if one exists.
func (d *MapDag) Sort() ([]string, error) {
	visited := map[string]bool{}
	onStack := map[string]bool{}
	path := []string{}
	var results []string

	var visit func(name string) error
	visit = func(name string) error {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		node := d.nodes[name]
		for _, n := range node.Neighbors() {
			id := n.Identifier()
			if _, ok := d.nodes[id]; !ok {
				return errors.Errorf("node %q does not exist", id)
			}
			if onStack[id] {
				chain := append([]string{}, path...)
				chain = append(chain, id)
				// Trim the chain down to just the cycle itself.
				for i, p := range chain {
					if p == id {
						chain = chain[i:]
						break
					}
				}
				return &CycleError{Chain: chain}
			}
			if !visited[id] {
				if err := visit(id); err != nil {
					return err
				}
			}
		}

		results = append(results, name)
		onStack[name] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, n := range d.order {
		if !visited[n] {
			if err := visit(n); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}
