// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package aggregator // import "github.com/callscope/callscope/aggregator"

import (
	"time"

	"github.com/callscope/callscope/libprof"
)

// RootIndex is the index of the synthetic root node of every CallTree.
const RootIndex int32 = 0

// Node is one aggregated function in a call tree. Children are referenced
// by arena index, never by pointer, so a finalized tree can be walked
// concurrently with collection still running on other threads.
type Node struct {
	// Function is the stable identity this node aggregates. The root
	// node carries the zero identity.
	Function libprof.FunctionID

	// CallCount is the number of completed (or truncated) invocations.
	CallCount uint64

	// Cumulative is the total time spent in the function including
	// callees. Merged recursive re-entries contribute no additional
	// cumulative time; the outermost invocation covers them.
	Cumulative time.Duration

	// Self is the time spent in the function excluding callees.
	Self time.Duration

	// AllocBytes is the allocation volume observed while an invocation
	// of this node was the innermost active frame.
	AllocBytes uint64

	// children holds arena indexes in first-entry order.
	children []int32

	// childByFn resolves a child identity to its arena index.
	childByFn map[libprof.FunctionID]int32
}

// Children returns the arena indexes of the node's children in
// first-entry order. The returned slice must not be modified.
func (n *Node) Children() []int32 {
	return n.children
}

// CallTree is an arena of Nodes owned by exactly one thread's consumer
// during collection. Index 0 is a synthetic root whose children are the
// thread's top-level calls.
type CallTree struct {
	nodes []Node
}

// NewCallTree creates a tree holding only the synthetic root.
func NewCallTree() *CallTree {
	t := &CallTree{nodes: make([]Node, 1, 16)}
	return t
}

// Node returns the node stored at idx. The pointer is only valid until
// the next insertion.
func (t *CallTree) Node(idx int32) *Node {
	return &t.nodes[idx]
}

// Len returns the number of nodes including the root.
func (t *CallTree) Len() int {
	return len(t.nodes)
}

// childOf returns the index of parent's child for fn, inserting a new
// node on first occurrence along this path.
func (t *CallTree) childOf(parent int32, fn libprof.FunctionID) int32 {
	p := &t.nodes[parent]
	if idx, ok := p.childByFn[fn]; ok {
		return idx
	}

	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, Node{Function: fn})

	// Re-resolve parent: the append may have moved the arena.
	p = &t.nodes[parent]
	if p.childByFn == nil {
		p.childByFn = make(map[libprof.FunctionID]int32, 4)
	}
	p.childByFn[fn] = idx
	p.children = append(p.children, idx)
	return idx
}
