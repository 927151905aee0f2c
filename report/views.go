// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package report // import "github.com/callscope/callscope/report"

import (
	"sort"
)

// FunctionStat is a flat per-function aggregate across all threads.
type FunctionStat struct {
	Function         FunctionRef `json:"function"`
	SelfMillis       float64     `json:"self_ms"`
	CumulativeMillis float64     `json:"cumulative_ms"`
	CallCount        uint64      `json:"call_count"`
	AllocBytes       uint64      `json:"alloc_bytes"`
}

// Edge is one caller→callee aggregate across all threads.
type Edge struct {
	Caller           FunctionRef `json:"caller"`
	Callee           FunctionRef `json:"callee"`
	CallCount        uint64      `json:"call_count"`
	CumulativeMillis float64     `json:"cumulative_ms"`
}

// TopBySelf returns the n hottest functions by self time. Derived on
// demand; the report itself stores no redundant ranking.
func (r *Report) TopBySelf(n int) []FunctionStat {
	stats := r.flatten()
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].SelfMillis > stats[j].SelfMillis
	})
	if n >= 0 && n < len(stats) {
		stats = stats[:n]
	}
	return stats
}

// TopByCumulative returns the n most expensive functions including
// callees.
func (r *Report) TopByCumulative(n int) []FunctionStat {
	stats := r.flatten()
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].CumulativeMillis > stats[j].CumulativeMillis
	})
	if n >= 0 && n < len(stats) {
		stats = stats[:n]
	}
	return stats
}

// Edges returns the caller→callee aggregates ordered by cumulative time,
// most expensive first.
func (r *Report) Edges() []Edge {
	index := make(map[[2]FunctionRef]int)
	var edges []Edge

	var walk func(parent *CallNode)
	walk = func(parent *CallNode) {
		for _, child := range parent.Children {
			if parent.Function.Name != RootFunctionName {
				key := [2]FunctionRef{parent.Function, child.Function}
				i, ok := index[key]
				if !ok {
					i = len(edges)
					index[key] = i
					edges = append(edges, Edge{
						Caller: parent.Function,
						Callee: child.Function,
					})
				}
				edges[i].CallCount += child.CallCount
				edges[i].CumulativeMillis += child.CumulativeMillis
			}
			walk(child)
		}
	}

	for _, t := range r.Threads {
		if t.CallTree != nil {
			walk(t.CallTree)
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].CumulativeMillis > edges[j].CumulativeMillis
	})
	return edges
}

// flatten merges all call-tree nodes into per-function aggregates.
func (r *Report) flatten() []FunctionStat {
	index := make(map[FunctionRef]int)
	var stats []FunctionStat

	var walk func(node *CallNode)
	walk = func(node *CallNode) {
		if node.Function.Name != RootFunctionName {
			i, ok := index[node.Function]
			if !ok {
				i = len(stats)
				index[node.Function] = i
				stats = append(stats, FunctionStat{Function: node.Function})
			}
			stats[i].SelfMillis += node.SelfMillis
			stats[i].CumulativeMillis += node.CumulativeMillis
			stats[i].CallCount += node.CallCount
			stats[i].AllocBytes += node.AllocBytes
		}
		for _, child := range node.Children {
			walk(child)
		}
	}

	for _, t := range r.Threads {
		if t.CallTree != nil {
			walk(t.CallTree)
		}
	}
	return stats
}
