// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package report defines the versioned profile document and its
// deterministic JSON serialization. The document is the only interface
// handed to renderers; once built it is immutable.
package report // import "github.com/callscope/callscope/report"

import (
	"time"

	"github.com/callscope/callscope/aggregator"
	"github.com/callscope/callscope/libprof"
	"github.com/callscope/callscope/memsampler"
)

// SchemaVersion is the current report schema. Changes are additive only;
// readers reject versions above the one they know.
const SchemaVersion = 1

// Report is the finalized profile document.
type Report struct {
	SchemaVersion      int      `json:"schema_version"`
	RunID              string   `json:"run_id,omitempty"`
	Target             Target   `json:"target"`
	WallTimeMillis     float64  `json:"wall_time_ms"`
	CPUTimeMillis      float64  `json:"cpu_time_ms,omitempty"`
	Truncated          bool     `json:"truncated"`
	DroppedEventsCount uint64   `json:"dropped_events_count"`
	Threads            []Thread `json:"threads"`
	Memory             Memory   `json:"memory"`
	Exit               *Exit    `json:"exit,omitempty"`
}

// Target describes what was profiled.
type Target struct {
	Language   string   `json:"language"`
	Entrypoint string   `json:"entrypoint"`
	Argv       []string `json:"argv,omitempty"`
}

// Thread is one thread's profile in the document.
type Thread struct {
	ThreadID uint32    `json:"thread_id"`
	Degraded bool      `json:"degraded"`
	CallTree *CallNode `json:"call_tree"`
}

// CallNode is the serialized form of one call-tree node. Children keep
// first-entry order, making serialization deterministic.
type CallNode struct {
	Function         FunctionRef `json:"function"`
	SelfMillis       float64     `json:"self_ms"`
	CumulativeMillis float64     `json:"cumulative_ms"`
	CallCount        uint64      `json:"call_count"`
	AllocBytes       uint64      `json:"alloc_bytes"`
	Children         []*CallNode `json:"children"`
}

// FunctionRef is the stable function identity in wire form.
type FunctionRef struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	Line   uint32 `json:"line"`
}

// RootFunctionName marks the synthetic per-thread root node.
const RootFunctionName = "<root>"

// Memory is the memory section of the document.
type Memory struct {
	PeakBytes          uint64       `json:"peak_bytes"`
	Samples            []Sample     `json:"samples"`
	SamplerAdjustments []Adjustment `json:"sampler_adjustments,omitempty"`
}

// Sample is one memory time-series point.
type Sample struct {
	TimeMillis    float64 `json:"t_ms"`
	ResidentBytes uint64  `json:"resident_bytes"`
	HeapBytes     uint64  `json:"heap_bytes,omitempty"`
}

// Adjustment records one sampler backoff for inspection.
type Adjustment struct {
	TimeMillis          float64 `json:"t_ms"`
	IntervalMillis      float64 `json:"interval_ms,omitempty"`
	AllocEventThreshold uint64  `json:"alloc_event_threshold,omitempty"`
}

// Exit describes how the target terminated.
type Exit struct {
	Kind   string `json:"kind"`
	Code   int    `json:"code"`
	Signal int    `json:"signal,omitempty"`
}

// BuildInfo carries everything the builder folds into a Report.
type BuildInfo struct {
	RunID       string
	Target      Target
	WallTime    time.Duration
	CPUTime     time.Duration
	Truncated   bool
	Dropped     uint64
	Profiles    []*aggregator.ThreadProfile
	Samples     []libprof.MemorySample
	Adjustments []memsampler.Adjustment
	Exit        *Exit
}

// Build folds the aggregator and sampler outputs into an immutable Report.
func Build(info BuildInfo) *Report {
	r := &Report{
		SchemaVersion:      SchemaVersion,
		RunID:              info.RunID,
		Target:             info.Target,
		WallTimeMillis:     libprof.DurationToMillis(info.WallTime),
		CPUTimeMillis:      libprof.DurationToMillis(info.CPUTime),
		Truncated:          info.Truncated,
		DroppedEventsCount: info.Dropped,
		Threads:            make([]Thread, 0, len(info.Profiles)),
		Exit:               info.Exit,
	}

	for _, p := range info.Profiles {
		if p.Truncated {
			r.Truncated = true
		}
		r.Threads = append(r.Threads, Thread{
			ThreadID: uint32(p.TID),
			Degraded: p.Degraded,
			CallTree: convertTree(p.Tree, aggregator.RootIndex),
		})
	}

	r.Memory.Samples = make([]Sample, 0, len(info.Samples))
	for _, s := range info.Samples {
		r.Memory.Samples = append(r.Memory.Samples, Sample{
			TimeMillis:    libprof.DurationToMillis(s.Timestamp),
			ResidentBytes: s.ResidentBytes,
			HeapBytes:     s.HeapBytes,
		})
		if s.ResidentBytes > r.Memory.PeakBytes {
			r.Memory.PeakBytes = s.ResidentBytes
		}
	}

	for _, a := range info.Adjustments {
		r.Memory.SamplerAdjustments = append(r.Memory.SamplerAdjustments,
			Adjustment{
				TimeMillis:          libprof.DurationToMillis(a.At),
				IntervalMillis:      libprof.DurationToMillis(a.Interval),
				AllocEventThreshold: a.AllocEventThreshold,
			})
	}

	return r
}

// convertTree maps the arena representation onto the nested wire form.
func convertTree(tree *aggregator.CallTree, idx int32) *CallNode {
	node := tree.Node(idx)

	out := &CallNode{
		Function: FunctionRef{
			Module: node.Function.Module,
			Name:   node.Function.Name,
			Line:   node.Function.Line,
		},
		SelfMillis:       libprof.DurationToMillis(node.Self),
		CumulativeMillis: libprof.DurationToMillis(node.Cumulative),
		CallCount:        node.CallCount,
		AllocBytes:       node.AllocBytes,
		Children:         make([]*CallNode, 0, len(node.Children())),
	}
	if idx == aggregator.RootIndex {
		out.Function.Name = RootFunctionName
	}

	for _, child := range node.Children() {
		c := convertTree(tree, child)
		out.Children = append(out.Children, c)
		if idx == aggregator.RootIndex {
			// The synthetic root spans its top-level calls.
			out.CumulativeMillis += c.CumulativeMillis
		}
	}
	return out
}
