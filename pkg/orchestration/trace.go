// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/teradata-labs/orka/pkg/types"
)

const (
	// blobSizeThreshold is the serialized size above which a payload map is
	// replaced by a blob reference.
	blobSizeThreshold = 200

	// blobRefType marks a map as a blob reference in the trace file.
	blobRefType = "blob_reference"

	// circularRefSentinel replaces a value revisited on the current walk path.
	circularRefSentinel = "<circular_reference>"
)

// TraceStats summarizes what deduplication did to a trace.
type TraceStats struct {
	TotalBlobs     int   `json:"total_blobs"`
	DedupedBlobs   int   `json:"deduped_blobs"`
	BytesStored    int64 `json:"bytes_stored"`
	BytesSaved     int64 `json:"bytes_saved"`
	CircularBroken int   `json:"circular_broken,omitempty"`
}

// TraceMetadata is the trace file header.
type TraceMetadata struct {
	DeduplicationEnabled bool       `json:"deduplication_enabled"`
	Stats                TraceStats `json:"stats"`
}

// Trace is the persisted record of one run: the ordered event log plus the
// aggregated meta report. Large payloads are hoisted into BlobStore when the
// same content appears more than once.
type Trace struct {
	Metadata     TraceMetadata      `json:"_metadata"`
	BlobStore    map[string]any     `json:"blob_store,omitempty"`
	Events       []types.LogEvent   `json:"events"`
	MetaReport   map[string]any     `json:"meta_report,omitempty"`
	CostAnalysis map[string]float64 `json:"cost_analysis,omitempty"`
}

// BuildTrace assembles a trace from the run's event log. Deduplication runs
// only when at least one blob is referenced twice; otherwise events are kept
// inline.
func BuildTrace(events []types.LogEvent) *Trace {
	tr := &Trace{
		Events:     events,
		MetaReport: buildMetaReport(events),
	}
	if cost := buildCostAnalysis(events); len(cost) > 0 {
		tr.CostAnalysis = cost
	}

	d := newDeduper()
	deduped := make([]types.LogEvent, len(events))
	for i, ev := range events {
		deduped[i] = ev
		if ev.Payload == nil {
			continue
		}
		replaced, ok := d.walkOutput(ev.Payload)
		if ok {
			deduped[i].Payload = replaced
		}
	}

	if d.hasDuplicates() {
		tr.Events = deduped
		tr.BlobStore = d.usedBlobs()
		tr.Metadata = TraceMetadata{DeduplicationEnabled: true, Stats: d.stats()}
	} else {
		tr.Metadata = TraceMetadata{DeduplicationEnabled: false}
	}
	return tr
}

// WriteTrace persists the trace as JSON.
func WriteTrace(path string, tr *Trace) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trace file: %w", err)
	}
	return nil
}

// ParseTrace loads a trace from its JSON form.
func ParseTrace(data []byte) (*Trace, error) {
	var tr Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}
	return &tr, nil
}

// ExpandBlobs resolves blob references back into event payloads, returning
// events equivalent to the pre-deduplication log.
func (tr *Trace) ExpandBlobs() []types.LogEvent {
	if len(tr.BlobStore) == 0 {
		return tr.Events
	}
	out := make([]types.LogEvent, len(tr.Events))
	for i, ev := range tr.Events {
		out[i] = ev
		if ev.Payload == nil {
			continue
		}
		cp := *ev.Payload
		cp.Result = tr.expandValue(cp.Result)
		if cp.Metadata != nil {
			cp.Metadata = tr.expandValue(cp.Metadata).(map[string]any)
		}
		out[i].Payload = &cp
	}
	return out
}

func (tr *Trace) expandValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t["_type"] == blobRefType {
			if ref, ok := t["ref"].(string); ok {
				if blob, found := tr.BlobStore[ref]; found {
					return tr.expandValue(blob)
				}
			}
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = tr.expandValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = tr.expandValue(val)
		}
		return out
	default:
		return v
	}
}

// deduper walks payload values, hoisting large maps into a content-addressed
// blob table and counting how often each blob is referenced.
type deduper struct {
	blobs    map[string]any
	usage    map[string]int
	sizes    map[string]int64
	circular int
}

func newDeduper() *deduper {
	return &deduper{
		blobs: make(map[string]any),
		usage: make(map[string]int),
		sizes: make(map[string]int64),
	}
}

// walkOutput rewrites an output envelope with blob references for its large
// payload values. Returns false when nothing was replaced.
func (d *deduper) walkOutput(out *types.Output) (*types.Output, bool) {
	path := make(map[uintptr]struct{})
	result := d.walk(out.Result, path)
	var meta any
	if out.Metadata != nil {
		meta = d.walk(out.Metadata, path)
	}

	changed := !reflect.DeepEqual(result, out.Result) ||
		!reflect.DeepEqual(meta, out.Metadata)
	if !changed {
		return out, false
	}

	cp := *out
	cp.Result = result
	if meta == nil {
		cp.Metadata = nil
	} else if m, ok := meta.(map[string]any); ok {
		cp.Metadata = m
	}
	return &cp, true
}

// walk visits maps and slices. The path set carries the container pointers on
// the current descent so a self-referencing structure breaks instead of
// looping.
func (d *deduper) walk(v any, path map[uintptr]struct{}) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		ptr := rv.Pointer()
		if _, onPath := path[ptr]; onPath {
			d.circular++
			return circularRefSentinel
		}
		path[ptr] = struct{}{}
		defer delete(path, ptr)
	default:
		return v
	}

	switch t := v.(type) {
	case map[string]any:
		walked := make(map[string]any, len(t))
		for k, val := range t {
			walked[k] = d.walk(val, path)
		}
		data, err := json.Marshal(walked)
		if err != nil || len(data) <= blobSizeThreshold {
			return walked
		}
		sum := sha256.Sum256(data)
		ref := hex.EncodeToString(sum[:])
		if _, seen := d.blobs[ref]; !seen {
			d.blobs[ref] = walked
			d.sizes[ref] = int64(len(data))
		}
		d.usage[ref]++
		return map[string]any{"ref": ref, "_type": blobRefType}
	case []any:
		walked := make([]any, len(t))
		for i, val := range t {
			walked[i] = d.walk(val, path)
		}
		return walked
	default:
		return v
	}
}

func (d *deduper) hasDuplicates() bool {
	for _, n := range d.usage {
		if n >= 2 {
			return true
		}
	}
	return false
}

func (d *deduper) usedBlobs() map[string]any {
	out := make(map[string]any, len(d.blobs))
	for ref, blob := range d.blobs {
		out[ref] = blob
	}
	return out
}

func (d *deduper) stats() TraceStats {
	s := TraceStats{
		TotalBlobs:     len(d.blobs),
		CircularBroken: d.circular,
	}
	for ref, n := range d.usage {
		s.BytesStored += d.sizes[ref]
		if n >= 2 {
			s.DedupedBlobs++
			s.BytesSaved += d.sizes[ref] * int64(n-1)
		}
	}
	return s
}

// buildMetaReport aggregates latency and token metrics across the event log.
func buildMetaReport(events []types.LogEvent) map[string]any {
	var (
		totalMS   int64
		tokens    float64
		errors    int
		perAgent  = make(map[string]int64)
		agentsRun []string
		seen      = make(map[string]struct{})
	)
	for _, ev := range events {
		if ev.Payload == nil {
			continue
		}
		totalMS += ev.Payload.ExecutionTimeMS
		perAgent[ev.AgentID] += ev.Payload.ExecutionTimeMS
		if ev.Payload.Status == types.StatusError {
			errors++
		}
		if v, ok := ev.Payload.Metrics["total_tokens"]; ok {
			tokens += v
		}
		if _, dup := seen[ev.AgentID]; !dup {
			seen[ev.AgentID] = struct{}{}
			agentsRun = append(agentsRun, ev.AgentID)
		}
	}
	sort.Strings(agentsRun)
	return map[string]any{
		"total_events":      len(events),
		"total_duration_ms": totalMS,
		"total_tokens":      tokens,
		"total_errors":      errors,
		"agents_executed":   agentsRun,
		"latency_by_agent":  perAgent,
	}
}

// buildCostAnalysis sums token metrics per agent; empty when no agent
// reported usage.
func buildCostAnalysis(events []types.LogEvent) map[string]float64 {
	cost := make(map[string]float64)
	for _, ev := range events {
		if ev.Payload == nil {
			continue
		}
		if v, ok := ev.Payload.Metrics["total_tokens"]; ok {
			cost[ev.AgentID] += v
		}
	}
	return cost
}
