// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// Default search tuning shared by all backends.
const (
	DefaultSearchLimit        = 10
	DefaultContextWeight      = 0.2
	DefaultTemporalDecayHours = 24.0
)

// searchEntries is the backend-independent read path: filter candidates,
// score by vector (when an embedder and entry vectors are available) or by
// keyword overlap, rerank, sort, and truncate.
func searchEntries(ctx context.Context, candidates []Entry, req SearchRequest, embedder Embedder, now time.Time) ([]ScoredEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var queryVec []float32
	if embedder != nil && req.Query != "" {
		vec, err := embedder.Encode(ctx, req.Query)
		if err == nil {
			queryVec = vec
		}
		// Embedding failures degrade to keyword search.
	}

	variations := QueryVariations(req.Query)

	scored := make([]ScoredEntry, 0, len(candidates))
	for i := range candidates {
		entry := candidates[i]
		if !matchesFilters(&entry, req, now) {
			continue
		}

		raw := 0.0
		if queryVec != nil && len(entry.Vector) > 0 {
			raw = VectorScore(queryVec, entry.Vector)
		} else {
			raw = keywordScore(variations, entry.Content)
		}

		se := ScoredEntry{Entry: entry, RawSimilarity: raw}
		rerank(&se, req, now)

		if req.SimilarityThreshold > 0 && se.Similarity < req.SimilarityThreshold {
			continue
		}
		scored = append(scored, se)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// matchesFilters applies the pre-rerank filters: node id, category, memory
// type, expiry, and log type.
func matchesFilters(e *Entry, req SearchRequest, now time.Time) bool {
	if req.NodeID != "" && e.NodeID != req.NodeID {
		return false
	}
	if req.CategoryFilter != "" && string(e.Category) != req.CategoryFilter {
		return false
	}
	if req.TypeFilter != "" && string(e.MemoryType) != req.TypeFilter {
		return false
	}
	if e.Expired(now) {
		return false
	}
	switch req.LogType {
	case "memory":
		return e.Category == CategoryStored
	case "log":
		return e.Category == CategoryLog
	}
	return true
}

// rerank multiplies the raw similarity by length, recency, metadata, and
// context factors, recording each factor on the entry.
func rerank(se *ScoredEntry, req SearchRequest, now time.Time) {
	factors := map[string]float64{}

	lf := LengthFactor(se.Content)
	factors["length"] = lf

	rf := 1.0
	if req.TemporalRanking {
		decayHours := req.TemporalDecayHours
		if decayHours <= 0 {
			decayHours = DefaultTemporalDecayHours
		}
		ageHours := now.Sub(time.UnixMilli(se.TimestampMS)).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		rf = math.Exp(-ageHours / decayHours)
		factors["recency"] = rf
	}

	mf := MetadataFactor(&se.Entry)
	factors["metadata"] = mf

	cf := 1.0
	if len(req.Context) > 0 {
		weight := req.ContextWeight
		if weight <= 0 {
			weight = DefaultContextWeight
		}
		cf = ContextFactor(se.Content, req.Context, weight)
		factors["context"] = cf
	}

	se.Factors = factors
	se.Similarity = clamp01(se.RawSimilarity * lf * rf * mf * cf)
}

// QueryVariations expands a multi-token query to improve recall on short
// queries: the original, a reversed-bigram swap, an "about X" phrasing,
// and the first-and-last words.
func QueryVariations(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	variations := []string{query}
	words := strings.Fields(query)
	if len(words) < 2 {
		return variations
	}

	swapped := append([]string(nil), words...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	variations = append(variations, strings.Join(swapped, " "))
	variations = append(variations, "about "+query)
	variations = append(variations, words[0]+" "+words[len(words)-1])
	return variations
}

// keywordScore is the best token-overlap score of any query variation.
func keywordScore(variations []string, content string) float64 {
	best := 0.0
	for _, v := range variations {
		if s := TokenOverlap(v, content); s > best {
			best = s
		}
	}
	return best
}

// TokenOverlap is the fraction of query tokens present in the content.
func TokenOverlap(query, content string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	contentSet := make(map[string]struct{})
	for _, tok := range tokenize(content) {
		contentSet[tok] = struct{}{}
	}
	hits := 0
	for _, tok := range queryTokens {
		if _, ok := contentSet[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// LengthFactor is a bell curve favoring 20-200 word contents, max 1.1.
func LengthFactor(content string) float64 {
	words := len(strings.Fields(content))
	switch {
	case words == 0:
		return 0.5
	case words < 20:
		return 0.8 + 0.3*float64(words)/20
	case words <= 200:
		return 1.1
	case words <= 500:
		return 1.1 - 0.3*float64(words-200)/300
	default:
		return 0.8
	}
}

// MetadataFactor rewards annotated entries: +0.1 per metadata key up to
// +0.2, plus +0.15 for stored-category entries.
func MetadataFactor(e *Entry) float64 {
	factor := 1.0
	boost := 0.1 * float64(len(e.Metadata))
	if boost > 0.2 {
		boost = 0.2
	}
	factor += boost
	if e.Category == CategoryStored {
		factor += 0.15
	}
	return factor
}

// ContextFactor boosts entries overlapping the last three conversation
// items, weighted by contextWeight.
func ContextFactor(content string, contextItems []string, contextWeight float64) float64 {
	if len(contextItems) > 3 {
		contextItems = contextItems[len(contextItems)-3:]
	}
	joined := strings.Join(contextItems, " ")
	overlap := TokenOverlap(content, joined)
	return 1 + contextWeight*overlap
}

// VectorScore converts cosine similarity into a [0,1] score:
// 1 - normalized distance.
func VectorScore(a, b []float32) float64 {
	cos := cosine(a, b)
	dist := (1 - cos) / 2
	return clamp01(1 - dist)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
