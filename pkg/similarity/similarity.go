// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity provides vector similarity and distance computations.
//
// # Description
//
// Pure functions with no I/O. Distances are "smaller is closer", so ranking
// by distance is ascending. All arithmetic is done in float64 regardless of
// the float32 storage type of embeddings.
//
// # Thread Safety
//
// All functions are safe for concurrent use.
package similarity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
)

// Metric selects a distance function.
type Metric string

const (
	// Cosine is 1 - cosine similarity.
	Cosine Metric = "cosine"
	// L1 is the Manhattan (cityblock) distance.
	L1 Metric = "l1"
	// L2 is the Euclidean distance.
	L2 Metric = "l2"
	// Linf is the Chebyshev distance.
	Linf Metric = "linf"
)

// ParseMetric maps a metric name or common alias to a Metric.
//
// # Inputs
//
//   - name: case-insensitive; accepts cosine, l1, manhattan, cityblock, l2,
//     euclidean, linf, chebyshev.
//
// # Outputs
//
//   - Metric: the parsed metric.
//   - error: *faults.InvalidArgumentError for unknown names.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cosine":
		return Cosine, nil
	case "l1", "manhattan", "cityblock":
		return L1, nil
	case "l2", "euclidean":
		return L2, nil
	case "linf", "chebyshev":
		return Linf, nil
	}
	return "", &faults.InvalidArgumentError{Field: "metric", Reason: fmt.Sprintf("unsupported metric %q", name)}
}

// CosineSimilarity returns dot(a,b) / (||a|| * ||b||).
//
// # Description
//
// The result lies in [-1, 1]. CosineSimilarity(a, a) is 1 for any nonzero
// a, and the function is symmetric in its arguments.
//
// # Outputs
//
//   - float64: the similarity.
//   - error: *faults.InvalidInputError when either vector has zero norm or
//     the lengths differ.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &faults.InvalidInputError{Reason: fmt.Sprintf("vector length mismatch: %d vs %d", len(a), len(b))}
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, &faults.InvalidInputError{Reason: "cosine similarity undefined for zero-norm vector"}
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors slightly past 1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// Distances computes the distance from query to every candidate.
//
// # Inputs
//
//   - query: the query vector.
//   - candidates: vectors to compare against; each must match len(query).
//   - metric: the distance function.
//
// # Outputs
//
//   - []float64: distances in candidate order.
//   - error: InvalidInputError for length mismatch or zero-norm vectors
//     under Cosine; InvalidArgumentError for an unknown metric.
func Distances(query []float32, candidates [][]float32, metric Metric) ([]float64, error) {
	var fn func(a, b []float32) (float64, error)
	switch metric {
	case Cosine:
		fn = cosineDistance
	case L1:
		fn = manhattan
	case L2:
		fn = euclidean
	case Linf:
		fn = chebyshev
	default:
		return nil, &faults.InvalidArgumentError{Field: "metric", Reason: fmt.Sprintf("unsupported metric %q", metric)}
	}

	out := make([]float64, len(candidates))
	for i, c := range candidates {
		if len(c) != len(query) {
			return nil, &faults.InvalidInputError{
				Reason: fmt.Sprintf("candidate %d has length %d, query has %d", i, len(c), len(query)),
			}
		}
		d, err := fn(query, c)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// NearestIndices returns the indices of the n smallest distances.
//
// # Description
//
// Ties keep their original index order. When n exceeds len(distances) the
// result is truncated to the available length; n <= 0 yields an empty slice.
//
// # Examples
//
//	NearestIndices([]float64{0.9, 0.1, 0.5}, 2) // [1 2]
func NearestIndices(distances []float64, n int) []int {
	if n <= 0 {
		return []int{}
	}
	idx := make([]int, len(distances))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return distances[idx[i]] < distances[idx[j]]
	})
	if n > len(idx) {
		n = len(idx)
	}
	return idx[:n]
}

func cosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

func manhattan(a, b []float32) (float64, error) {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum, nil
}

func euclidean(a, b []float32) (float64, error) {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func chebyshev(a, b []float32) (float64, error) {
	var max float64
	for i := range a {
		if d := math.Abs(float64(a[i]) - float64(b[i])); d > max {
			max = d
		}
	}
	return max, nil
}
