// Package match implements blocked fuzzy matching over canonical
// entity collections.
package match

import (
	"context"
	"runtime"
	"sort"

	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/normalize"
	"github.com/openaudit/kestrel/internal/pool"
)

// CandidatePair is one scored match between two entities. For
// self-matching, ID1 < ID2 always holds.
type CandidatePair struct {
	ID1   int64   `json:"id1"`
	ID2   int64   `json:"id2"`
	Score float64 `json:"score"`
}

// Options controls a matching pass.
type Options struct {
	// Threshold is the minimum similarity score to emit (default 0.85).
	Threshold float64

	// MaxCandidates caps matches kept per item (default 10).
	MaxCandidates int
}

// Result is the merged output of one matching pass.
type Result struct {
	Pairs []CandidatePair

	// Skipped counts malformed entities (empty normalized name) that
	// were dropped rather than raising.
	Skipped int
}

// Engine runs blocked fuzzy matching across a bounded worker pool.
// Workers are pure functions over immutable inputs; the coordinator
// merges batch outputs sequentially, so scores are reproducible
// regardless of worker count or batch scheduling.
type Engine struct {
	batchSize int
	workers   int
}

// NewEngine creates a matching engine. batchSize <= 0 defaults to 1000;
// workers <= 0 defaults to NumCPU-1.
func NewEngine(batchSize, workers int) *Engine {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if workers <= 0 {
		workers = max(1, runtime.NumCPU()-1)
	}
	return &Engine{batchSize: batchSize, workers: workers}
}

// blockIndex maps blocking keys to positions in the reference slice.
type blockIndex struct {
	ref  []domain.CanonicalEntity
	keys map[string][]int
}

func buildIndex(ref []domain.CanonicalEntity) *blockIndex {
	idx := &blockIndex{ref: ref, keys: make(map[string][]int)}
	for i, e := range ref {
		for _, k := range normalize.BlockingKeys(e.NormalizedName) {
			idx.keys[k] = append(idx.keys[k], i)
		}
	}
	return idx
}

// candidates returns the deduplicated, sorted reference positions
// sharing at least one blocking key with the normalized name. Sorting
// keeps scoring order independent of map iteration.
func (idx *blockIndex) candidates(normalized string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, k := range normalize.BlockingKeys(normalized) {
		for _, i := range idx.keys[k] {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Match finds candidate pairs between entities and reference at or
// above opts.Threshold. A nil reference self-matches entities (each
// pair emitted once, lower id first). Malformed entities are skipped
// and counted, never an error.
func (e *Engine) Match(ctx context.Context, entities, reference []domain.CanonicalEntity, opts Options) (Result, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.85
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 10
	}

	selfMatch := reference == nil
	if selfMatch {
		reference = entities
	}

	idx := buildIndex(reference)
	batches := pool.Partition(entities, e.batchSize)

	type batchOut struct {
		pairs   []CandidatePair
		skipped int
	}

	results := pool.Run(ctx, batches, e.workers, func(_ context.Context, batch []domain.CanonicalEntity) (batchOut, error) {
		var out batchOut
		for _, item := range batch {
			if item.NormalizedName == "" {
				out.skipped++
				continue
			}
			out.pairs = append(out.pairs, scoreItem(item, idx, selfMatch, opts)...)
		}
		return out, nil
	})

	var merged Result
	for _, r := range results {
		if r.Err != nil {
			return merged, r.Err
		}
		merged.Pairs = append(merged.Pairs, r.Value.pairs...)
		merged.Skipped += r.Value.skipped
	}
	return merged, nil
}

// scoreItem compares one entity against its blocking-key candidates and
// keeps the top matches. Exact normalized-name matches score 1.0 and
// bypass the fuzzy scorer.
func scoreItem(item domain.CanonicalEntity, idx *blockIndex, selfMatch bool, opts Options) []CandidatePair {
	var scored []CandidatePair

	for _, ci := range idx.candidates(item.NormalizedName) {
		cand := idx.ref[ci]
		if cand.NormalizedName == "" {
			continue
		}
		if selfMatch {
			// Emit each pair once, canonical order.
			if cand.ID <= item.ID {
				continue
			}
		} else if cand.Kind == item.Kind && cand.ID == item.ID {
			continue
		}

		var score float64
		if cand.NormalizedName == item.NormalizedName {
			score = 1.0
		} else {
			score = Similarity(item.NormalizedName, cand.NormalizedName)
		}
		if score < opts.Threshold {
			continue
		}

		scored = append(scored, CandidatePair{ID1: item.ID, ID2: cand.ID, Score: score})
	}

	// Best first; ties broken by candidate id for determinism.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID2 < scored[j].ID2
	})
	if len(scored) > opts.MaxCandidates {
		scored = scored[:opts.MaxCandidates]
	}
	return scored
}
