// Package retrieval selects the passages most similar to a query vector.
package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/repository"
)

type Retriever struct {
	index repository.PassageIndex
}

func New(index repository.PassageIndex) *Retriever {
	return &Retriever{index: index}
}

// Retrieve returns up to k passages of domain ordered by cosine similarity,
// highest first, with ties broken by passage ID ascending. A domain without
// any passage yields a result with Empty set and no error.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, domain model.Domain, k int) (*model.RetrievalResult, error) {
	if k <= 0 {
		return &model.RetrievalResult{}, nil
	}

	candidates, err := r.index.Candidates(ctx, domain, vector, k)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, goerr.Wrap(err, "retrieval abandoned")
		}
		if errors.Is(err, model.ErrRetrievalService) {
			return nil, goerr.Wrap(err, "passage index unreachable", goerr.V("domain", domain))
		}
		return nil, goerr.Wrap(model.ErrRetrievalService, "passage index failed",
			goerr.V("domain", domain), goerr.V("cause", err.Error()))
	}

	scored := make([]model.ScoredPassage, 0, len(candidates))
	for _, p := range candidates {
		if p == nil || !domain.Matches(p.Domain) {
			continue
		}
		scored = append(scored, model.ScoredPassage{
			Passage: p,
			Score:   Cosine(vector, p.Embedding),
		})
	}

	if len(scored) == 0 {
		return &model.RetrievalResult{Empty: true}, nil
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Passage.ID < scored[j].Passage.ID
	})

	result := &model.RetrievalResult{Passages: make([]model.ScoredPassage, 0, min(k, len(scored)))}
	seen := make(map[model.PassageID]struct{}, len(scored))
	for _, sp := range scored {
		if len(result.Passages) == k {
			break
		}
		if _, ok := seen[sp.Passage.ID]; ok {
			continue
		}
		seen[sp.Passage.ID] = struct{}{}
		result.Passages = append(result.Passages, sp)
	}

	return result, nil
}

// Cosine returns the cosine similarity of a and b. A zero vector, a pair of
// different lengths, or a vector with a NaN or infinite component has
// similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}
