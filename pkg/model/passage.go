package model

import (
	"math"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type PassageID string

// NewPassageID generates a new unique PassageID
func NewPassageID() PassageID {
	return PassageID(uuid.New().String())
}

// Passage is a unit of indexed knowledge-base text with a precomputed embedding.
// Passages are read-only while queries are served.
type Passage struct {
	ID        PassageID          `json:"id" yaml:"id" firestore:"ID"`
	Text      string             `json:"text" yaml:"text" firestore:"Text"`
	Domain    Domain             `json:"domain" yaml:"domain" firestore:"Domain"`
	Embedding firestore.Vector32 `json:"embedding,omitempty" yaml:"embedding,omitempty" firestore:"Embedding"`
	Title     string             `json:"title,omitempty" yaml:"title,omitempty" firestore:"Title"`
	SourceURI string             `json:"source_uri,omitempty" yaml:"source_uri,omitempty" firestore:"SourceURI"`
}

// Validate checks if the passage can be indexed
func (p *Passage) Validate() error {
	if p.ID == "" {
		return goerr.Wrap(ErrInvalidInput, "passage ID is empty")
	}
	if p.Text == "" {
		return goerr.Wrap(ErrInvalidInput, "passage text is empty", goerr.V("id", p.ID))
	}
	if p.Domain == DomainGeneral {
		return goerr.Wrap(ErrInvalidInput, "passage cannot be tagged general", goerr.V("id", p.ID))
	}
	if err := p.Domain.Validate(); err != nil {
		return goerr.Wrap(err, "invalid passage domain", goerr.V("id", p.ID))
	}
	if !FiniteVector(p.Embedding) {
		return goerr.Wrap(ErrInvalidInput, "passage embedding has a NaN or infinite component", goerr.V("id", p.ID))
	}
	return nil
}

// FiniteVector reports whether every component of v is a finite number
func FiniteVector(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// ScoredPassage is a passage paired with its similarity to a query vector
type ScoredPassage struct {
	Passage *Passage
	Score   float64
}

// RetrievalResult is ordered by descending similarity with no duplicate passage IDs.
// Empty is set when the requested domain has no passages at all, which callers treat
// as "no grounding available" rather than a failure.
type RetrievalResult struct {
	Passages []ScoredPassage
	Empty    bool
}

// IDs returns passage IDs in result order
func (r *RetrievalResult) IDs() []PassageID {
	if r == nil {
		return nil
	}
	ids := make([]PassageID, 0, len(r.Passages))
	for _, sp := range r.Passages {
		ids = append(ids, sp.Passage.ID)
	}
	return ids
}

// Validate checks ordering and uniqueness invariants
func (r *RetrievalResult) Validate() error {
	seen := make(map[PassageID]struct{}, len(r.Passages))
	for i, sp := range r.Passages {
		if sp.Passage == nil {
			return goerr.New("nil passage in result", goerr.V("index", i))
		}
		if _, ok := seen[sp.Passage.ID]; ok {
			return goerr.New("duplicate passage in result", goerr.V("id", sp.Passage.ID))
		}
		seen[sp.Passage.ID] = struct{}{}
		if math.IsNaN(sp.Score) || math.IsInf(sp.Score, 0) {
			return goerr.New("score is not finite", goerr.V("id", sp.Passage.ID))
		}
		if i > 0 && sp.Score > r.Passages[i-1].Score {
			return goerr.New("scores are not non-increasing", goerr.V("index", i))
		}
	}
	return nil
}
