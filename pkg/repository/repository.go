package repository

import (
	"context"

	"github.com/maplebond/maplebond/pkg/model"
)

// PassageIndex is the read path of the passage index used while serving queries
type PassageIndex interface {
	// Candidates returns passages of the domain that are worth scoring against
	// vector, at least k of them when the domain has that many. DomainGeneral
	// matches every domain. An index without matching passages returns an
	// empty slice and no error.
	Candidates(ctx context.Context, domain model.Domain, vector []float32, k int) ([]*model.Passage, error)
}
