package repository

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
)

// snapshot is an immutable view of the indexed passages
type snapshot struct {
	all      []*model.Passage
	byDomain map[model.Domain][]*model.Passage
}

func newSnapshot(passages []*model.Passage) *snapshot {
	s := &snapshot{
		all:      make([]*model.Passage, 0, len(passages)),
		byDomain: make(map[model.Domain][]*model.Passage),
	}
	for _, p := range passages {
		s.all = append(s.all, p)
		s.byDomain[p.Domain] = append(s.byDomain[p.Domain], p)
	}
	return s
}

// Memory is an in-process passage index. Reads work on an immutable snapshot
// and never block; Replace swaps the snapshot atomically.
type Memory struct {
	current atomic.Pointer[snapshot]
}

func NewMemory(passages []*model.Passage) (*Memory, error) {
	m := &Memory{}
	if err := m.Replace(passages); err != nil {
		return nil, err
	}
	return m, nil
}

// Replace validates passages and installs them as the new snapshot. The
// previous snapshot stays in place if validation fails.
func (m *Memory) Replace(passages []*model.Passage) error {
	seen := make(map[model.PassageID]struct{}, len(passages))
	copied := make([]*model.Passage, 0, len(passages))

	for _, p := range passages {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if len(p.Embedding) == 0 {
			return goerr.Wrap(model.ErrInvalidInput, "passage has no embedding", goerr.V("id", p.ID))
		}
		if _, ok := seen[p.ID]; ok {
			return goerr.Wrap(model.ErrInvalidInput, "duplicate passage ID", goerr.V("id", p.ID))
		}
		seen[p.ID] = struct{}{}

		cp := *p
		copied = append(copied, &cp)
	}

	sort.Slice(copied, func(i, j int) bool { return copied[i].ID < copied[j].ID })
	m.current.Store(newSnapshot(copied))
	return nil
}

// Len returns the number of passages in the current snapshot
func (m *Memory) Len() int {
	return len(m.current.Load().all)
}

// Candidates returns every passage of the domain. Memory scans exhaustively,
// so the caller's scoring sees the whole domain. The returned slice is
// shared with the snapshot and must not be modified.
func (m *Memory) Candidates(ctx context.Context, domain model.Domain, vector []float32, k int) ([]*model.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := m.current.Load()
	if domain == model.DomainGeneral {
		return s.all, nil
	}
	return s.byDomain[domain], nil
}
