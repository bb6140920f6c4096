package model_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/maplebond/maplebond/pkg/model"
)

func TestDomainPriority(t *testing.T) {
	domains := model.AllDomains()
	gt.A(t, domains).Length(5)
	for i := 1; i < len(domains); i++ {
		gt.True(t, domains[i-1].Priority() < domains[i].Priority())
	}
	gt.Equal(t, model.Domain("unknown").Priority(), 5)
}

func TestParseDomain(t *testing.T) {
	d, err := model.ParseDomain("jobsearch")
	gt.NoError(t, err)
	gt.Equal(t, d, model.DomainJobSearch)

	_, err = model.ParseDomain("housing")
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestDomainMatches(t *testing.T) {
	gt.True(t, model.DomainGeneral.Matches(model.DomainLife))
	gt.True(t, model.DomainLife.Matches(model.DomainLife))
	gt.False(t, model.DomainLife.Matches(model.DomainEducation))
}

func TestCodeOf(t *testing.T) {
	stageErr := &model.StageError{Stage: model.StageEmbedded, Err: model.ErrEmbeddingService}
	gt.Equal(t, model.CodeOf(stageErr), model.CodeEmbeddingUnavailable)
	gt.Equal(t, model.CodeOf(nil), model.CodeNone)
	gt.Equal(t, model.CodeOf(errors.New("boom")), model.CodeInternal)
	gt.S(t, model.FallbackMessage(model.CodeContentRejected)).Contains("can't help")
	gt.Equal(t, model.FallbackMessage("unknown"), model.FallbackMessage(model.CodeInternal))
}
