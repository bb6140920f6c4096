package grounding_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/m-mizutani/gt"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/usecase/grounding"
)

func result(passages ...*model.Passage) *model.RetrievalResult {
	r := &model.RetrievalResult{}
	for i, p := range passages {
		r.Passages = append(r.Passages, model.ScoredPassage{Passage: p, Score: 1 - float64(i)*0.1})
	}
	return r
}

var (
	permit = &model.Passage{
		ID:     "p1",
		Domain: model.DomainImmigration,
		Title:  "Study permit",
		Text:   "Apply online with a letter of acceptance from a designated learning institution.",
	}
	biometrics = &model.Passage{
		ID:     "p2",
		Domain: model.DomainImmigration,
		Text:   "Most applicants must give biometrics.",
	}
	history = []model.Turn{
		{Index: 1, Query: "first question", Answer: "first answer"},
		{Index: 2, Query: "second question", Answer: "second answer"},
		{Index: 3, Query: "third question", Answer: "third answer"},
	}
)

func TestAssembleFormat(t *testing.T) {
	gc := grounding.New().Assemble(result(permit, biometrics), history[2:], 10000)

	gt.Equal(t, gc.Text, "[1] Study permit\n"+permit.Text+
		"\n\n[2] "+biometrics.Text+
		"\n\nUser: third question\nAssistant: third answer")
	gt.A(t, gc.Passages).Length(2)
	gt.A(t, gc.Turns).Length(1)
}

func TestAssembleKeepsNewestTurnsOldestFirst(t *testing.T) {
	// room for the passage and exactly two turns
	passageSize := utf8.RuneCountInString("[1] " + biometrics.Text)
	thirdSize := utf8.RuneCountInString("User: third question\nAssistant: third answer")
	secondSize := utf8.RuneCountInString("User: second question\nAssistant: second answer")
	budget := passageSize + 2 + thirdSize + 2 + secondSize

	gc := grounding.New().Assemble(result(biometrics), history, budget)

	gt.A(t, gc.Turns).Length(2)
	gt.Equal(t, gc.Turns[0].Index, 2)
	gt.Equal(t, gc.Turns[1].Index, 3)
	gt.True(t, strings.Index(gc.Text, "second question") < strings.Index(gc.Text, "third question"))
	gt.S(t, gc.Text).NotContains("first question")
	gt.True(t, utf8.RuneCountInString(gc.Text) <= budget)
}

func TestAssembleStopsAtFirstPassageThatOverflows(t *testing.T) {
	budget := utf8.RuneCountInString("[1] Study permit\n"+permit.Text) + 5
	gc := grounding.New().Assemble(result(permit, biometrics), nil, budget)

	gt.A(t, gc.Passages).Length(1)
	gt.S(t, gc.Text).NotContains("biometrics")
}

func TestAssembleNeverExceedsBudget(t *testing.T) {
	a := grounding.New()
	for budget := 1; budget <= 400; budget++ {
		gc := a.Assemble(result(permit, biometrics), history, budget)
		n := utf8.RuneCountInString(gc.Text)
		if n > budget {
			t.Fatalf("budget %d exceeded: %d", budget, n)
		}
		if n == 0 {
			t.Fatalf("empty context for budget %d", budget)
		}
	}
}

func TestAssembleTruncatesBestPassage(t *testing.T) {
	a := grounding.New()

	t.Run("at a word boundary", func(t *testing.T) {
		gc := a.Assemble(result(permit), nil, 30)
		gt.Equal(t, gc.Text, "[1] Study permit\nApply online")
		gt.A(t, gc.Passages).Length(1)
	})

	t.Run("title dropped before text", func(t *testing.T) {
		gc := a.Assemble(result(permit), nil, 16)
		gt.Equal(t, gc.Text, "[1] Apply online")
		gt.S(t, gc.Text).NotContains("Study")
		gt.A(t, gc.Passages).Length(1)
	})

	t.Run("marker dropped before text", func(t *testing.T) {
		gc := a.Assemble(result(permit), nil, 5)
		gt.Equal(t, gc.Text, "[1] A")

		gc = a.Assemble(result(permit), history, 3)
		gt.Equal(t, gc.Text, "App")
		gt.A(t, gc.Turns).Length(0)
	})

	t.Run("single character budget", func(t *testing.T) {
		gc := a.Assemble(result(permit), history, 1)
		gt.Equal(t, gc.Text, "A")
		gt.A(t, gc.Turns).Length(0)
	})

	t.Run("multibyte text is cut on runes", func(t *testing.T) {
		p := &model.Passage{ID: "jp", Domain: model.DomainLife, Text: "銀行口座の開設には在留カードが必要です"}
		gc := a.Assemble(result(p), nil, 8)
		gt.Equal(t, gc.Text, "[1] 銀行口座")
	})
}

func TestAssembleWithoutPassages(t *testing.T) {
	a := grounding.New()

	gc := a.Assemble(&model.RetrievalResult{Empty: true}, history, 10000)
	gt.A(t, gc.Passages).Length(0)
	gt.A(t, gc.Turns).Length(3)
	gt.True(t, strings.HasPrefix(gc.Text, "User: first question"))

	gc = a.Assemble(nil, nil, 100)
	gt.Equal(t, gc.Text, "")

	gc = a.Assemble(result(permit), history, 0)
	gt.Equal(t, gc.Text, "")
}

func TestAssembleDeterministic(t *testing.T) {
	a := grounding.New()
	x := a.Assemble(result(permit, biometrics), history, 150)
	y := a.Assemble(result(permit, biometrics), history, 150)
	gt.Equal(t, x.Text, y.Text)
}
