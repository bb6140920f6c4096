package classifier

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Policy is a Rego routing policy evaluated as data.routing. When it defines
// `domain`, that domain replaces the lexical decision.
//
//	package routing
//
//	domain := "life" if {
//		"housing" in input.tokens
//	}
type Policy struct {
	query *rego.PreparedEvalQuery
}

type regoPrintHook struct{}

func (h *regoPrintHook) Print(ctx print.Context, message string) error {
	logging.From(ctx.Context).Debug("routing policy print", "message", message, "location", ctx.Location)
	return nil
}

// LoadPolicy loads all .rego files in dir. It returns nil without error when
// dir has no policy file.
func LoadPolicy(ctx context.Context, dir string) (*Policy, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query("data.routing"))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare routing policy", goerr.V("dir", dir))
	}

	return &Policy{query: &prepared}, nil
}

// Route evaluates the policy. ok is false when the policy leaves the decision unchanged.
func (p *Policy) Route(ctx context.Context, input map[string]any) (domain model.Domain, ok bool, err error) {
	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{}))
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to evaluate routing policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return "", false, nil
	}

	data, isMap := rs[0].Expressions[0].Value.(map[string]any)
	if !isMap {
		return "", false, goerr.New("routing policy result is not an object")
	}
	raw, defined := data["domain"]
	if !defined {
		return "", false, nil
	}

	name, isString := raw.(string)
	if !isString {
		return "", false, goerr.New("routing policy domain is not a string", goerr.V("domain", raw))
	}
	domain, err = model.ParseDomain(name)
	if err != nil {
		return "", false, goerr.Wrap(err, "routing policy returned unknown domain")
	}
	return domain, true, nil
}

func newPolicyInput(query string, tokens []string, raw map[model.Domain]float64, candidate model.Domain, history []model.Turn) map[string]any {
	tokenList := make([]any, 0, len(tokens))
	for _, t := range tokens {
		tokenList = append(tokenList, t)
	}

	scores := make(map[string]any, len(raw))
	for domain, r := range raw {
		scores[string(domain)] = confidence(r)
	}

	turns := make([]any, 0, len(history))
	for _, turn := range history {
		turns = append(turns, map[string]any{
			"index":  turn.Index,
			"query":  turn.Query,
			"domain": string(turn.Domain),
		})
	}

	return map[string]any{
		"query":     query,
		"tokens":    tokenList,
		"scores":    scores,
		"candidate": string(candidate),
		"history":   turns,
	}
}
