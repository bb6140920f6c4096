// Package classifier routes a user query to one of the consultation domains.
package classifier

import (
	"context"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/utils/logging"
)

const (
	// historyDecay is the factor applied per turn of age to phrases matched in history
	historyDecay = 0.5

	// continuityBonus goes to the domain of the last turn when the query itself
	// matches nothing, so short follow-ups stay in the same domain
	continuityBonus = 0.25
)

// Classifier is a deterministic lexical domain classifier. It is safe for concurrent use.
type Classifier struct {
	exemplars *Exemplars
	threshold float64
	maxTurns  int
	policy    *Policy
}

type Option func(*Classifier)

// WithExemplars replaces the built-in exemplar set
func WithExemplars(ex *Exemplars) Option {
	return func(c *Classifier) {
		c.exemplars = ex
	}
}

// WithPolicy installs a routing policy that may override the lexical decision
func WithPolicy(p *Policy) Option {
	return func(c *Classifier) {
		c.policy = p
	}
}

func New(cfg model.Config, opts ...Option) *Classifier {
	c := &Classifier{
		threshold: cfg.ConfidenceThreshold,
		maxTurns:  cfg.HistoryWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exemplars == nil {
		c.exemplars = DefaultExemplars()
	}
	return c
}

// Scores returns the confidence in [0,1) of every routable domain
func (c *Classifier) Scores(query string, recent []model.Turn) map[model.Domain]float64 {
	raw := c.rawScores(tokenize(query), c.recentWindow(recent))

	scores := make(map[model.Domain]float64, len(raw))
	for domain, r := range raw {
		scores[domain] = confidence(r)
	}
	return scores
}

// Classify returns the domain of query. The highest confidence wins when it
// reaches the threshold, with ties going to the higher priority domain;
// otherwise the query is general.
func (c *Classifier) Classify(ctx context.Context, query string, recent []model.Turn) (model.Domain, error) {
	if strings.TrimSpace(query) == "" {
		return "", goerr.Wrap(model.ErrInvalidInput, "query is empty")
	}

	tokens := tokenize(query)
	history := c.recentWindow(recent)
	raw := c.rawScores(tokens, history)

	candidate := model.DomainGeneral
	best := 0.0
	for _, domain := range model.AllDomains() {
		if domain == model.DomainGeneral {
			continue
		}
		// AllDomains is in priority order, so a strict comparison keeps the higher priority on ties
		if r := raw[domain]; r > best {
			best = r
			candidate = domain
		}
	}
	if best == 0 || confidence(best) < c.threshold {
		candidate = model.DomainGeneral
	}

	if c.policy != nil {
		routed, ok, err := c.policy.Route(ctx, newPolicyInput(query, tokens, raw, candidate, history))
		if err != nil {
			logging.From(ctx).Warn("routing policy failed, keeping lexical decision",
				"error", err, "candidate", candidate)
		} else if ok {
			logging.From(ctx).Debug("routing policy overrode domain",
				"candidate", candidate, "domain", routed)
			candidate = routed
		}
	}

	return candidate, nil
}

func (c *Classifier) recentWindow(recent []model.Turn) []model.Turn {
	if c.maxTurns >= 0 && len(recent) > c.maxTurns {
		return recent[len(recent)-c.maxTurns:]
	}
	return recent
}

// rawScores sums matched exemplar weights of the query and of decayed history
func (c *Classifier) rawScores(tokens []string, history []model.Turn) map[model.Domain]float64 {
	raw := make(map[model.Domain]float64)
	matchedQuery := false

	for _, domain := range model.AllDomains() {
		if domain == model.DomainGeneral {
			continue
		}
		s := c.exemplars.match(domain, tokens)
		if s > 0 {
			matchedQuery = true
		}

		for i, turn := range history {
			age := len(history) - i
			if m := c.exemplars.match(domain, tokenize(turn.Query)); m > 0 {
				s += m * math.Pow(historyDecay, float64(age))
			}
		}
		raw[domain] = s
	}

	if !matchedQuery && len(history) > 0 {
		last := history[len(history)-1].Domain
		if _, ok := raw[last]; ok {
			raw[last] += continuityBonus
		}
	}

	return raw
}

func confidence(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + 1)
}
