package classifier

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"gopkg.in/yaml.v3"
)

//go:embed exemplars.yaml
var defaultExemplarsRaw []byte

// phrase is a normalised exemplar with its weight
type phrase struct {
	tokens []string
	weight float64
}

// Exemplars holds the weighted phrases of every routable domain
type Exemplars struct {
	phrases map[model.Domain][]phrase
}

// DefaultExemplars returns the built-in exemplar set
func DefaultExemplars() *Exemplars {
	ex, err := ParseExemplars(defaultExemplarsRaw)
	if err != nil {
		panic("built-in exemplars are broken: " + err.Error())
	}
	return ex
}

// LoadExemplars reads an exemplar set from a YAML file
func LoadExemplars(path string) (*Exemplars, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read exemplar file", goerr.V("path", path))
	}
	ex, err := ParseExemplars(data)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid exemplar file", goerr.V("path", path))
	}
	return ex, nil
}

// ParseExemplars decodes a YAML mapping of domain to phrase weights
func ParseExemplars(data []byte) (*Exemplars, error) {
	var raw map[string]map[string]float64
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, goerr.Wrap(err, "failed to parse exemplars")
	}

	ex := &Exemplars{phrases: make(map[model.Domain][]phrase)}
	for name, entries := range raw {
		domain, err := model.ParseDomain(name)
		if err != nil {
			return nil, err
		}
		if domain == model.DomainGeneral {
			return nil, goerr.Wrap(model.ErrInvalidInput, "general is the fallback and takes no exemplars")
		}

		for text, weight := range entries {
			tokens := tokenize(text)
			if len(tokens) == 0 {
				return nil, goerr.Wrap(model.ErrInvalidInput, "empty exemplar phrase", goerr.V("domain", domain))
			}
			if weight <= 0 {
				return nil, goerr.Wrap(model.ErrInvalidInput, "exemplar weight must be positive",
					goerr.V("domain", domain), goerr.V("phrase", text))
			}
			ex.phrases[domain] = append(ex.phrases[domain], phrase{tokens: tokens, weight: weight})
		}

		// Fixed order keeps floating point sums identical across runs
		sort.Slice(ex.phrases[domain], func(i, j int) bool {
			return strings.Join(ex.phrases[domain][i].tokens, " ") < strings.Join(ex.phrases[domain][j].tokens, " ")
		})
	}

	if len(ex.phrases) == 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "no exemplar is defined")
	}
	return ex, nil
}

// match returns the sum of weights of phrases of domain found in tokens
func (ex *Exemplars) match(domain model.Domain, tokens []string) float64 {
	var score float64
	for _, p := range ex.phrases[domain] {
		if containsSequence(tokens, p.tokens) {
			score += p.weight
		}
	}
	return score
}

// tokenize lower-cases text and splits it on every rune that is not a letter or digit
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(tokens) {
		return false
	}
	for i := 0; i+len(seq) <= len(tokens); i++ {
		matched := true
		for j := range seq {
			if tokens[i+j] != seq[j] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
