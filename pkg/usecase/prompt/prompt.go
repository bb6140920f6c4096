// Package prompt renders domain specific prompts from markdown templates.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"io/fs"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
)

//go:embed templates/*.md
var embeddedTemplates embed.FS

const (
	personaFile = "persona.md"

	systemTemplate = "system"
	userTemplate   = "user"
)

type templateData struct {
	Domain     model.Domain
	Context    string
	HasContext bool
	Query      string
}

// Builder renders prompts with one template per domain. Every domain template
// file defines a "system" and a "user" template and may use the shared
// "persona" template.
type Builder struct {
	templates map[model.Domain]*template.Template
}

// New builds a Builder from the built-in templates
func New() (*Builder, error) {
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open built-in templates")
	}
	return NewFromFS(sub)
}

// NewFromFS builds a Builder from <domain>.md files in fsys. A domain without
// a file is left unregistered, which Validate reports.
func NewFromFS(fsys fs.FS) (*Builder, error) {
	persona, err := fs.ReadFile(fsys, personaFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(err, "failed to read persona template")
	}

	b := &Builder{templates: make(map[model.Domain]*template.Template)}
	for _, domain := range model.AllDomains() {
		name := string(domain) + ".md"
		raw, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read template", goerr.V("file", name))
		}

		tmpl := template.New(string(domain)).Option("missingkey=error")
		if persona != nil {
			if tmpl, err = tmpl.Parse(string(persona)); err != nil {
				return nil, goerr.Wrap(err, "failed to parse persona template")
			}
		}
		if tmpl, err = tmpl.Parse(string(raw)); err != nil {
			return nil, goerr.Wrap(err, "failed to parse template", goerr.V("file", name))
		}
		b.templates[domain] = tmpl
	}

	return b, nil
}

// Validate checks that every domain has a template that renders
func (b *Builder) Validate() error {
	sample := &model.GroundingContext{Text: "[1] sample passage"}
	for _, domain := range model.AllDomains() {
		if _, err := b.lookup(domain); err != nil {
			return err
		}
		if _, err := b.Build(domain, sample, "sample question"); err != nil {
			return goerr.Wrap(model.ErrTemplateMissing, "template cannot be rendered",
				goerr.V("domain", domain), goerr.V("cause", err.Error()))
		}
	}
	return nil
}

func (b *Builder) lookup(domain model.Domain) (*template.Template, error) {
	tmpl, ok := b.templates[domain]
	if !ok {
		return nil, goerr.Wrap(model.ErrTemplateMissing, "no template for domain", goerr.V("domain", domain))
	}
	for _, name := range []string{systemTemplate, userTemplate} {
		if tmpl.Lookup(name) == nil {
			return nil, goerr.Wrap(model.ErrTemplateMissing, "template is incomplete",
				goerr.V("domain", domain), goerr.V("missing", name))
		}
	}
	return tmpl, nil
}

// Build renders the prompt of a query in domain with its grounding context
func (b *Builder) Build(domain model.Domain, gc *model.GroundingContext, query string) (*model.PromptPayload, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "query is empty")
	}

	tmpl, err := b.lookup(domain)
	if err != nil {
		return nil, err
	}

	data := templateData{
		Domain: domain,
		Query:  query,
	}
	if gc != nil && gc.Text != "" {
		data.Context = gc.Text
		data.HasContext = true
	}

	system, err := render(tmpl, systemTemplate, data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to render system prompt", goerr.V("domain", domain))
	}
	user, err := render(tmpl, userTemplate, data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to render user prompt", goerr.V("domain", domain))
	}

	return &model.PromptPayload{
		Domain: domain,
		System: system,
		Messages: []model.Message{
			{Role: model.RoleUser, Text: user},
		},
	}, nil
}

func render(tmpl *template.Template, name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
