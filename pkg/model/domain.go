package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// Domain is the consultation category a query is routed into
type Domain string

const (
	DomainImmigration Domain = "immigration"
	DomainLife        Domain = "life"
	DomainEducation   Domain = "education"
	DomainJobSearch   Domain = "jobsearch"
	DomainGeneral     Domain = "general"
)

// domainPriority is the tie-break order; lower value wins
var domainPriority = map[Domain]int{
	DomainImmigration: 0,
	DomainLife:        1,
	DomainEducation:   2,
	DomainJobSearch:   3,
	DomainGeneral:     4,
}

// AllDomains returns every domain in priority order
func AllDomains() []Domain {
	return []Domain{
		DomainImmigration,
		DomainLife,
		DomainEducation,
		DomainJobSearch,
		DomainGeneral,
	}
}

// Priority returns the tie-break rank of the domain. Unknown domains rank last.
func (d Domain) Priority() int {
	if p, ok := domainPriority[d]; ok {
		return p
	}
	return len(domainPriority)
}

// Validate checks if the domain is one of the closed set
func (d Domain) Validate() error {
	if _, ok := domainPriority[d]; !ok {
		return goerr.Wrap(ErrInvalidInput, "unknown domain", goerr.V("domain", d))
	}
	return nil
}

// Matches reports whether a passage tagged with tag is eligible for a query in d.
// General matches everything.
func (d Domain) Matches(tag Domain) bool {
	return d == DomainGeneral || d == tag
}

func (d Domain) String() string {
	return string(d)
}

// ParseDomain converts a string into a Domain
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if err := d.Validate(); err != nil {
		return "", err
	}
	return d, nil
}
