package domain

import "strings"

// Domain es el área temática de un mercado.
type Domain string

const (
	DomainGeopolitics   Domain = "geopolitics"
	DomainPolitics      Domain = "politics"
	DomainTechnology    Domain = "technology"
	DomainEntertainment Domain = "entertainment"
	DomainFinance       Domain = "finance"
	DomainSports        Domain = "sports"

	// DefaultDomain se usa cuando el clasificador no puede decidir.
	DefaultDomain = DomainPolitics
)

// AllDomains lista los dominios en orden de precisión histórica de los LLMs (desc).
var AllDomains = []Domain{
	DomainGeopolitics,
	DomainPolitics,
	DomainTechnology,
	DomainEntertainment,
	DomainFinance,
	DomainSports,
}

// DomainDefinitions se usa para construir el prompt del clasificador.
var DomainDefinitions = map[Domain]string{
	DomainGeopolitics:   "International relations, wars, conflicts, treaties, sanctions, foreign policy",
	DomainPolitics:      "Domestic elections, legislation, political figures, government policy",
	DomainTechnology:    "Tech companies, products, AI/ML, software releases, startups",
	DomainEntertainment: "Movies, TV, celebrities, awards, music",
	DomainFinance:       "Stock markets, economic indicators, company earnings, crypto prices, central banks",
	DomainSports:        "Game scores, championships, player transfers, athletic performance",
}

// ParseDomain devuelve el dominio si s es uno de los válidos.
func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllDomains {
		if d == known {
			return d, true
		}
	}
	return "", false
}

// Valid devuelve true si d pertenece al conjunto cerrado de dominios.
func (d Domain) Valid() bool {
	_, ok := ParseDomain(string(d))
	return ok
}
