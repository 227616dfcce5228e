package news

// guards.go: filtros que se aplican al texto recuperado antes del prompt.
//
//   - Rumor anchoring: el lenguaje especulativo se etiqueta, no se borra.
//   - Definition drift: un snippet que no comparte términos con los criterios
//     de resolución se descarta.
//   - Recency bias: instrucción en el prefijo + CheckHeadlineShift tras el ensemble.

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

const speculativeMinHits = 2

var speculative = regexp.MustCompile(`(?i)\b(could|may|might|reportedly|sources say|allegedly|rumou?red|` +
	`anonymous sources?|unconfirmed|expected to|likely to|possible that|potentially|it appears|seems to|considering)\b`)

var (
	quotedTerm     = regexp.MustCompile(`"([^"]+)"`)
	capitalisedRun = regexp.MustCompile(`(?:[A-Z][a-z]+\s){1,3}[A-Z][a-z]+`)
	acronym        = regexp.MustCompile(`\b[A-Z]{2,}[0-9]*\b`)
)

// SpeculativeHits cuenta los marcadores de lenguaje especulativo.
func SpeculativeHits(text string) int {
	return len(speculative.FindAllStringIndex(text, -1))
}

// IsSpeculative devuelve true si el texto tiene al menos dos marcadores.
func IsSpeculative(text string) bool {
	return SpeculativeHits(text) >= speculativeMinHits
}

// KeyTerms extrae frases entre comillas y secuencias de palabras capitalizadas
// de la pregunta, sin duplicados y como mucho cinco.
func KeyTerms(question string) []string {
	var terms []string
	for _, m := range quotedTerm.FindAllStringSubmatch(question, -1) {
		terms = append(terms, m[1])
	}
	terms = append(terms, capitalisedRun.FindAllString(question, -1)...)

	seen := make(map[string]bool)
	out := make([]string, 0, 5)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "will": true, "before": true, "after": true, "with": true,
	"this": true, "that": true, "from": true, "for": true, "are": true, "was": true,
	"has": true, "have": true, "been": true, "market": true, "resolve": true,
	"resolves": true, "yes": true, "otherwise": true, "than": true, "any": true,
	"not": true, "its": true, "their": true, "into": true, "other": true, "what": true,
}

// criteriaTerms son los tokens significativos del texto de resolución:
// palabras de 3+ letras que no son stopwords, más los acrónimos.
func criteriaTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, a := range acronym.FindAllString(text, -1) {
		terms[strings.ToLower(a)] = true
	}
	for _, tok := range tokens(text) {
		if len(tok) >= 3 && !stopwords[tok] {
			terms[tok] = true
		}
	}
	return terms
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Overlap es la fracción de términos de los criterios que aparecen en el snippet.
func Overlap(criteria map[string]bool, snippet string) float64 {
	if len(criteria) == 0 {
		return 1
	}
	seen := make(map[string]bool)
	for _, tok := range tokens(snippet) {
		if criteria[tok] {
			seen[tok] = true
		}
	}
	return float64(len(seen)) / float64(len(criteria))
}

// CheckHeadlineShift limita cuánto puede moverse un forecast respecto al
// anterior cuando el único soporte nuevo es un titular confirmado (o ninguno).
// Devuelve la probabilidad a usar y si se recortó.
func CheckHeadlineShift(prev, next, maxShift float64, nc domain.NewsContext) (float64, bool) {
	if maxShift <= 0 || !nc.Used {
		return next, false
	}
	delta := next - prev
	if math.Abs(delta) <= maxShift {
		return next, false
	}
	if nc.Confirmed() > 1 {
		return next, false
	}
	return prev + math.Copysign(maxShift, delta), true
}
