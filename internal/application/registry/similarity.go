package registry

import (
	"sort"
	"strings"
	"unicode"

	"github.com/adrg/strutil/metrics"
)

// indel: sustituir cuesta lo mismo que borrar + insertar.
var indel = &metrics.Levenshtein{
	CaseSensitive: true,
	InsertCost:    1,
	DeleteCost:    1,
	ReplaceCost:   2,
}

// Normalize pasa a minúsculas, quita puntuación y colapsa espacios.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// sortedTokens devuelve los tokens normalizados ordenados, unidos por espacio.
func sortedTokens(s string) string {
	toks := strings.Fields(Normalize(s))
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// TokenSortRatio es la similitud 0-100 entre dos preguntas, insensible al
// orden de las palabras: ratio de indel sobre los tokens ordenados.
func TokenSortRatio(a, b string) float64 {
	return ratio(sortedTokens(a), sortedTokens(b))
}

// ratio normaliza por la suma de longitudes; metrics.Levenshtein.Compare lo
// hace por la mayor y no da el mismo número.
func ratio(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}
	d := indel.Distance(a, b)
	return 100 * float64(total-d) / float64(total)
}
