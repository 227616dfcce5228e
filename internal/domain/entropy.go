package domain

// entropy.go: entropía de Shannon como señal de confianza.
//
// Con logprobs: media por token de H = -Σ p_i log2 p_i sobre el top-K
// renormalizado de los tokens de la respuesta (los dígitos de la probabilidad).
// Sin logprobs: proxy heurístico a partir del texto. Son escalas distintas y
// cada resultado lleva su EntropySource.

import (
	"math"
	"strings"
	"unicode"
)

// ProxyMaxEntropy es el techo de la entropía proxy.
const ProxyMaxEntropy = 8.0

var hedgePhrases = []string{
	"i think", "probably", "perhaps", "maybe", "possibly", "uncertain",
	"unclear", "hard to say", "it depends", "might", "could", "likely",
	"not sure", "difficult to predict",
}

var correctionPhrases = []string{
	"actually", "wait,", "on second thought", "correction", "let me reconsider",
	"i was wrong", "revising", "scratch that",
}

// DistributionEntropy calcula la entropía en bits de una distribución top-K dada
// en log-probabilidades naturales. La distribución se renormaliza porque el top-K
// no suele sumar 1. El máximo posible es log2(K).
func DistributionEntropy(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	probs := make([]float64, 0, len(logprobs))
	var total float64
	for _, lp := range logprobs {
		p := math.Exp(lp)
		probs = append(probs, p)
		total += p
	}
	if total <= 0 {
		return 0
	}
	var h float64
	for _, p := range probs {
		p /= total
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	if h < 0 {
		return 0
	}
	return h
}

// AnswerEntropy devuelve la entropía media sobre los tokens de respuesta.
// Prefiere los tokens numéricos (la probabilidad emitida); si no hay, usa todos
// los que traen alternativas. ok=false si ningún token trae top-K.
func AnswerEntropy(tokens []TokenLogprob) (h float64, ok bool) {
	var answer, all []float64
	for _, t := range tokens {
		if len(t.TopLogprobs) < 2 {
			continue
		}
		e := DistributionEntropy(t.TopLogprobs)
		all = append(all, e)
		if isNumericToken(t.Token) {
			answer = append(answer, e)
		}
	}
	src := answer
	if len(src) == 0 {
		src = all
	}
	if len(src) == 0 {
		return 0, false
	}
	var sum float64
	for _, e := range src {
		sum += e
	}
	return sum / float64(len(src)), true
}

func isNumericToken(tok string) bool {
	tok = strings.TrimSpace(tok)
	tok = strings.TrimPrefix(tok, "-")
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

// ProxyEntropy estima la incertidumbre de un texto cuando el proveedor no
// expone logprobs: frecuencia de frases de cobertura, longitud de la cadena
// de razonamiento y auto-correcciones. Devuelve bits en [0, ProxyMaxEntropy].
func ProxyEntropy(text string) float64 {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))
	if words == 0 {
		return ProxyMaxEntropy
	}

	hedges := 0
	for _, p := range hedgePhrases {
		hedges += strings.Count(lower, p)
	}
	corrections := 0
	for _, p := range correctionPhrases {
		corrections += strings.Count(lower, p)
	}

	h := 1.0 + 0.6*float64(hedges) + 0.8*float64(corrections) + math.Min(float64(words)/150, 2.0)
	return math.Min(h, ProxyMaxEntropy)
}

// Tier clasifica la entropía contra τ: HIGH si H < τ, MEDIUM si H < 1.5τ, LOW si no.
func Tier(entropy, threshold float64) ConfidenceTier {
	switch {
	case entropy < threshold:
		return ConfidenceHigh
	case entropy < threshold*1.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
