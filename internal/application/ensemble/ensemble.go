// Package ensemble combina los resultados por modelo en una sola estimación.
// Es puro: no hace I/O ni lee estado fuera de sus argumentos.
package ensemble

import (
	"math"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// Aggregate decide qué entropía se compara contra τ.
type Aggregate string

const (
	AggregateMin          Aggregate = "min"           // la del contribuyente más seguro
	AggregateWeightedMean Aggregate = "weighted_mean" // media ponderada por peso
)

// Config del agregador.
type Config struct {
	DefaultThreshold float64 // τ global si el dominio no tiene override
	Aggregate        Aggregate
}

// Combine agrega los resultados de un mercado.
//
// Peso de cada modelo = ModelWeight × DomainWeight(dominio, modelo), renormalizado
// sobre los modelos que devolvieron resultado; las abstenciones no votan.
// La probabilidad es la media ponderada. El tier compara la entropía agregada
// contra τ del dominio.
//
// La entropía proxy no se mezcla con la de logprobs: si hay algún contribuyente
// con logprobs solo cuentan esos. Si todos son proxy, el tier no pasa de MEDIUM.
func Combine(results []domain.ModelResult, snap domain.Snapshot, d domain.Domain, cfg Config) domain.EnsembleForecast {
	out := domain.EnsembleForecast{
		Weights:   make(map[string]float64),
		Threshold: snap.Threshold(d, cfg.DefaultThreshold),
	}

	var total float64
	for _, r := range results {
		switch res := r.(type) {
		case domain.Success:
			w := snap.ModelWeight(res.Model) * snap.DomainWeight(d, res.Model)
			if w <= 0 || math.IsNaN(w) {
				continue
			}
			out.Weights[res.Model] = w
			out.Contributor = append(out.Contributor, res)
			total += w
		case domain.Abstained:
			out.Abstentions++
		}
	}
	if total <= 0 {
		out.Confidence = domain.ConfidenceLow
		out.Entropy = math.NaN()
		return out
	}

	var prob float64
	for _, c := range out.Contributor {
		out.Weights[c.Model] /= total
		prob += out.Weights[c.Model] * c.Probability
	}
	out.Probability = min(max(prob, 0), 1)

	entropies, weights, proxyOnly := entropySet(out.Contributor, out.Weights)
	out.ProxyOnly = proxyOnly
	out.Entropy = aggregate(entropies, weights, cfg.Aggregate)
	out.Confidence = domain.Tier(out.Entropy, out.Threshold)
	if proxyOnly && out.Confidence == domain.ConfidenceHigh {
		out.Confidence = domain.ConfidenceMedium
	}
	return out
}

func entropySet(contributors []domain.Success, weights map[string]float64) (hs, ws []float64, proxyOnly bool) {
	for _, c := range contributors {
		if c.EntropySource == domain.EntropyLogprobs {
			hs = append(hs, c.Entropy)
			ws = append(ws, weights[c.Model])
		}
	}
	if len(hs) > 0 {
		return hs, ws, false
	}
	for _, c := range contributors {
		hs = append(hs, c.Entropy)
		ws = append(ws, weights[c.Model])
	}
	return hs, ws, true
}

func aggregate(hs, ws []float64, mode Aggregate) float64 {
	if mode == AggregateWeightedMean {
		var sum, wsum float64
		for i, h := range hs {
			sum += h * ws[i]
			wsum += ws[i]
		}
		if wsum > 0 {
			return sum / wsum
		}
	}
	m := hs[0]
	for _, h := range hs[1:] {
		m = min(m, h)
	}
	return m
}

// MinDomainWeight devuelve el menor domain_weight entre los contribuyentes;
// 0 si no hay ninguno.
func MinDomainWeight(e domain.EnsembleForecast, snap domain.Snapshot, d domain.Domain) float64 {
	if len(e.Contributor) == 0 {
		return 0
	}
	m := math.Inf(1)
	for _, c := range e.Contributor {
		m = min(m, snap.DomainWeight(d, c.Model))
	}
	return m
}
