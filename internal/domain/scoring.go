package domain

import "math"

// BrierScore es el error cuadrático de una predicción binaria.
//
// Fórmula: B = (p - a)²
//   - p: probabilidad predicha de YES
//   - a: 1 si resolvió YES, 0 si NO
//
// 0 es perfecto; 0.25 es lo que saca alguien que siempre dice 50%.
func BrierScore(predicted, actual float64) float64 {
	d := predicted - actual
	return d * d
}

// MeanBrier devuelve la media de los Brier dados, o NaN si no hay datos.
func MeanBrier(scores []float64) float64 {
	if len(scores) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// KellyParams son los límites de sizing.
type KellyParams struct {
	Fraction       float64 // multiplicador de Kelly fraccional, ej. 0.25
	MaxPositionPct float64 // cap absoluto como fracción del bankroll, ej. 0.05
}

// KellySizing es el detalle del cálculo de tamaño.
type KellySizing struct {
	Raw        float64 // f* completo
	Fractional float64 // f* × Fraction
	Applied    float64 // min(Fractional, MaxPositionPct)
	Size       float64 // Applied × bankroll, en USD
	CapBinds   bool
}

// Kelly calcula el tamaño de la posición para un contrato binario.
//
// Fórmula:
//
//	f*      = edge / (price × (1 − price))
//	applied = min(f* × fraction, maxPositionPct)
//	size    = applied × bankroll
//
// price es el precio del lado que se compra y edge la ventaja sobre ese lado.
// Un f* negativo es un bug del llamador (nunca se debería dimensionar un edge negativo).
func Kelly(edge, price, bankroll float64, p KellyParams) (KellySizing, error) {
	if price <= 0 || price >= 1 || bankroll <= 0 {
		return KellySizing{}, nil
	}
	raw := edge / (price * (1 - price))
	if raw < 0 || math.IsNaN(raw) {
		return KellySizing{Raw: raw}, ErrNegativeKelly
	}
	fractional := raw * p.Fraction
	applied := fractional
	capBinds := false
	if p.MaxPositionPct > 0 && applied > p.MaxPositionPct {
		applied = p.MaxPositionPct
		capBinds = true
	}
	return KellySizing{
		Raw:        raw,
		Fractional: fractional,
		Applied:    applied,
		Size:       applied * bankroll,
		CapBinds:   capBinds,
	}, nil
}

// DomainWeightFor mapea el Brier rolling de (dominio, modelo) a su multiplicador.
// Función escalonada monótona: menor Brier, mayor peso. Por encima de 0.28
// el peso cae a 0.3 y se levanta una alerta.
func DomainWeightFor(brier float64) (weight float64, alert bool) {
	switch {
	case brier < 0.15:
		return 1.5, false
	case brier < 0.20:
		return 1.2, false
	case brier < 0.25:
		return 1.0, false
	case brier < 0.28:
		return 0.7, false
	default:
		return 0.3, true
	}
}
