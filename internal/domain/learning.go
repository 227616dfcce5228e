package domain

import "time"

// Outcome une un Forecast con el resultado realizado de su mercado.
type Outcome struct {
	ID            int64
	MarketID      string
	ForecastID    int64
	Model         string
	PromptVersion string
	Domain        Domain
	Predicted     float64
	Actual        float64 // 1 = YES, 0 = NO
	Brier         float64
	Entropy       float64
	EntropySource EntropySource
	ResolvedAt    time.Time
}

// CalibrationState es el estado de calibración por (dominio, modelo).
type CalibrationState struct {
	Domain           Domain
	Model            string
	BrierScore       float64
	ResolvedCount    int
	DomainWeight     float64
	EntropyThreshold float64 // 0 = sin override, usar el global
	Alert            bool
	UpdatedAt        time.Time
}

// ModelWeight es el peso agregado de un modelo en el ensemble.
type ModelWeight struct {
	Model         string
	Weight        float64
	RollingBrier  float64
	ResolvedCount int
	Killed        bool
	UpdatedAt     time.Time
}

// PromptExperiment es una variante de prompt en el torneo A/B.
type PromptExperiment struct {
	Version   string
	Domain    Domain // vacío = global
	Template  string
	Trials    int
	Wins      int
	MeanBrier float64
	Active    bool
	Parent    string
	CreatedAt time.Time
}

// Snapshot es la vista inmutable de pesos y umbrales que usa un run del pipeline.
// Se lee una vez al empezar; lo que escriba el loop de calibración entra en el siguiente run.
type Snapshot struct {
	ModelWeights  map[string]float64
	DomainWeights map[Domain]map[string]float64
	Thresholds    map[Domain]float64
	TakenAt       time.Time
}

// NewSnapshot devuelve un Snapshot vacío con los mapas inicializados.
func NewSnapshot() Snapshot {
	return Snapshot{
		ModelWeights:  make(map[string]float64),
		DomainWeights: make(map[Domain]map[string]float64),
		Thresholds:    make(map[Domain]float64),
	}
}

// ModelWeight devuelve el peso del modelo. Un modelo sin historial (ausente)
// pesa 1; el ensemble renormaliza igual.
func (s Snapshot) ModelWeight(model string) float64 {
	if w, ok := s.ModelWeights[model]; ok {
		return w
	}
	if len(s.ModelWeights) == 0 {
		return 1
	}
	// Hay pesos calculados pero este modelo no tiene: modelo nuevo, peso neutro
	// igual a la media para no dominar ni desaparecer.
	var sum float64
	var n int
	for _, w := range s.ModelWeights {
		if w > 0 {
			sum += w
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// DomainWeight devuelve el multiplicador de (dominio, modelo); 1.0 sin calibración.
func (s Snapshot) DomainWeight(d Domain, model string) float64 {
	if byModel, ok := s.DomainWeights[d]; ok {
		if w, ok := byModel[model]; ok {
			return w
		}
	}
	return 1.0
}

// Threshold devuelve τ del dominio o fallback si no hay override.
func (s Snapshot) Threshold(d Domain, fallback float64) float64 {
	if t, ok := s.Thresholds[d]; ok && t > 0 {
		return t
	}
	return fallback
}
