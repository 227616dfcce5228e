package domain

import "time"

// ConfidenceTier se deriva de la entropía contra el umbral del dominio.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "HIGH"
	ConfidenceMedium ConfidenceTier = "MEDIUM"
	ConfidenceLow    ConfidenceTier = "LOW"
)

// EntropySource indica de dónde sale la entropía de un resultado.
// EntropyProxy es una señal heurística de menor fidelidad y nunca se mezcla
// con EntropyLogprobs sin saberlo.
type EntropySource string

const (
	EntropyLogprobs EntropySource = "logprobs"
	EntropyProxy    EntropySource = "proxy"
)

// Forecast es una fila inmutable: una estimación de un modelo para un mercado en un run.
type Forecast struct {
	ID                  int64
	MarketID            string
	RunID               string
	Model               string
	PromptVersion       string
	Domain              Domain
	Probability         float64
	Entropy             float64
	EntropySource       EntropySource
	EnsembleProbability float64
	Confidence          ConfidenceTier
	NewsUsed            bool
	Reasoning           string
	CreatedAt           time.Time
}

// ModelResult es el resultado por modelo de una llamada de forecast.
// Es una variante cerrada: Success o Abstained.
type ModelResult interface {
	ModelID() string
	isModelResult()
}

// Success es un forecast válido de un modelo.
type Success struct {
	Model         string
	PromptVersion string
	Probability   float64
	Entropy       float64
	EntropySource EntropySource
	Reasoning     string
	TokensIn      int
	TokensOut     int
	CostUSD       float64
	Latency       time.Duration
}

// Abstained es un modelo que no produjo resultado (timeout, error, salida ilegible).
// Pesa 0 en el ensemble; no cuenta como voto.
type Abstained struct {
	Model         string
	PromptVersion string
	Reason        string
	TokensIn      int
	TokensOut     int
	CostUSD       float64
}

func (s Success) ModelID() string   { return s.Model }
func (a Abstained) ModelID() string { return a.Model }
func (Success) isModelResult()      {}
func (Abstained) isModelResult()    {}

// Successes filtra los resultados válidos.
func Successes(results []ModelResult) []Success {
	out := make([]Success, 0, len(results))
	for _, r := range results {
		if s, ok := r.(Success); ok {
			out = append(out, s)
		}
	}
	return out
}

// EnsembleForecast es la salida pura del agregador.
type EnsembleForecast struct {
	Probability float64
	Confidence  ConfidenceTier
	Entropy     float64 // entropía agregada usada para el tier
	Threshold   float64 // τ efectivo del dominio
	Weights     map[string]float64
	Contributor []Success
	Abstentions int
	ProxyOnly   bool // ningún contribuyente aportó entropía real
}

// HasContributors devuelve true si al menos un modelo aportó un resultado.
func (e EnsembleForecast) HasContributors() bool {
	return len(e.Contributor) > 0
}

// TokenLogprob es un token de salida con sus alternativas top-K.
type TokenLogprob struct {
	Token       string
	Logprob     float64
	TopLogprobs []float64 // incluye el token elegido
}

// Completion es la respuesta del colaborador LLM.
type Completion struct {
	Text      string
	Logprobs  []TokenLogprob // nil si el proveedor no los expone
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// LLMCost es una fila de contabilidad de gasto en LLM.
type LLMCost struct {
	Model     string
	Purpose   string // forecast | classify | evolve
	MarketID  string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	CreatedAt time.Time
}

// RunReport resume un run del pipeline de forecast.
type RunReport struct {
	RunID       string
	Markets     int
	Succeeded   int
	Abstained   int
	Failed      int
	Trades      int
	Skipped     map[string]int // motivo de bloqueo → conteo
	CostUSD     float64
	StartedAt   time.Time
	CompletedAt time.Time
}

// CompletionRequest es una llamada al colaborador LLM.
type CompletionRequest struct {
	Model        string
	System       string
	Prompt       string
	MaxTokens    int
	Temperature  float64
	WantLogprobs bool
	TopK         int
}

// ModelCost agrega el gasto por modelo.
type ModelCost struct {
	Model     string
	Calls     int
	TokensIn  int
	TokensOut int
	CostUSD   float64
}
