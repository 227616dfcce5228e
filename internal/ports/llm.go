package ports

import (
	"context"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// LLM es el colaborador de completions. Logprobs puede venir vacío aunque se
// pidan: hay proveedores que no los exponen.
type LLM interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error)
}

// VariantProposer genera una plantilla de prompt nueva a partir de la mejor variante.
type VariantProposer interface {
	ProposeVariant(ctx context.Context, best domain.PromptExperiment) (string, error)
}
