package domain

import "errors"

// Violaciones de integridad: fatales para la operación, nunca se tragan.
var (
	ErrResolutionConflict = errors.New("market already resolved with a different outcome")
	ErrNegativeCash       = errors.New("portfolio cash would go negative")
	ErrUnconfirmedFill    = errors.New("portfolio update without confirmed fill")
	ErrMarketNotFound     = errors.New("market not found")
)

// Violaciones de lógica/configuración: indican un bug; se aborta la escritura.
var (
	ErrNegativeKelly        = errors.New("kelly fraction computed negative")
	ErrWeightsNotNormalized = errors.New("model weights do not sum to 1")
	ErrInvalidProbability   = errors.New("probability outside [0,1]")
)

// Fallos transitorios: se degradan a abstención o a "sin contexto".
var (
	ErrAbstained              = errors.New("model abstained")
	ErrLiveTradingUnsupported = errors.New("exchange adapter does not route live orders")
)
