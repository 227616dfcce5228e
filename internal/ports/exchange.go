package ports

import (
	"context"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// Exchange es el contrato que el core espera de un venue de mercados binarios.
// El core no conoce el protocolo de cada exchange.
type Exchange interface {
	// Name identifica el exchange; forma parte de la identidad del mercado.
	Name() domain.Exchange

	// ListMarkets devuelve los mercados abiertos que el exchange lista.
	ListMarkets(ctx context.Context) ([]domain.RawMarket, error)

	// GetPrice devuelve el precio YES actual en [0,1].
	GetPrice(ctx context.Context, externalID string) (float64, error)

	// GetResolution devuelve si el mercado resolvió y con qué outcome.
	GetResolution(ctx context.Context, externalID string) (resolved bool, outcome domain.Side, err error)

	// PlaceOrder compra size USD del lado dado con precio límite limitPrice.
	// Solo se debe confirmar la posición si FillResult.Confirmed es true.
	PlaceOrder(ctx context.Context, externalID string, side domain.Side, size, limitPrice float64) (domain.FillResult, error)
}
