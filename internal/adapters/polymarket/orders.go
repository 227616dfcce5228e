package polymarket

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

var _ ports.Exchange = (*Client)(nil)

// PlaceOrder no enruta órdenes: el firmado EIP-712 y el envío al CLOB quedan
// fuera de este adapter. El executor live trata el error como fallo de
// colocación y no toca el portfolio.
func (c *Client) PlaceOrder(_ context.Context, conditionID string, side domain.Side, size, limitPrice float64) (domain.FillResult, error) {
	return domain.FillResult{}, fmt.Errorf("polymarket.PlaceOrder: %s %s %.2f@%.4f: %w",
		conditionID, side, size, limitPrice, domain.ErrLiveTradingUnsupported)
}
