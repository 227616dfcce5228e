package polymarket

import (
	"testing"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapGammaMarket_RejectsBadPrices(t *testing.T) {
	cases := map[string]string{
		"vacío":       "",
		"json roto":   "[0.4",
		"tres":        `["0.1","0.2","0.7"]`,
		"fuera rango": `["1.4","-0.4"]`,
	}
	for name, prices := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, ok := mapGammaMarket(gammaMarket{ConditionID: "0x1", Question: "q", OutcomePrices: prices})
			assert.False(t, ok)
		})
	}
}

func TestResolutionFromTokens(t *testing.T) {
	open := clobMarket{Closed: false, Tokens: []clobToken{{Outcome: "Yes", Winner: true}}}
	resolved, _ := resolutionFromTokens(open)
	assert.False(t, resolved, "abierto aunque un token venga marcado")

	pending := clobMarket{Closed: true, Tokens: []clobToken{{Outcome: "Yes"}, {Outcome: "No"}}}
	resolved, _ = resolutionFromTokens(pending)
	assert.False(t, resolved)

	yes := clobMarket{Closed: true, Tokens: []clobToken{{Outcome: "Yes", Winner: true}, {Outcome: "No"}}}
	resolved, side := resolutionFromTokens(yes)
	assert.True(t, resolved)
	assert.Equal(t, domain.SideYes, side)
}
